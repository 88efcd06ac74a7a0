package serviceloop

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// PollEvent mirrors the {readable, writable, disconnect, error} event mask.
type PollEvent uint32

const (
	Readable PollEvent = 1 << iota
	Writable
	Disconnect
	Error
)

// Poll watches a file descriptor for readiness, delivering callbacks on the
// loop goroutine.
type Poll struct {
	id       int
	loop     *Loop
	fd       int
	events   PollEvent
	cb       func(PollEvent)
	removed  atomic.Bool
	stopPoll chan struct{}
}

var pollIDs atomic.Int64

// PollFd registers fd for the given event mask. The callback always runs on
// the loop goroutine. It always returns a Poll; fd is not validated.
func (l *Loop) PollFd(fd int, events PollEvent, cb func(PollEvent)) *Poll {
	p := &Poll{
		id:       int(pollIDs.Add(1)),
		loop:     l,
		fd:       fd,
		events:   events,
		cb:       cb,
		stopPoll: make(chan struct{}),
	}

	l.pollsMu.Lock()
	l.polls[p.id] = p
	l.pollsMu.Unlock()

	go p.watch()
	return p
}

// ResetPoll changes the monitored event mask.
func (p *Poll) ResetPoll(events PollEvent) {
	p.events = events
}

// RemovePoll is idempotent; the underlying watcher goroutine stops
// asynchronously once it observes the close signal.
func (l *Loop) RemovePoll(p *Poll) {
	if p == nil || !p.removed.CompareAndSwap(false, true) {
		return
	}
	close(p.stopPoll)
	l.pollsMu.Lock()
	delete(l.polls, p.id)
	l.pollsMu.Unlock()
}

func (p *Poll) watch() {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: pollMask(p.events)}}
	for {
		select {
		case <-p.stopPoll:
			return
		default:
		}

		n, err := unix.Poll(fds, 200)
		if p.removed.Load() {
			return
		}
		if err != nil || n == 0 {
			continue
		}

		re := fds[0].Revents
		var got PollEvent
		if re&unix.POLLIN != 0 {
			got |= Readable
		}
		if re&unix.POLLOUT != 0 {
			got |= Writable
		}
		if re&unix.POLLHUP != 0 {
			got |= Disconnect
		}
		if re&unix.POLLERR != 0 {
			got |= Error
		}
		if got == 0 {
			continue
		}

		fired := got
		p.loop.Post(func() {
			if p.removed.Load() {
				return
			}
			p.cb(fired)
		})

		if got&(Disconnect|Error) != 0 {
			return
		}
		fds[0].Events = pollMask(p.events)
	}
}

func pollMask(e PollEvent) int16 {
	var m int16
	if e&Readable != 0 {
		m |= unix.POLLIN
	}
	if e&Writable != 0 {
		m |= unix.POLLOUT
	}
	return m
}
