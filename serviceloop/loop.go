/*
Package serviceloop implements the single cooperative worker that serializes
all state-machine work, timers, fd polling, and cross-goroutine posts for the
rest of the core.

Everything else in this module — HSM dispatch, profile state machines,
callback fan-out, IPC handling — executes as a closure run on the Loop's
one reactor goroutine. There is no preemption within the loop: a posted
function, a fired timer, and a ready poll callback never run concurrently
with each other.
*/
package serviceloop

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btsvc/btserviced/btlog"
)

var logger = btlog.Component("serviceloop")

// Loop is a process-wide reactor. The zero value is not usable; construct
// with New.
type Loop struct {
	name string

	mu      sync.Mutex
	posted  []func()
	wake    chan struct{}
	running atomic.Bool

	exitCh  chan struct{}
	readyCh chan struct{}

	polls   map[int]*Poll
	pollsMu sync.Mutex

	timerSeq atomic.Uint64
	loopGoID atomic.Uint64

	hooksMu   sync.Mutex
	initHooks []func()

	workers sync.WaitGroup
}

// New constructs a Loop. Call Run once before arming timers or polls.
func New(name string) *Loop {
	return &Loop{
		name:    name,
		wake:    make(chan struct{}, 1),
		exitCh:  make(chan struct{}),
		readyCh: make(chan struct{}),
		polls:   make(map[int]*Poll),
	}
}

// Init is the idempotent pre-Run hook point; kept as a distinct call (rather
// than folded into New) because profile services register init hooks via
// AddInitProcess before the loop goes live.
func (l *Loop) Init() {}

// AddInitProcess registers a function that runs once, on the loop goroutine,
// before Run's caller is signaled ready.
func (l *Loop) AddInitProcess(fn func()) {
	l.hooksMu.Lock()
	defer l.hooksMu.Unlock()
	l.initHooks = append(l.initHooks, fn)
}

// Run starts the reactor. If ownGoroutine is true, a new goroutine becomes
// the worker and Run returns once that goroutine signals ready; otherwise
// the calling goroutine becomes the worker and Run blocks until Exit.
func (l *Loop) Run(ownGoroutine bool) {
	if ownGoroutine {
		go l.runLoop()
		<-l.readyCh
		return
	}
	l.runLoop()
}

func (l *Loop) runLoop() {
	l.loopGoID.Store(goid())
	l.running.Store(true)

	l.hooksMu.Lock()
	hooks := append([]func(){}, l.initHooks...)
	l.hooksMu.Unlock()
	for _, h := range hooks {
		h()
	}

	close(l.readyCh)
	logger.Info("loop started", "name", l.name)

	for {
		select {
		case <-l.exitCh:
			l.drain()
			l.running.Store(false)
			logger.Info("loop exited", "name", l.name)
			return
		case <-l.wake:
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.posted) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.posted
		l.posted = nil
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
	}
}

// goid parses the current goroutine's id out of the runtime stack header
// ("goroutine N [running]:"). Go exposes no goroutine-id API; comparing ids
// is the one race-free way to detect that PostSync's caller already is the
// reactor goroutine.
func goid() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}

// Post enqueues fn to run on the loop, preserving submission order
// (do_in_service_loop).
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// PostSync enqueues fn and blocks until it has executed
// (do_in_service_loop_sync). Calling PostSync from within a function already
// running on the loop executes fn inline instead of deadlocking.
func (l *Loop) PostSync(fn func()) {
	if l.loopGoID.Load() == goid() {
		fn()
		return
	}
	done := make(chan struct{})
	l.Post(func() {
		fn()
		close(done)
	})
	<-done
}

// Work runs workFn off the loop on a new goroutine, then posts afterFn
// back onto the loop. Work jobs are not cancellable; callers must test
// their own liveness predicate inside afterFn.
func (l *Loop) Work(workFn func(), afterFn func()) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		workFn()
		if afterFn != nil {
			l.Post(afterFn)
		}
	}()
}

// Exit signals the reactor to drain its queue and stop, then waits for
// outstanding Work jobs. It does not wait for the reactor goroutine itself
// to finish, and registered polls are not removed.
func (l *Loop) Exit() {
	close(l.exitCh)
	l.workers.Wait()
}

// Name returns the loop's diagnostic name.
func (l *Loop) Name() string { return l.name }

// Running reports whether the reactor goroutine is currently live.
func (l *Loop) Running() bool { return l.running.Load() }

// GetOSTimestampUS returns a monotonic microsecond timestamp, matching
// get_os_timestamp_us.
func GetOSTimestampUS() int64 {
	return time.Now().UnixMicro()
}

func (l *Loop) String() string {
	return fmt.Sprintf("Loop(%s)", l.name)
}
