package serviceloop

import (
	"sync/atomic"
	"time"
)

// Timer is an armed, possibly repeating, callback scheduled on the loop.
// repeat_ms == 0 means one-shot (timer_no_repeating).
type Timer struct {
	id       uint64
	loop     *Loop
	timer    *time.Timer
	repeat   time.Duration
	cb       func()
	canceled atomic.Bool
}

// Timer arms a callback after timeout, repeating every repeat thereafter
// (repeat == 0 for one-shot). cb always runs on the loop goroutine.
func (l *Loop) Timer(timeout, repeat time.Duration, cb func()) *Timer {
	t := &Timer{
		id:     l.timerSeq.Add(1),
		loop:   l,
		repeat: repeat,
		cb:     cb,
	}
	t.timer = time.AfterFunc(timeout, func() { t.fire() })
	return t
}

// TimerNoRepeating arms a one-shot timer, matching timer_no_repeating.
func (l *Loop) TimerNoRepeating(timeout time.Duration, cb func()) *Timer {
	return l.Timer(timeout, 0, cb)
}

func (t *Timer) fire() {
	if t.canceled.Load() {
		return
	}
	t.loop.Post(func() {
		if t.canceled.Load() {
			return
		}
		t.cb()
		if t.repeat > 0 && !t.canceled.Load() {
			t.timer.Reset(t.repeat)
		}
	})
}

// Cancel is idempotent and safe on a nil *Timer, matching cancel_timer's
// null-safety contract.
func (t *Timer) Cancel() {
	if t == nil {
		return
	}
	t.canceled.Store(true)
	t.timer.Stop()
}
