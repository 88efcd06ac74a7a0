package serviceloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoop(t *testing.T) *Loop {
	t.Helper()
	l := New("test")
	l.Init()
	l.Run(true)
	t.Cleanup(l.Exit)
	return l
}

func TestPostPreservesSubmissionOrder(t *testing.T) {
	l := newLoop(t)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.PostSync(func() {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostSyncBlocksUntilExecuted(t *testing.T) {
	l := newLoop(t)

	ran := false
	l.PostSync(func() { ran = true })
	assert.True(t, ran)
}

func TestPostSyncFromLoopRunsInline(t *testing.T) {
	l := newLoop(t)

	done := make(chan bool, 1)
	l.PostSync(func() {
		// a sync post from the loop itself must not deadlock
		inner := false
		l.PostSync(func() { inner = true })
		done <- inner
	})

	select {
	case inner := <-done:
		assert.True(t, inner)
	case <-time.After(2 * time.Second):
		t.Fatal("nested PostSync deadlocked")
	}
}

func TestTimerOneShot(t *testing.T) {
	l := newLoop(t)

	fired := make(chan struct{}, 4)
	l.TimerNoRepeating(20*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
	select {
	case <-fired:
		t.Fatal("one-shot timer fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimerRepeats(t *testing.T) {
	l := newLoop(t)

	fired := make(chan struct{}, 16)
	timer := l.Timer(10*time.Millisecond, 10*time.Millisecond, func() { fired <- struct{}{} })
	defer timer.Cancel()

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("repeat %d never fired", i)
		}
	}
}

func TestCancelTimerIsNullSafe(t *testing.T) {
	var timer *Timer
	timer.Cancel() // must not panic

	l := newLoop(t)
	armed := l.TimerNoRepeating(50*time.Millisecond, func() { t.Error("cancelled timer fired") })
	armed.Cancel()
	armed.Cancel() // idempotent
	time.Sleep(120 * time.Millisecond)
}

func TestWorkRunsOffLoopThenAfterOnLoop(t *testing.T) {
	l := newLoop(t)

	done := make(chan struct{})
	var workRan bool
	l.Work(func() { workRan = true }, func() {
		assert.True(t, workRan, "after runs once work completed")
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("after-work continuation never ran")
	}
}

func TestRunCallerBlocksUntilReady(t *testing.T) {
	l := New("ready-test")
	l.Run(true)
	defer l.Exit()
	assert.True(t, l.Running())
}

func TestInitHooksRunBeforeReady(t *testing.T) {
	l := New("hooks-test")
	l.Init()

	ran := false
	l.AddInitProcess(func() { ran = true })
	l.Run(true)
	defer l.Exit()

	// Run(true) only returns after the ready signal, which follows the hooks
	assert.True(t, ran)
}

func TestGetOSTimestampUSMonotonicEnough(t *testing.T) {
	a := GetOSTimestampUS()
	time.Sleep(2 * time.Millisecond)
	b := GetOSTimestampUS()
	assert.Greater(t, b, a)
}
