package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/serviceloop"
)

func newLoop(t *testing.T) *serviceloop.Loop {
	t.Helper()
	loop := serviceloop.New("test")
	loop.Run(true)
	t.Cleanup(loop.Exit)
	return loop
}

func testAddr() bt.Address {
	a, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	return a
}

// Invariant 3: setting a bit arms its timer; clearing cancels it.
func TestPendingTimerPairing(t *testing.T) {
	loop := newLoop(t)
	b := NewPeerBase(loop, testAddr())

	b.SetPending(PendingStart, time.Hour, func() {})
	assert.True(t, b.Pending(PendingStart))
	assert.True(t, b.HasTimer(PendingStart))

	b.ClearPending(PendingStart)
	assert.False(t, b.Pending(PendingStart))
	assert.False(t, b.HasTimer(PendingStart))

	// clearing an unset flag is null-safe
	b.ClearPending(PendingOffloadStop)
	assert.False(t, b.Pending(PendingOffloadStop))
}

func TestPendingFlagsIndependent(t *testing.T) {
	loop := newLoop(t)
	b := NewPeerBase(loop, testAddr())

	b.SetPending(PendingStart, time.Hour, func() {})
	b.SetPending(PendingOffloadStart, time.Hour, func() {})
	b.ClearPending(PendingStart)

	assert.False(t, b.Pending(PendingStart))
	assert.True(t, b.Pending(PendingOffloadStart))
	assert.True(t, b.HasTimer(PendingOffloadStart))
}

func TestTimeoutClearsFlagBeforeCallback(t *testing.T) {
	loop := newLoop(t)
	b := NewPeerBase(loop, testAddr())

	fired := make(chan bool, 1)
	b.SetPending(PendingStop, 10*time.Millisecond, func() {
		fired <- b.Pending(PendingStop)
	})

	select {
	case stillSet := <-fired:
		assert.False(t, stillSet, "flag cleared before the timeout handler runs")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout never fired")
	}
	assert.False(t, b.HasTimer(PendingStop))
}

func TestDestroySilencesTimers(t *testing.T) {
	loop := newLoop(t)
	b := NewPeerBase(loop, testAddr())

	fired := make(chan struct{}, 1)
	b.SetPending(PendingStart, 20*time.Millisecond, func() { fired <- struct{}{} })
	b.Destroy()

	select {
	case <-fired:
		t.Fatal("timer fired after destroy")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, b.Alive())
}

// Property: after any sequence of set/clear operations, a timer-backed
// flag is set exactly when its timer is armed.
func TestPendingPairingProperty(t *testing.T) {
	loop := newLoop(t)

	flags := []PendingFlag{PendingStart, PendingStop, PendingOffloadStart, PendingOffloadStop}
	rapid.Check(t, func(t *rapid.T) {
		b := NewPeerBase(loop, testAddr())
		defer b.Destroy()

		n := rapid.IntRange(1, 20).Draw(t, "ops")
		for i := 0; i < n; i++ {
			f := flags[rapid.IntRange(0, len(flags)-1).Draw(t, "flag")]
			if rapid.Bool().Draw(t, "set") {
				b.SetPending(f, time.Hour, func() {})
			} else {
				b.ClearPending(f)
			}
		}
		for _, f := range flags {
			require.Equal(t, b.Pending(f), b.HasTimer(f), "flag %v", f)
		}
	})
}
