package lowenergy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/sal/salfake"
	"github.com/btsvc/btserviced/serviceloop"
	"github.com/btsvc/btserviced/status"
)

func newLoop(t *testing.T) *serviceloop.Loop {
	t.Helper()
	loop := serviceloop.New("le-test")
	loop.Run(true)
	t.Cleanup(loop.Exit)
	return loop
}

// Round-trip law: START → on-start(OK) → STOP → on-stop is the only legal
// sequence.
func TestAdvertiserLifecycle(t *testing.T) {
	loop := newLoop(t)
	stack := salfake.New()
	adv := NewAdvertiser(loop, stack)

	var mu sync.Mutex
	var events []string
	cbs := AdvCallbacks{
		OnStart: func(id uint8, st status.Code) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "start:"+st.String())
		},
		OnStop: func(id uint8) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, "stop")
		},
	}

	// stop before a confirmed start is illegal
	assert.Error(t, adv.Stop(1))

	require.NoError(t, adv.Start(1, []byte{0x02}, cbs))
	assert.Error(t, adv.Stop(1), "stop while still starting is illegal")

	adv.OnStarted(1, status.OK)
	loop.PostSync(func() {})
	require.NoError(t, adv.Stop(1))
	adv.OnStopped(1)
	loop.PostSync(func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start:ok", "stop"}, events)
	assert.False(t, adv.Active(1))
}

// A failed start frees the record exactly once: the set can be restarted,
// and a duplicate failure callback is a no-op.
func TestAdvertiserStartFailureFreesOnce(t *testing.T) {
	loop := newLoop(t)
	stack := salfake.New()
	adv := NewAdvertiser(loop, stack)

	var mu sync.Mutex
	starts := 0
	cbs := AdvCallbacks{OnStart: func(id uint8, st status.Code) {
		mu.Lock()
		defer mu.Unlock()
		starts++
	}}

	require.NoError(t, adv.Start(1, nil, cbs))
	adv.OnStarted(1, status.Fail)
	adv.OnStarted(1, status.Fail) // duplicate completion must be dropped
	loop.PostSync(func() {})

	mu.Lock()
	assert.Equal(t, 1, starts, "failure delivered exactly once")
	mu.Unlock()
	assert.False(t, adv.Active(1), "record freed on failure")

	// slot is reusable after the failure
	require.NoError(t, adv.Start(1, nil, cbs))
}

func TestAdvertiserDuplicateStartRejected(t *testing.T) {
	loop := newLoop(t)
	adv := NewAdvertiser(loop, salfake.New())

	require.NoError(t, adv.Start(1, nil, AdvCallbacks{}))
	assert.Error(t, adv.Start(1, nil, AdvCallbacks{}))
}

func TestScannerLifecycleAndReports(t *testing.T) {
	loop := newLoop(t)
	stack := salfake.New()
	sc := NewScanner(loop, stack)

	var mu sync.Mutex
	var reports []bt.Address
	cbs := ScanCallbacks{
		OnStart: func(st status.Code) {},
		OnReport: func(addr bt.Address, rssi int8, data []byte) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, addr)
		},
	}

	require.NoError(t, sc.Start(nil, cbs))
	assert.Error(t, sc.Start(nil, cbs), "one session at a time")

	addr, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	sc.OnReport(addr, -40, []byte{0x02, 0x01, 0x06})
	loop.PostSync(func() {})
	mu.Lock()
	assert.Empty(t, reports, "reports before start confirmation are dropped")
	mu.Unlock()

	sc.OnStarted(status.OK)
	loop.PostSync(func() {})
	require.True(t, sc.Running())

	sc.OnReport(addr, -40, []byte{0x02, 0x01, 0x06})
	loop.PostSync(func() {})
	mu.Lock()
	assert.Equal(t, []bt.Address{addr}, reports)
	mu.Unlock()

	require.NoError(t, sc.Stop())
	sc.OnStopped()
	loop.PostSync(func() {})
	assert.False(t, sc.Running())

	// the session slot is free again
	require.NoError(t, sc.Start(nil, cbs))
}

func TestScannerFailedStartReturnsToIdle(t *testing.T) {
	loop := newLoop(t)
	sc := NewScanner(loop, salfake.New())

	require.NoError(t, sc.Start(nil, ScanCallbacks{}))
	sc.OnStarted(status.Fail)
	loop.PostSync(func() {})

	assert.False(t, sc.Running())
	require.NoError(t, sc.Start(nil, ScanCallbacks{}), "idle again after failed start")
}
