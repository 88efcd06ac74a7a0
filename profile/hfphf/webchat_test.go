package hfphf

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/profile/common"
	"github.com/btsvc/btserviced/sal/salfake"
	"github.com/btsvc/btserviced/serviceloop"
)

type fakeBackend struct {
	mu         sync.Mutex
	connStates []bt.ConnectionState
	audio      []bool
	voip       []string
}

func (b *fakeBackend) ReportConnectionState(addr bt.Address, state bt.ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connStates = append(b.connStates, state)
}
func (b *fakeBackend) ReportAudioState(addr bt.Address, connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audio = append(b.audio, connected)
}
func (b *fakeBackend) ReportCallIndicator(bt.Address, EventType, uint8) {}
func (b *fakeBackend) ReportVolumeChanged(bt.Address, uint8)           {}
func (b *fakeBackend) VoIPNumbers() []string                           { return b.voip }

func (b *fakeBackend) audioStates() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bool(nil), b.audio...)
}

type fixture struct {
	loop    *serviceloop.Loop
	stack   *salfake.Stack
	backend *fakeBackend
	m       *Machine
	clockUS int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loop := serviceloop.New("hf-test")
	loop.Run(true)
	t.Cleanup(loop.Exit)

	f := &fixture{loop: loop, stack: salfake.New(), backend: &fakeBackend{}}
	addr, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	loop.PostSync(func() {
		f.m = NewMachine(loop, addr, f.stack, f.backend, DefaultTiming())
		f.m.now = func() int64 { return f.clockUS }
	})
	return f
}

func (f *fixture) dispatch(ev *Event) {
	f.loop.PostSync(func() { f.m.Dispatch(ev) })
}

func (f *fixture) at(us int64, ev *Event) {
	f.loop.PostSync(func() {
		f.clockUS = us
		f.m.Dispatch(ev)
	})
}

func (f *fixture) stateID() int {
	var id int
	f.loop.PostSync(func() { id = f.m.StateID() })
	return id
}

// S1: an outgoing callsetup going in-progress within the verdict window
// marks the call as a web-chat suspect; the next SCO request is rejected,
// the machine stays in Connected, and the mark refreshes to the rejection
// time.
func TestWebchatBlockerBlocksSCO(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})
	require.Equal(t, StateConnected, f.stateID())

	f.at(0, &Event{Type: StackCallSetupChanged, Value: uint8(common.CallSetupOutgoing)})
	f.at(1_000_000, &Event{Type: StackCallSetupChanged, Value: uint8(common.CallSetupAlerting)})
	f.at(2_000_000, &Event{Type: StackCallChanged, Value: uint8(common.CallInProgress)})

	f.at(3_000_000, &Event{Type: StackAudioRequest})

	assert.Equal(t, StateConnected, f.stateID(), "SCO rejected, no audio transition")
	audio := f.backend.audioStates()
	require.Len(t, audio, 1)
	assert.False(t, audio[0], "negative audio reply")
	f.loop.PostSync(func() {
		assert.Equal(t, int64(3_000_000), f.m.callStatus.WebchatFlagTimestampUS,
			"rejection refreshes the suspect mark")
	})
}

func TestWebchatWaiverForLocalDial(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	// suspect mark in place
	f.at(0, &Event{Type: StackCallSetupChanged, Value: uint8(common.CallSetupOutgoing)})
	f.at(1_000_000, &Event{Type: StackCallChanged, Value: uint8(common.CallInProgress)})

	// a local dial within the waiver window overrides the block
	f.at(2_000_000, &Event{Type: DialReq, Number: "5551234"})
	f.at(3_000_000, &Event{Type: StackAudioRequest})

	assert.Equal(t, StateAudioConnecting, f.stateID(), "waiver admits SCO")
}

func TestWebchatBlockExpires(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	f.at(0, &Event{Type: StackCallSetupChanged, Value: uint8(common.CallSetupAlerting)})
	f.at(1_000_000, &Event{Type: StackCallChanged, Value: uint8(common.CallInProgress)})

	// well past the 500s block window
	f.at(1_000_000+501_000_000, &Event{Type: StackAudioRequest})
	assert.Equal(t, StateAudioConnecting, f.stateID())
}

func TestVoIPNumberRejectsSCO(t *testing.T) {
	f := newFixture(t)
	f.backend.voip = []string{"10086"}
	f.dispatch(&Event{Type: StackConnected})

	f.dispatch(&Event{Type: StackCurrentCalls, Calls: []common.CurrentCall{
		{Index: 1, Number: "10086"},
	}})
	f.dispatch(&Event{Type: ConnectAudioReq})

	assert.Equal(t, StateConnected, f.stateID())
	audio := f.backend.audioStates()
	require.Len(t, audio, 1)
	assert.False(t, audio[0])
}

func TestSlowCallSetupIsNotSuspect(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	f.at(0, &Event{Type: StackCallSetupChanged, Value: uint8(common.CallSetupOutgoing)})
	// in-progress arrives after the 300s verdict window: a real call
	f.at(301_000_000, &Event{Type: StackCallChanged, Value: uint8(common.CallInProgress)})
	f.at(302_000_000, &Event{Type: StackAudioRequest})

	assert.Equal(t, StateAudioConnecting, f.stateID())
}

func TestVolumeEchoSuppression(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	f.dispatch(&Event{Type: SetVolumeReq, Value: 9})
	assert.Equal(t, 1, f.stack.CallCount("SetVolume"))

	// the peer echoes our own change back: swallowed
	f.dispatch(&Event{Type: StackVolumeChanged, Value: 9})
	f.loop.PostSync(func() {
		assert.Equal(t, 0, f.m.SetVolumeCount)
	})

	// a genuine remote change lands in the media snapshot
	f.dispatch(&Event{Type: StackVolumeChanged, Value: 4})
	f.loop.PostSync(func() {
		assert.Equal(t, 4, f.m.MediaVolume)
	})

	// pushing the value we already hold is a no-op
	f.dispatch(&Event{Type: SetVolumeReq, Value: 4})
	assert.Equal(t, 1, f.stack.CallCount("SetVolume"))
}

func TestAudioLifecycle(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	f.dispatch(&Event{Type: ConnectAudioReq})
	require.Equal(t, StateAudioConnecting, f.stateID())

	f.dispatch(&Event{Type: StackAudioConnected})
	require.Equal(t, StateAudioOn, f.stateID())
	audio := f.backend.audioStates()
	require.NotEmpty(t, audio)
	assert.True(t, audio[len(audio)-1])

	// service-level disconnect in AudioOn tears SCO down first
	f.dispatch(&Event{Type: DisconnectReq})
	require.Equal(t, StateAudioDisconnecting, f.stateID())
	f.loop.PostSync(func() {
		require.True(t, f.m.Pending(common.PendingDisconnect))
	})

	f.dispatch(&Event{Type: StackAudioDisconnected})
	require.Equal(t, StateDisconnecting, f.stateID())
	assert.Equal(t, 1, f.stack.CallCount("Disconnect"))

	f.dispatch(&Event{Type: StackDisconnected})
	assert.Equal(t, StateDisconnected, f.stateID())
}

func TestConnectCollisionRetry(t *testing.T) {
	f := newFixture(t)

	f.dispatch(&Event{Type: ConnectReq})
	require.Equal(t, StateConnecting, f.stateID())
	require.Equal(t, 1, f.stack.CallCount("Connect"))

	f.dispatch(&Event{Type: StackConnectionFailed, Reason: ReasonCollision})
	require.Equal(t, StateDisconnected, f.stateID())

	// retry fires within [100, 900)ms
	require.Eventually(t, func() bool {
		return f.stack.CallCount("Connect") == 2
	}, 3*time.Second, 20*time.Millisecond)
	require.Equal(t, StateConnecting, f.stateID())

	// a second collision does not retry again (MAX_RETRY = 1)
	f.dispatch(&Event{Type: StackConnectionFailed, Reason: ReasonCollision})
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, 2, f.stack.CallCount("Connect"))
}
