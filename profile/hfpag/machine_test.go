package hfpag

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/sal/salfake"
	"github.com/btsvc/btserviced/serviceloop"
)

type fakeBackend struct {
	mu     sync.Mutex
	audio  []bool
	vendor []string
}

func (b *fakeBackend) ReportConnectionState(bt.Address, bt.ConnectionState) {}
func (b *fakeBackend) ReportAudioState(addr bt.Address, connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audio = append(b.audio, connected)
}
func (b *fakeBackend) ReportVRState(bt.Address, bool)      {}
func (b *fakeBackend) ReportVolumeChanged(bt.Address, uint8) {}
func (b *fakeBackend) ReportVendorSpecificAT(addr bt.Address, command string, companyID uint16, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.vendor = append(b.vendor, command+"="+value)
}

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
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loop := serviceloop.New("ag-test")
	loop.Run(true)
	t.Cleanup(loop.Exit)

	f := &fixture{loop: loop, stack: salfake.New(), backend: &fakeBackend{}}
	addr, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	loop.PostSync(func() {
		f.m = NewMachine(loop, addr, f.stack, f.stack, f.backend, DefaultTiming())
	})
	return f
}

func (f *fixture) dispatch(ev *Event) {
	f.loop.PostSync(func() { f.m.Dispatch(ev) })
}

func (f *fixture) stateID() int {
	var id int
	f.loop.PostSync(func() { id = f.m.StateID() })
	return id
}

func TestVirtualCallOnlyWhenIdle(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})
	require.Equal(t, StateConnected, f.stateID())

	// a real call is active: virtual call rejected with a negative audio
	// notification
	f.dispatch(&Event{Type: PhoneStateChangeReq, Phone: PhoneState{NumActive: 1}})
	f.dispatch(&Event{Type: StartVirtualCallReq})
	assert.Equal(t, StateConnected, f.stateID())
	audio := f.backend.audioStates()
	require.Len(t, audio, 1)
	assert.False(t, audio[0])
	assert.Zero(t, f.stack.CallCount("ConnectAudio"))

	// idle again: allowed
	f.dispatch(&Event{Type: PhoneStateChangeReq, Phone: PhoneState{}})
	f.dispatch(&Event{Type: StartVirtualCallReq})
	assert.Equal(t, StateAudioConnecting, f.stateID())
	assert.Equal(t, 1, f.stack.CallCount("ConnectAudio"))
	f.loop.PostSync(func() {
		assert.True(t, f.m.virtualCallStarted)
	})
}

func TestVirtualCallRejectedWhileRecognizing(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	f.dispatch(&Event{Type: StackVRStateChanged, Value: 1})
	f.dispatch(&Event{Type: StartVirtualCallReq})

	assert.Equal(t, StateConnected, f.stateID())
	assert.Zero(t, f.stack.CallCount("ConnectAudio"))
}

func TestVendorATDispatch(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	f.dispatch(&Event{Type: StackATCommand, Str: "AT+XIAOMI=1,2,FF\r\n"})
	f.loop.PostSync(func() {})

	f.backend.mu.Lock()
	vendor := append([]string(nil), f.backend.vendor...)
	f.backend.mu.Unlock()
	require.Equal(t, []string{"+XIAOMI=1,2,FF"}, vendor)
	assert.Equal(t, 1, f.stack.CallCount("OKResponse"))
	assert.Zero(t, f.stack.CallCount("ErrorResponse"))
}

func TestUnknownVendorATGetsCMEE(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	f.dispatch(&Event{Type: StackATCommand, Str: "AT+NOTREAL=42\r\n"})

	assert.Zero(t, f.stack.CallCount("OKResponse"))
	assert.Equal(t, 1, f.stack.CallCount("ErrorResponse"))
}

func TestRemoteAudioRequestAccepted(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})

	f.dispatch(&Event{Type: StackAudioRequest})
	require.Equal(t, StateAudioConnecting, f.stateID())

	f.dispatch(&Event{Type: StackAudioConnected})
	require.Equal(t, StateAudioOn, f.stateID())
	audio := f.backend.audioStates()
	require.NotEmpty(t, audio)
	assert.True(t, audio[len(audio)-1])
}

func TestRealCallDisplacesVirtualCall(t *testing.T) {
	f := newFixture(t)
	f.dispatch(&Event{Type: StackConnected})
	f.dispatch(&Event{Type: StartVirtualCallReq})
	f.dispatch(&Event{Type: StackAudioConnected})
	require.Equal(t, StateAudioOn, f.stateID())

	f.dispatch(&Event{Type: PhoneStateChangeReq, Phone: PhoneState{NumActive: 1}})
	f.loop.PostSync(func() {
		assert.False(t, f.m.virtualCallStarted, "real call displaces the virtual one")
	})
	assert.Equal(t, StateAudioOn, f.stateID(), "audio stays up for the real call")
}
