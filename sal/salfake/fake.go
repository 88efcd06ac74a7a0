// Package salfake is an in-memory stack used by the state-machine tests:
// every command records itself and succeeds (or fails when told to), and
// HCI completions are delivered only when the test releases them.
package salfake

import (
	"sync"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/status"
)

// Call is one recorded command.
type Call struct {
	Name string
	Addr bt.Address
	Args []any
}

// Stack implements every sal surface against in-memory state.
type Stack struct {
	mu    sync.Mutex
	calls []Call

	// FailNext makes the next command whose name matches return Fail.
	FailNext map[string]bool

	// pending HCI completions, delivered by ReleaseHCI.
	hciPending []func(*sal.HCIEvent)

	aclHandles map[bt.Address]uint16
}

// New constructs an empty fake stack.
func New() *Stack {
	return &Stack{
		FailNext:   make(map[string]bool),
		aclHandles: make(map[bt.Address]uint16),
	}
}

// Bundle wraps the fake into a sal.Stack with every surface except Media
// pointing here; Media stays nil.
func (s *Stack) Bundle() *sal.Stack {
	return &sal.Stack{
		HCI: s, A2DP: s, AVRCP: s, HFPAG: s, HFPHF: s,
		PAN: s, HID: s, LEAudio: s, GATT: s, Advertising: s,
	}
}

func (s *Stack) record(name string, addr bt.Address, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Name: name, Addr: addr, Args: args})
	if s.FailNext[name] {
		delete(s.FailNext, name)
		return status.New(status.Fail)
	}
	return nil
}

// Calls returns a copy of every recorded command name, in order.
func (s *Stack) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.Name
	}
	return out
}

// CallCount returns how many times name was issued.
func (s *Stack) CallCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}

// SetACLHandle primes ACLLinkHandle for addr.
func (s *Stack) SetACLHandle(addr bt.Address, h uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aclHandles[addr] = h
}

// ReleaseHCI delivers every queued HCI completion with the given event and
// returns how many fired. A test that never calls this models a controller
// that never answers, which is exactly what the offload-timeout scenarios
// need.
func (s *Stack) ReleaseHCI(ev *sal.HCIEvent) int {
	s.mu.Lock()
	pending := s.hciPending
	s.hciPending = nil
	s.mu.Unlock()
	for _, cb := range pending {
		cb(ev)
	}
	return len(pending)
}

// HCI

func (s *Stack) SendHCICommand(ogf uint8, ocf uint16, payload []byte, cb sal.HCICommandCallback) error {
	err := s.record("SendHCICommand", bt.Address{}, ogf, ocf, append([]byte(nil), payload...))
	if err != nil {
		return err
	}
	if cb != nil {
		s.mu.Lock()
		s.hciPending = append(s.hciPending, cb)
		s.mu.Unlock()
	}
	return nil
}

func (s *Stack) ACLLinkHandle(addr bt.Address) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.aclHandles[addr]
	if !ok {
		return 0, status.New(status.NotConnected)
	}
	return h, nil
}

func (s *Stack) SwitchRole(addr bt.Address, role bt.LinkRole) error {
	return s.record("SwitchRole", addr, role)
}

// A2DP

func (s *Stack) SourceConnect(addr bt.Address) error       { return s.record("SourceConnect", addr) }
func (s *Stack) SourceDisconnect(addr bt.Address) error    { return s.record("SourceDisconnect", addr) }
func (s *Stack) SourceStartStream(addr bt.Address) error   { return s.record("SourceStartStream", addr) }
func (s *Stack) SourceSuspendStream(addr bt.Address) error { return s.record("SourceSuspendStream", addr) }
func (s *Stack) SinkConnect(addr bt.Address) error         { return s.record("SinkConnect", addr) }
func (s *Stack) SinkDisconnect(addr bt.Address) error      { return s.record("SinkDisconnect", addr) }

// AVRCP

func (s *Stack) ControlConnect(addr bt.Address) error    { return s.record("ControlConnect", addr) }
func (s *Stack) ControlDisconnect(addr bt.Address) error { return s.record("ControlDisconnect", addr) }
func (s *Stack) TargetPlayStatusNotify(addr bt.Address, playing bool) error {
	return s.record("TargetPlayStatusNotify", addr, playing)
}

// HFP (both roles share the fake)

func (s *Stack) Connect(addr bt.Address) error         { return s.record("Connect", addr) }
func (s *Stack) Disconnect(addr bt.Address) error      { return s.record("Disconnect", addr) }
func (s *Stack) ConnectAudio(addr bt.Address) error    { return s.record("ConnectAudio", addr) }
func (s *Stack) DisconnectAudio(addr bt.Address) error { return s.record("DisconnectAudio", addr) }
func (s *Stack) SetVolume(addr bt.Address, volume uint8) error {
	return s.record("SetVolume", addr, volume)
}
func (s *Stack) StartVoiceRecognition(addr bt.Address) error {
	return s.record("StartVoiceRecognition", addr)
}
func (s *Stack) StopVoiceRecognition(addr bt.Address) error {
	return s.record("StopVoiceRecognition", addr)
}
func (s *Stack) SendATCommand(addr bt.Address, cmd string) error {
	return s.record("SendATCommand", addr, cmd)
}
func (s *Stack) ErrorResponse(addr bt.Address, code uint8) error {
	return s.record("ErrorResponse", addr, code)
}
func (s *Stack) OKResponse(addr bt.Address) error { return s.record("OKResponse", addr) }
func (s *Stack) QueryCurrentCalls(addr bt.Address) error {
	return s.record("QueryCurrentCalls", addr)
}

// PAN

func (s *Stack) SendFrame(addr bt.Address, protocol uint16, dst, src [6]byte, payload []byte) error {
	return s.record("SendFrame", addr, protocol)
}

// HID

func (s *Stack) SendReport(addr bt.Address, reportID uint8, data []byte) error {
	return s.record("SendReport", addr, reportID)
}

// LEAudio

func (s *Stack) ConfigCodec(addr bt.Address, aseID uint8, cfg []byte) error {
	return s.record("ConfigCodec", addr, aseID)
}
func (s *Stack) ConfigQoS(addr bt.Address, aseID uint8, cfg []byte) error {
	return s.record("ConfigQoS", addr, aseID)
}
func (s *Stack) Enable(addr bt.Address, aseID uint8) error  { return s.record("Enable", addr, aseID) }
func (s *Stack) Disable(addr bt.Address, aseID uint8) error { return s.record("Disable", addr, aseID) }
func (s *Stack) Release(addr bt.Address, aseID uint8) error { return s.record("Release", addr, aseID) }

// GATT

func (s *Stack) Read(addr bt.Address, handle uint16) ([]byte, error) {
	err := s.record("Read", addr, handle)
	return nil, err
}
func (s *Stack) Write(addr bt.Address, handle uint16, value []byte) error {
	return s.record("Write", addr, handle)
}
func (s *Stack) Notify(addr bt.Address, handle uint16, value []byte) error {
	return s.record("Notify", addr, handle)
}

// Advertising

func (s *Stack) StartAdvertising(advID uint8, params []byte) error {
	return s.record("StartAdvertising", bt.Address{}, advID)
}
func (s *Stack) StopAdvertising(advID uint8) error {
	return s.record("StopAdvertising", bt.Address{}, advID)
}
func (s *Stack) StartScan(params []byte) error { return s.record("StartScan", bt.Address{}) }
func (s *Stack) StopScan() error               { return s.record("StopScan", bt.Address{}) }
