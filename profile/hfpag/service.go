package hfpag

import (
	"sync"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/callbacks"
	"github.com/btsvc/btserviced/config"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
	"github.com/btsvc/btserviced/status"
)

// Callbacks is the subscriber table fanned out by the service.
type Callbacks struct {
	ConnectionStateChanged func(addr bt.Address, state bt.ConnectionState)
	AudioStateChanged      func(addr bt.Address, connected bool)
	VRStateChanged         func(addr bt.Address, active bool)
	VolumeChanged          func(addr bt.Address, volume uint8)
	VendorSpecificAT       func(addr bt.Address, command string, companyID uint16, value string)
}

// Service owns the per-peer device map for the AG role.
type Service struct {
	loop  *serviceloop.Loop
	stack sal.HFP
	hci   sal.HCI

	mu      sync.RWMutex
	devices map[bt.Address]*Machine
	started bool

	cbs        *callbacks.List[Callbacks]
	offloading bool
}

// NewService constructs a stopped service.
func NewService(loop *serviceloop.Loop, stack *sal.Stack, cfg *config.Config) *Service {
	return &Service{
		loop:       loop,
		stack:      stack.HFPAG,
		hci:        stack.HCI,
		devices:    make(map[bt.Address]*Machine),
		cbs:        callbacks.New[Callbacks](cfg.MaxCallbacks),
		offloading: cfg.Offload.HFP,
	}
}

// Start brings the service up.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	logger.Info("service started")
	return nil
}

// Stop tears down every machine and releases the device map.
func (s *Service) Stop() {
	s.mu.Lock()
	devices := s.devices
	s.devices = make(map[bt.Address]*Machine)
	s.started = false
	s.mu.Unlock()

	s.loop.PostSync(func() {
		for _, m := range devices {
			m.Destroy()
		}
	})
	logger.Info("service stopped")
}

// RegisterCallbacks subscribes a callback table.
func (s *Service) RegisterCallbacks(cb Callbacks) (callbacks.Handle, bool) {
	return s.cbs.Register(cb)
}

// UnregisterCallbacks removes a subscription.
func (s *Service) UnregisterCallbacks(h callbacks.Handle) bool {
	return s.cbs.Unregister(h)
}

func (s *Service) findOrCreate(addr bt.Address) *Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.devices[addr]; ok {
		return m
	}
	m := NewMachine(s.loop, addr, s.stack, s.hci, s, DefaultTiming())
	s.devices[addr] = m
	return m
}

func (s *Service) find(addr bt.Address) *Machine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[addr]
}

func (s *Service) dispatch(addr bt.Address, ev *Event, create bool) error {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return status.New(status.NotReady)
	}
	s.loop.Post(func() {
		var m *Machine
		if create {
			m = s.findOrCreate(addr)
		} else if m = s.find(addr); m == nil {
			return
		}
		m.Dispatch(ev)
	})
	return nil
}

// Connect initiates the service-level connection.
func (s *Service) Connect(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: ConnectReq}, true)
}

// Disconnect tears the connection down, audio first when it is up.
func (s *Service) Disconnect(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: DisconnectReq}, false)
}

// ConnectAudio brings SCO up.
func (s *Service) ConnectAudio(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: ConnectAudioReq}, false)
}

// DisconnectAudio tears SCO down.
func (s *Service) DisconnectAudio(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: DisconnectAudioReq}, false)
}

// StartVirtualCall opens a voice path with no real call behind it; only
// allowed when fully idle.
func (s *Service) StartVirtualCall(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: StartVirtualCallReq}, false)
}

// StopVirtualCall ends the virtual call.
func (s *Service) StopVirtualCall(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: StopVirtualCallReq}, false)
}

// PhoneStateChanged broadcasts the telephony snapshot into the machine.
func (s *Service) PhoneStateChanged(addr bt.Address, phone PhoneState) error {
	return s.dispatch(addr, &Event{Type: PhoneStateChangeReq, Phone: phone}, false)
}

// SetVolume pushes an engine-side volume change toward the peer.
func (s *Service) SetVolume(addr bt.Address, volume uint8) error {
	return s.dispatch(addr, &Event{Type: SetVolumeReq, Value: volume}, false)
}

// SendVendorSpecificAT sends "AT<command>=<value>" to the peer.
func (s *Service) SendVendorSpecificAT(addr bt.Address, command, value string) error {
	return s.dispatch(addr, &Event{Type: SendVendorATReq, Str: command, Str2: value}, false)
}

// OffloadStart hands a built offload-start VSC to the machine.
func (s *Service) OffloadStart(addr bt.Address, cmd []byte) error {
	if !s.offloading {
		return status.New(status.NoSupport)
	}
	return s.dispatch(addr, &Event{Type: OffloadStartReq, Data: cmd}, false)
}

// OffloadStop hands a built offload-stop VSC to the machine.
func (s *Service) OffloadStop(addr bt.Address, cmd []byte) error {
	if !s.offloading {
		return status.New(status.NoSupport)
	}
	return s.dispatch(addr, &Event{Type: OffloadStopReq, Data: cmd}, false)
}

// GetConnectionState reports addr's lifecycle state.
func (s *Service) GetConnectionState(addr bt.Address) bt.ConnectionState {
	state := bt.Disconnected
	s.loop.PostSync(func() {
		if m := s.find(addr); m != nil {
			state = m.ConnectionState()
		}
	})
	return state
}

// Stack event entry points; may be called from any goroutine.

func (s *Service) OnConnectionChanged(addr bt.Address, connected bool, reason FailureReason) {
	var ev *Event
	switch {
	case connected:
		ev = &Event{Type: StackConnected}
	case reason != ReasonUnknown:
		ev = &Event{Type: StackConnectionFailed, Reason: reason}
	default:
		ev = &Event{Type: StackDisconnected}
	}
	s.dispatch(addr, ev, connected)
}

func (s *Service) OnAudioChanged(addr bt.Address, connected bool) {
	t := StackAudioDisconnected
	if connected {
		t = StackAudioConnected
	}
	s.dispatch(addr, &Event{Type: t}, false)
}

func (s *Service) OnAudioRequest(addr bt.Address) {
	s.dispatch(addr, &Event{Type: StackAudioRequest}, false)
}

func (s *Service) OnVRStateChanged(addr bt.Address, active bool) {
	v := uint8(0)
	if active {
		v = 1
	}
	s.dispatch(addr, &Event{Type: StackVRStateChanged, Value: v}, false)
}

func (s *Service) OnVolumeChanged(addr bt.Address, volume uint8) {
	s.dispatch(addr, &Event{Type: StackVolumeChanged, Value: volume}, false)
}

func (s *Service) OnATCommand(addr bt.Address, at string) {
	s.dispatch(addr, &Event{Type: StackATCommand, Str: at}, false)
}

// Backend implementation.

func (s *Service) ReportConnectionState(addr bt.Address, state bt.ConnectionState) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.ConnectionStateChanged != nil {
			cb.ConnectionStateChanged(addr, state)
		}
	})
}

func (s *Service) ReportAudioState(addr bt.Address, connected bool) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.AudioStateChanged != nil {
			cb.AudioStateChanged(addr, connected)
		}
	})
}

func (s *Service) ReportVRState(addr bt.Address, active bool) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.VRStateChanged != nil {
			cb.VRStateChanged(addr, active)
		}
	})
}

func (s *Service) ReportVolumeChanged(addr bt.Address, volume uint8) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.VolumeChanged != nil {
			cb.VolumeChanged(addr, volume)
		}
	})
}

func (s *Service) ReportVendorSpecificAT(addr bt.Address, command string, companyID uint16, value string) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.VendorSpecificAT != nil {
			cb.VendorSpecificAT(addr, command, companyID, value)
		}
	})
}
