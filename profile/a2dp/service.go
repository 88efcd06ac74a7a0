package a2dp

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
	AudioStateChanged      func(addr bt.Address, state bt.AudioState)
	AudioConfigChanged     func(addr bt.Address)
}

// AudioControl is the bridge into the audio transport: connectivity,
// start/stop acknowledgements, and codec setup for the media engine.
type AudioControl interface {
	OnConnectionChanged(sep bt.PeerSep, connected bool) bool
	OnStarted(sep bt.PeerSep, ok bool)
	OnStopped(sep bt.PeerSep)
	SetupCodec(sep bt.PeerSep, addr bt.Address)
}

// noopAudio keeps the service usable before the transport is wired (and
// in tests that only exercise connection lifecycles).
type noopAudio struct{}

func (noopAudio) OnConnectionChanged(bt.PeerSep, bool) bool { return false }
func (noopAudio) OnStarted(bt.PeerSep, bool)                {}
func (noopAudio) OnStopped(bt.PeerSep)                      {}
func (noopAudio) SetupCodec(bt.PeerSep, bt.Address)         {}

// Service owns the per-peer device map and routes stack events into the
// machines. It is the single entry point the IPC handlers use.
type Service struct {
	loop   *serviceloop.Loop
	stack  sal.A2DP
	avrcp  sal.AVRCP
	hci    sal.HCI
	audio  AudioControl
	timing Timing

	// peerSep is the remote's endpoint role; ours is the opposite.
	peerSep bt.PeerSep

	mu      sync.RWMutex
	devices map[bt.Address]*Machine
	started bool

	cbs        *callbacks.List[Callbacks]
	offloading bool
}

// NewService constructs a stopped service. peerSep selects which side this
// service drives: SepSink makes it the source-role service.
func NewService(loop *serviceloop.Loop, stack *sal.Stack, peerSep bt.PeerSep, cfg *config.Config) *Service {
	return &Service{
		loop:       loop,
		stack:      stack.A2DP,
		avrcp:      stack.AVRCP,
		hci:        stack.HCI,
		audio:      noopAudio{},
		timing:     DefaultTiming(),
		peerSep:    peerSep,
		devices:    make(map[bt.Address]*Machine),
		cbs:        callbacks.New[Callbacks](cfg.MaxCallbacks),
		offloading: cfg.Offload.A2DP,
	}
}

// SetAudioControl wires the transport bridge; must be called before Start.
func (s *Service) SetAudioControl(a AudioControl) {
	if a != nil {
		s.audio = a
	}
}

// Start brings the service up.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	logger.Info("service started", "role", s.peerSep)
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
	logger.Info("service stopped", "role", s.peerSep)
}

// RegisterCallbacks subscribes a callback table.
func (s *Service) RegisterCallbacks(cb Callbacks) (callbacks.Handle, bool) {
	return s.cbs.Register(cb)
}

// UnregisterCallbacks removes a subscription.
func (s *Service) UnregisterCallbacks(h callbacks.Handle) bool {
	return s.cbs.Unregister(h)
}

// findOrCreate resolves the machine for addr, creating it on first sight.
// Loop thread only.
func (s *Service) findOrCreate(addr bt.Address) *Machine {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.devices[addr]; ok {
		return m
	}
	m := NewMachine(s.loop, addr, s.peerSep, s.stack, s.avrcp, s.hci, s, s.timing)
	s.devices[addr] = m
	return m
}

func (s *Service) find(addr bt.Address) *Machine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[addr]
}

// dispatch posts ev into addr's machine on the loop, creating the machine
// when create is set.
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

// Connect initiates the profile connection.
func (s *Service) Connect(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: ConnectReq}, true)
}

// Disconnect tears the profile connection down.
func (s *Service) Disconnect(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: DisconnectReq}, false)
}

// StartStream requests media start.
func (s *Service) StartStream(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: StreamStartReq}, false)
}

// SuspendStream requests media suspend.
func (s *Service) SuspendStream(addr bt.Address) error {
	return s.dispatch(addr, &Event{Type: StreamSuspendReq}, false)
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

// IsConnected reports profile connectivity for addr.
func (s *Service) IsConnected(addr bt.Address) bool {
	var connected bool
	s.loop.PostSync(func() {
		if m := s.find(addr); m != nil {
			connected = m.ConnectionState() == bt.Connected
		}
	})
	return connected
}

// IsPlaying reports whether addr's stream is live.
func (s *Service) IsPlaying(addr bt.Address) bool {
	var playing bool
	s.loop.PostSync(func() {
		if m := s.find(addr); m != nil {
			playing = m.IsPlaying()
		}
	})
	return playing
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

// OnConnectionChanged is the SAL connection callback.
func (s *Service) OnConnectionChanged(addr bt.Address, connected bool) {
	t := DisconnectedEvt
	if connected {
		t = ConnectedEvt
	}
	s.dispatch(addr, &Event{Type: t}, connected)
}

// OnStreamStarted is the SAL stream-start callback.
func (s *Service) OnStreamStarted(addr bt.Address) {
	s.dispatch(addr, &Event{Type: StreamStartedEvt}, false)
}

// OnStreamSuspended is the SAL stream-suspend callback.
func (s *Service) OnStreamSuspended(addr bt.Address) {
	s.dispatch(addr, &Event{Type: StreamSuspendedEvt}, false)
}

// OnStreamClosed is the SAL stream-close callback.
func (s *Service) OnStreamClosed(addr bt.Address) {
	s.dispatch(addr, &Event{Type: StreamClosedEvt}, false)
}

// OnCodecStateChanged is the SAL codec-config callback; it gates media
// start.
func (s *Service) OnCodecStateChanged(addr bt.Address) {
	s.dispatch(addr, &Event{Type: DeviceCodecStateChangeEvt}, false)
}

// OnDataIndication is the SAL media-payload callback (sink role).
func (s *Service) OnDataIndication(addr bt.Address, payload []byte) {
	s.dispatch(addr, &Event{Type: DataIndEvt, Data: payload}, false)
}

// Backend implementation: machine notifications fan out to subscribers
// and into the audio bridge.

func (s *Service) ReportConnectionState(addr bt.Address, state bt.ConnectionState) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.ConnectionStateChanged != nil {
			cb.ConnectionStateChanged(addr, state)
		}
	})
}

func (s *Service) ReportAudioState(addr bt.Address, state bt.AudioState) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.AudioStateChanged != nil {
			cb.AudioStateChanged(addr, state)
		}
	})
}

func (s *Service) ReportAudioConfig(addr bt.Address) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.AudioConfigChanged != nil {
			cb.AudioConfigChanged(addr)
		}
	})
}

func (s *Service) AudioOnConnectionChanged(sep bt.PeerSep, connected bool) bool {
	return s.audio.OnConnectionChanged(sep, connected)
}

func (s *Service) AudioOnStarted(sep bt.PeerSep, ok bool) { s.audio.OnStarted(sep, ok) }
func (s *Service) AudioOnStopped(sep bt.PeerSep)          { s.audio.OnStopped(sep) }
func (s *Service) AudioSetupCodec(sep bt.PeerSep, addr bt.Address) {
	s.audio.SetupCodec(sep, addr)
}
