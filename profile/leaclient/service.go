package leaclient

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
	ASEStateChanged        func(addr bt.Address, aseID uint8, state ASEState)
}

// peer is one connected acceptor and its endpoints.
type peer struct {
	state bt.ConnectionState
	ases  map[uint8]*ASE
}

// Service owns the LEA client role: per-peer records and their ASE
// machines. All mutation happens on the service loop.
type Service struct {
	loop  *serviceloop.Loop
	stack sal.LEAudio

	mu      sync.RWMutex
	peers   map[bt.Address]*peer
	started bool

	cbs *callbacks.List[Callbacks]
}

// NewService constructs a stopped service.
func NewService(loop *serviceloop.Loop, stack *sal.Stack, cfg *config.Config) *Service {
	return &Service{
		loop:  loop,
		stack: stack.LEAudio,
		peers: make(map[bt.Address]*peer),
		cbs:   callbacks.New[Callbacks](cfg.MaxCallbacks),
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

// Stop drops every peer.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = make(map[bt.Address]*peer)
	s.started = false
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

// Connect initiates the ACL + ASCS discovery toward addr.
func (s *Service) Connect(addr bt.Address) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return status.New(status.NotReady)
	}
	if p, ok := s.peers[addr]; ok && p.state != bt.Disconnected {
		s.mu.Unlock()
		return status.New(status.InProgress)
	}
	s.peers[addr] = &peer{state: bt.Connecting, ases: make(map[uint8]*ASE)}
	s.mu.Unlock()

	if err := s.stack.Connect(addr); err != nil {
		s.dropPeer(addr)
		return err
	}
	s.report(addr, bt.Connecting)
	return nil
}

// Disconnect tears addr down.
func (s *Service) Disconnect(addr bt.Address) error {
	s.mu.RLock()
	p, ok := s.peers[addr]
	s.mu.RUnlock()
	if !ok || p.state == bt.Disconnected {
		return status.New(status.NotConnected)
	}
	return s.stack.Disconnect(addr)
}

// ConfigCodec drives an ASE from idle into codec-configured.
func (s *Service) ConfigCodec(addr bt.Address, aseID uint8, cfg []byte) error {
	return s.aseCommand(addr, aseID, cfg, func(a *ASE) error {
		if err := a.Advance(ASECodecConfigured); err != nil {
			return err
		}
		a.CodecConfig = append([]byte(nil), cfg...)
		return s.stack.ConfigCodec(addr, aseID, cfg)
	})
}

// ConfigQoS drives a codec-configured ASE into qos-configured.
func (s *Service) ConfigQoS(addr bt.Address, aseID uint8, cfg []byte) error {
	return s.aseCommand(addr, aseID, cfg, func(a *ASE) error {
		if err := a.Advance(ASEQoSConfigured); err != nil {
			return err
		}
		a.QoSConfig = append([]byte(nil), cfg...)
		return s.stack.ConfigQoS(addr, aseID, cfg)
	})
}

// Enable starts the enabling handshake.
func (s *Service) Enable(addr bt.Address, aseID uint8) error {
	return s.aseCommand(addr, aseID, nil, func(a *ASE) error {
		if err := a.Advance(ASEEnabling); err != nil {
			return err
		}
		return s.stack.Enable(addr, aseID)
	})
}

// Disable starts the disabling handshake.
func (s *Service) Disable(addr bt.Address, aseID uint8) error {
	return s.aseCommand(addr, aseID, nil, func(a *ASE) error {
		if err := a.Advance(ASEDisabling); err != nil {
			return err
		}
		return s.stack.Disable(addr, aseID)
	})
}

// Release tears an ASE down toward idle.
func (s *Service) Release(addr bt.Address, aseID uint8) error {
	return s.aseCommand(addr, aseID, nil, func(a *ASE) error {
		if err := a.Advance(ASEReleasing); err != nil {
			return err
		}
		return s.stack.Release(addr, aseID)
	})
}

// ASEStateOf reports one endpoint's sub-state.
func (s *Service) ASEStateOf(addr bt.Address, aseID uint8) (ASEState, error) {
	var st ASEState
	var err error
	s.loop.PostSync(func() {
		p := s.findPeer(addr)
		if p == nil {
			err = status.New(status.DeviceNotFound)
			return
		}
		a, ok := p.ases[aseID]
		if !ok {
			err = status.New(status.NotFound)
			return
		}
		st = a.State
	})
	return st, err
}

// GetConnectionState reports addr's lifecycle state.
func (s *Service) GetConnectionState(addr bt.Address) bt.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.peers[addr]; ok {
		return p.state
	}
	return bt.Disconnected
}

// Stack event entry points.

func (s *Service) OnConnectionChanged(addr bt.Address, connected bool) {
	s.loop.Post(func() {
		if connected {
			s.mu.Lock()
			if _, ok := s.peers[addr]; !ok {
				s.peers[addr] = &peer{ases: make(map[uint8]*ASE)}
			}
			s.peers[addr].state = bt.Connected
			s.mu.Unlock()
			s.report(addr, bt.Connected)
			return
		}
		s.dropPeer(addr)
		s.report(addr, bt.Disconnected)
	})
}

// OnASEStateChanged applies an acceptor-side transition notification.
func (s *Service) OnASEStateChanged(addr bt.Address, aseID uint8, state ASEState) {
	s.loop.Post(func() {
		p := s.findPeer(addr)
		if p == nil {
			return
		}
		a, ok := p.ases[aseID]
		if !ok {
			return
		}
		if err := a.Advance(state); err != nil {
			logger.Warn("illegal ase transition from acceptor",
				"addr", addr, "ase", aseID, "from", a.State, "to", state)
			return
		}
		s.reportASE(addr, aseID, state)
	})
}

func (s *Service) aseCommand(addr bt.Address, aseID uint8, _ []byte, fn func(*ASE) error) error {
	var err error
	s.loop.PostSync(func() {
		p := s.findPeer(addr)
		if p == nil || p.state != bt.Connected {
			err = status.New(status.NotConnected)
			return
		}
		a, ok := p.ases[aseID]
		if !ok {
			a = &ASE{ID: aseID}
			p.ases[aseID] = a
		}
		prev := a.State
		if err = fn(a); err != nil {
			return
		}
		if a.State != prev {
			s.reportASE(addr, aseID, a.State)
		}
	})
	return err
}

func (s *Service) findPeer(addr bt.Address) *peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[addr]
}

func (s *Service) dropPeer(addr bt.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, addr)
}

func (s *Service) report(addr bt.Address, state bt.ConnectionState) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.ConnectionStateChanged != nil {
			cb.ConnectionStateChanged(addr, state)
		}
	})
}

func (s *Service) reportASE(addr bt.Address, aseID uint8, state ASEState) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.ASEStateChanged != nil {
			cb.ASEStateChanged(addr, aseID, state)
		}
	})
}
