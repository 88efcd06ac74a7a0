package pan

import (
	"sync"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/callbacks"
	"github.com/btsvc/btserviced/config"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
	"github.com/btsvc/btserviced/status"
)

// ConnState is the per-peer PAN connection lifecycle.
type ConnState = bt.ConnectionState

// Callbacks is the subscriber table fanned out by the service.
type Callbacks struct {
	ConnectionStateChanged func(addr bt.Address, state bt.ConnectionState)
	NetworkStateChanged    func(up bool)
}

// Service owns the PANU role: the per-peer connection states and the
// tap-device bridge. The tap is opened when the first peer connects and
// closed when the last one leaves.
type Service struct {
	loop  *serviceloop.Loop
	stack sal.PAN
	tap   TapDevice

	mu        sync.RWMutex
	devices   map[bt.Address]bt.ConnectionState
	started   bool
	localAddr bt.Address

	tapFd   int
	tapPoll *serviceloop.Poll
	tapUp   bool

	cbs *callbacks.List[Callbacks]
}

// NewService constructs a stopped service. tap may be nil until Start.
func NewService(loop *serviceloop.Loop, stack *sal.Stack, tap TapDevice, cfg *config.Config) *Service {
	return &Service{
		loop:    loop,
		stack:   stack.PAN,
		tap:     tap,
		devices: make(map[bt.Address]bt.ConnectionState),
		tapFd:   -1,
		cbs:     callbacks.New[Callbacks](cfg.MaxCallbacks),
	}
}

// Start brings the service up. localAddr seeds the tap hardware address
// (byte-swapped, per the host convention).
func (s *Service) Start(localAddr bt.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.localAddr = localAddr
	logger.Info("service started")
	return nil
}

// Stop drops every peer record and closes the tap; no disconnect is sent
// to the peers.
func (s *Service) Stop() {
	s.mu.Lock()
	s.started = false
	s.devices = make(map[bt.Address]bt.ConnectionState)
	s.mu.Unlock()
	s.loop.PostSync(s.closeTap)
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

// Connect initiates a BNEP connection to addr.
func (s *Service) Connect(addr bt.Address) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return status.New(status.NotReady)
	}
	if state, ok := s.devices[addr]; ok && state != bt.Disconnected {
		s.mu.Unlock()
		return status.New(status.InProgress)
	}
	s.devices[addr] = bt.Connecting
	s.mu.Unlock()

	if err := s.stack.Connect(addr); err != nil {
		s.setState(addr, bt.Disconnected)
		return err
	}
	s.report(addr, bt.Connecting)
	return nil
}

// Disconnect tears a peer down.
func (s *Service) Disconnect(addr bt.Address) error {
	s.mu.RLock()
	state, ok := s.devices[addr]
	s.mu.RUnlock()
	if !ok || state == bt.Disconnected {
		return status.New(status.NotConnected)
	}
	if err := s.stack.Disconnect(addr); err != nil {
		return err
	}
	s.setState(addr, bt.Disconnecting)
	s.report(addr, bt.Disconnecting)
	return nil
}

// GetConnectionState reports addr's lifecycle state.
func (s *Service) GetConnectionState(addr bt.Address) bt.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[addr]
}

// OnConnectionChanged is the SAL connection callback; the first connected
// peer brings the tap up, the last one tears it down.
func (s *Service) OnConnectionChanged(addr bt.Address, connected bool) {
	s.loop.Post(func() {
		if connected {
			s.setState(addr, bt.Connected)
			s.report(addr, bt.Connected)
			s.openTap()
			return
		}
		s.setState(addr, bt.Disconnected)
		s.report(addr, bt.Disconnected)
		if s.connectedCount() == 0 {
			s.closeTap()
		}
	})
}

// OnDataReceived is the SAL BNEP payload callback: prefix the Ethernet
// header back on and hand the frame to the host.
func (s *Service) OnDataReceived(addr bt.Address, protocol uint16, dst, src [6]byte, payload []byte) {
	s.loop.Post(func() {
		if !s.tapUp {
			return
		}
		frame := buildEthernetFrame(dst, src, protocol, payload)
		if _, err := s.tap.Write(frame); err != nil {
			logger.Warn("tap write failed", "err", err)
		}
	})
}

func (s *Service) connectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, st := range s.devices {
		if st == bt.Connected {
			n++
		}
	}
	return n
}

func (s *Service) setState(addr bt.Address, state bt.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[addr] = state
}

func (s *Service) report(addr bt.Address, state bt.ConnectionState) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.ConnectionStateChanged != nil {
			cb.ConnectionStateChanged(addr, state)
		}
	})
}

func (s *Service) reportNetwork(up bool) {
	s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
		if cb.NetworkStateChanged != nil {
			cb.NetworkStateChanged(up)
		}
	})
}

// openTap creates the bt-pan device and polls it for host-bound frames.
// Loop thread only.
func (s *Service) openTap() {
	if s.tapUp || s.tap == nil {
		return
	}
	fd, err := s.tap.Open(TapName, s.localAddr.Swapped())
	if err != nil {
		logger.Error("tap open failed", "err", err)
		return
	}
	s.tapFd = fd
	s.tapUp = true
	s.tapPoll = s.loop.PollFd(fd, serviceloop.Readable|serviceloop.Disconnect, s.onTapReady)
	s.reportNetwork(true)
	logger.Info("tap up", "name", TapName)
}

func (s *Service) closeTap() {
	if !s.tapUp {
		return
	}
	s.loop.RemovePoll(s.tapPoll)
	s.tapPoll = nil
	s.tap.Close()
	s.tapFd = -1
	s.tapUp = false
	s.reportNetwork(false)
	logger.Info("tap down", "name", TapName)
}

// onTapReady forwards one host frame to every connected peer as a PAN
// payload.
func (s *Service) onTapReady(ev serviceloop.PollEvent) {
	if ev&(serviceloop.Disconnect|serviceloop.Error) != 0 {
		s.closeTap()
		return
	}
	buf := make([]byte, 2048)
	n, err := s.tap.Read(buf)
	if err != nil || n <= 0 {
		return
	}
	dst, src, protocol, payload, ok := splitEthernetFrame(buf[:n])
	if !ok {
		return
	}
	s.mu.RLock()
	var peers []bt.Address
	for addr, st := range s.devices {
		if st == bt.Connected {
			peers = append(peers, addr)
		}
	}
	s.mu.RUnlock()
	for _, addr := range peers {
		if err := s.stack.SendFrame(addr, protocol, dst, src, payload); err != nil {
			logger.Warn("pan send failed", "addr", addr, "err", err)
		}
	}
}
