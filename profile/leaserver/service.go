// Package leaserver implements the LE Audio server (acceptor) role: the
// per-peer ASE table driven by initiator control-point operations, and
// the media-session bridge that surfaces host playback state as media
// control notifications.
package leaserver

import (
	"sync"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/callbacks"
	"github.com/btsvc/btserviced/config"
	"github.com/btsvc/btserviced/profile/leaclient"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
	"github.com/btsvc/btserviced/status"
)

var logger = btlog.Component("lea_server")

// ASEState is shared with the client role; the acceptor walks the same
// sub-states, driven from the other side.
type ASEState = leaclient.ASEState

// Callbacks is the subscriber table fanned out by the service.
type Callbacks struct {
	ConnectionStateChanged func(addr bt.Address, state bt.ConnectionState)
	ASEStateChanged        func(addr bt.Address, aseID uint8, state ASEState)
	MediaStateChanged      func(playing bool)
}

type peer struct {
	state bt.ConnectionState
	ases  map[uint8]*serverASE
}

type serverASE struct {
	id    uint8
	state ASEState
}

// Service owns the LEA acceptor role and the media-session bridge.
type Service struct {
	loop  *serviceloop.Loop
	stack sal.LEAudio
	media sal.MediaSession

	mu      sync.RWMutex
	peers   map[bt.Address]*peer
	started bool
	playing bool

	cbs *callbacks.List[Callbacks]
}

// NewService constructs a stopped service. media may be nil when no host
// session API is available.
func NewService(loop *serviceloop.Loop, stack *sal.Stack, cfg *config.Config) *Service {
	return &Service{
		loop:  loop,
		stack: stack.LEAudio,
		media: stack.Media,
		peers: make(map[bt.Address]*peer),
		cbs:   callbacks.New[Callbacks](cfg.MaxCallbacks),
	}
}

// Start brings the service up and registers with the media session.
func (s *Service) Start() error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	if s.media != nil {
		if err := s.media.Register(s); err != nil {
			logger.Warn("media session register failed", "err", err)
		}
	}
	logger.Info("service started")
	return nil
}

// Stop unregisters from the media session and drops every peer.
func (s *Service) Stop() {
	if s.media != nil {
		s.media.Unregister()
	}
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

// OnConnectionChanged is the SAL ACL callback.
func (s *Service) OnConnectionChanged(addr bt.Address, connected bool) {
	s.loop.Post(func() {
		if connected {
			s.mu.Lock()
			s.peers[addr] = &peer{state: bt.Connected, ases: make(map[uint8]*serverASE)}
			s.mu.Unlock()
			s.report(addr, bt.Connected)
			return
		}
		s.mu.Lock()
		delete(s.peers, addr)
		s.mu.Unlock()
		s.report(addr, bt.Disconnected)
	})
}

// OnControlPointOperation applies one initiator-driven ASE transition and
// notifies. The acceptor accepts the same transition set the client
// enforces on its side.
func (s *Service) OnControlPointOperation(addr bt.Address, aseID uint8, target ASEState) error {
	var err error
	s.loop.PostSync(func() {
		s.mu.RLock()
		p := s.peers[addr]
		s.mu.RUnlock()
		if p == nil {
			err = status.New(status.DeviceNotFound)
			return
		}
		a, ok := p.ases[aseID]
		if !ok {
			a = &serverASE{id: aseID}
			p.ases[aseID] = a
		}
		probe := leaclient.ASE{ID: aseID, State: a.state}
		if err = probe.Advance(target); err != nil {
			logger.Warn("rejected control-point op", "addr", addr, "ase", aseID,
				"from", a.state, "to", target)
			return
		}
		a.state = target
		s.reportASE(addr, aseID, target)
	})
	return err
}

// ASEStateOf reports one endpoint's sub-state.
func (s *Service) ASEStateOf(addr bt.Address, aseID uint8) (ASEState, error) {
	var st ASEState
	var err error
	s.loop.PostSync(func() {
		s.mu.RLock()
		p := s.peers[addr]
		s.mu.RUnlock()
		if p == nil {
			err = status.New(status.DeviceNotFound)
			return
		}
		a, ok := p.ases[aseID]
		if !ok {
			err = status.New(status.NotFound)
			return
		}
		st = a.state
	})
	return st, err
}

// Media session listener: host playback state becomes MCS notifications.

func (s *Service) OnPlaybackStateChanged(playing bool) {
	s.loop.Post(func() {
		s.mu.Lock()
		s.playing = playing
		s.mu.Unlock()
		s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
			if cb.MediaStateChanged != nil {
				cb.MediaStateChanged(playing)
			}
		})
	})
}

func (s *Service) OnTrackChanged(title string) {
	logger.Debug("track changed", "title", title)
}

func (s *Service) OnPositionChanged(positionMS uint32) {}

// Media control operations arriving from remotes over MCP.

// ControlPlay forwards a remote play request into the host session.
func (s *Service) ControlPlay() error {
	if s.media == nil {
		return status.New(status.NoSupport)
	}
	return s.media.Play()
}

// ControlPause forwards a remote pause request.
func (s *Service) ControlPause() error {
	if s.media == nil {
		return status.New(status.NoSupport)
	}
	return s.media.Pause()
}

// ControlNext skips forward.
func (s *Service) ControlNext() error {
	if s.media == nil {
		return status.New(status.NoSupport)
	}
	return s.media.Next()
}

// ControlPrevious skips back.
func (s *Service) ControlPrevious() error {
	if s.media == nil {
		return status.New(status.NoSupport)
	}
	return s.media.Previous()
}

// Playing reports the bridged playback state.
func (s *Service) Playing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playing
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
