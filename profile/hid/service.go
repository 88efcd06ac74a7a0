// Package hid implements the HID device role: a per-peer connection
// lifecycle and the report path toward the host.
package hid

import (
	"sync"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/callbacks"
	"github.com/btsvc/btserviced/config"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
	"github.com/btsvc/btserviced/status"
)

var logger = btlog.Component("hid")

// Callbacks is the subscriber table fanned out by the service.
type Callbacks struct {
	ConnectionStateChanged func(addr bt.Address, state bt.ConnectionState)
	ReportReceived         func(addr bt.Address, reportID uint8, data []byte)
}

// Service owns the HID device role.
type Service struct {
	loop  *serviceloop.Loop
	stack sal.HID

	mu      sync.RWMutex
	devices map[bt.Address]bt.ConnectionState
	started bool

	cbs *callbacks.List[Callbacks]
}

// NewService constructs a stopped service.
func NewService(loop *serviceloop.Loop, stack *sal.Stack, cfg *config.Config) *Service {
	return &Service{
		loop:    loop,
		stack:   stack.HID,
		devices: make(map[bt.Address]bt.ConnectionState),
		cbs:     callbacks.New[Callbacks](cfg.MaxCallbacks),
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

// Stop drops every peer record.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = make(map[bt.Address]bt.ConnectionState)
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

// Connect initiates the HID connection.
func (s *Service) Connect(addr bt.Address) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return status.New(status.NotReady)
	}
	if st, ok := s.devices[addr]; ok && st != bt.Disconnected {
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

// Disconnect tears the connection down.
func (s *Service) Disconnect(addr bt.Address) error {
	s.mu.RLock()
	st, ok := s.devices[addr]
	s.mu.RUnlock()
	if !ok || st == bt.Disconnected {
		return status.New(status.NotConnected)
	}
	if err := s.stack.Disconnect(addr); err != nil {
		return err
	}
	s.setState(addr, bt.Disconnecting)
	s.report(addr, bt.Disconnecting)
	return nil
}

// SendReport pushes one input report to the host.
func (s *Service) SendReport(addr bt.Address, reportID uint8, data []byte) error {
	s.mu.RLock()
	st := s.devices[addr]
	s.mu.RUnlock()
	if st != bt.Connected {
		return status.New(status.NotConnected)
	}
	return s.stack.SendReport(addr, reportID, data)
}

// GetConnectionState reports addr's lifecycle state.
func (s *Service) GetConnectionState(addr bt.Address) bt.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[addr]
}

// OnConnectionChanged is the SAL connection callback.
func (s *Service) OnConnectionChanged(addr bt.Address, connected bool) {
	s.loop.Post(func() {
		state := bt.Disconnected
		if connected {
			state = bt.Connected
		}
		s.setState(addr, state)
		s.report(addr, state)
	})
}

// OnReportReceived is the SAL output-report callback.
func (s *Service) OnReportReceived(addr bt.Address, reportID uint8, data []byte) {
	payload := append([]byte(nil), data...)
	s.loop.Post(func() {
		s.cbs.Foreach(func(_ *callbacks.RemoteCookie, cb Callbacks) {
			if cb.ReportReceived != nil {
				cb.ReportReceived(addr, reportID, payload)
			}
		})
	})
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
