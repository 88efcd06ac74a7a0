// Package lowenergy implements the LE advertiser and scanner sessions:
// thin start/stop machines over per-remote records, where a failed start
// frees the record exactly once and stop is only legal after a confirmed
// start.
package lowenergy

import (
	"sync"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
	"github.com/btsvc/btserviced/status"
)

var logger = btlog.Component("lowenergy")

type advState uint8

const (
	advStarting advState = iota
	advStarted
	advStopping
)

// AdvCallbacks receives one advertising set's lifecycle.
type AdvCallbacks struct {
	OnStart func(advID uint8, st status.Code)
	OnStop  func(advID uint8)
}

type advRecord struct {
	id    uint8
	state advState
	cbs   AdvCallbacks
}

// Advertiser multiplexes advertising sets over the LE controller.
type Advertiser struct {
	loop  *serviceloop.Loop
	stack sal.Advertising

	mu      sync.Mutex
	records map[uint8]*advRecord
}

// NewAdvertiser constructs an empty advertiser.
func NewAdvertiser(loop *serviceloop.Loop, stack sal.Advertising) *Advertiser {
	return &Advertiser{loop: loop, stack: stack, records: make(map[uint8]*advRecord)}
}

// Start creates the set record and submits the start. The record lives
// until a failed start callback, or a completed stop.
func (a *Advertiser) Start(advID uint8, params []byte, cbs AdvCallbacks) error {
	a.mu.Lock()
	if _, ok := a.records[advID]; ok {
		a.mu.Unlock()
		return status.New(status.InProgress)
	}
	a.records[advID] = &advRecord{id: advID, state: advStarting, cbs: cbs}
	a.mu.Unlock()

	if err := a.stack.StartAdvertising(advID, params); err != nil {
		a.free(advID)
		return err
	}
	return nil
}

// Stop is legal only on a confirmed-started set.
func (a *Advertiser) Stop(advID uint8) error {
	a.mu.Lock()
	rec, ok := a.records[advID]
	if !ok || rec.state != advStarted {
		a.mu.Unlock()
		return status.New(status.NotFound)
	}
	rec.state = advStopping
	a.mu.Unlock()
	return a.stack.StopAdvertising(advID)
}

// OnStarted is the controller's start-complete callback. A failure frees
// the record exactly once, before the subscriber hears about it.
func (a *Advertiser) OnStarted(advID uint8, st status.Code) {
	a.loop.Post(func() {
		a.mu.Lock()
		rec, ok := a.records[advID]
		if !ok || rec.state != advStarting {
			a.mu.Unlock()
			return
		}
		if st != status.OK {
			delete(a.records, advID)
		} else {
			rec.state = advStarted
		}
		a.mu.Unlock()

		if rec.cbs.OnStart != nil {
			rec.cbs.OnStart(advID, st)
		}
	})
}

// OnStopped is the controller's stop-complete callback; it frees the
// record.
func (a *Advertiser) OnStopped(advID uint8) {
	a.loop.Post(func() {
		a.mu.Lock()
		rec, ok := a.records[advID]
		if !ok {
			a.mu.Unlock()
			return
		}
		delete(a.records, advID)
		a.mu.Unlock()

		if rec.cbs.OnStop != nil {
			rec.cbs.OnStop(advID)
		}
	})
}

// Active reports whether advID has a live record.
func (a *Advertiser) Active(advID uint8) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.records[advID]
	return ok
}

func (a *Advertiser) free(advID uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, advID)
}

// ScanCallbacks receives the scanner lifecycle and reports.
type ScanCallbacks struct {
	OnStart  func(st status.Code)
	OnStop   func()
	OnReport func(addr bt.Address, rssi int8, data []byte)
}

type scanState uint8

const (
	scanIdle scanState = iota
	scanStarting
	scanRunning
	scanStopping
)

// Scanner owns the single LE scan session.
type Scanner struct {
	loop  *serviceloop.Loop
	stack sal.Advertising

	mu    sync.Mutex
	state scanState
	cbs   ScanCallbacks
}

// NewScanner constructs an idle scanner.
func NewScanner(loop *serviceloop.Loop, stack sal.Advertising) *Scanner {
	return &Scanner{loop: loop, stack: stack}
}

// Start submits the scan start; only one session at a time.
func (s *Scanner) Start(params []byte, cbs ScanCallbacks) error {
	s.mu.Lock()
	if s.state != scanIdle {
		s.mu.Unlock()
		return status.New(status.Busy)
	}
	s.state = scanStarting
	s.cbs = cbs
	s.mu.Unlock()

	if err := s.stack.StartScan(params); err != nil {
		s.mu.Lock()
		s.state = scanIdle
		s.mu.Unlock()
		return err
	}
	return nil
}

// Stop is legal only on a confirmed-running session.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	if s.state != scanRunning {
		s.mu.Unlock()
		return status.New(status.NotFound)
	}
	s.state = scanStopping
	s.mu.Unlock()
	return s.stack.StopScan()
}

// OnStarted is the controller's start-complete callback.
func (s *Scanner) OnStarted(st status.Code) {
	s.loop.Post(func() {
		s.mu.Lock()
		if s.state != scanStarting {
			s.mu.Unlock()
			return
		}
		cbs := s.cbs
		if st != status.OK {
			s.state = scanIdle
			s.cbs = ScanCallbacks{}
		} else {
			s.state = scanRunning
		}
		s.mu.Unlock()

		if cbs.OnStart != nil {
			cbs.OnStart(st)
		}
	})
}

// OnStopped is the controller's stop-complete callback.
func (s *Scanner) OnStopped() {
	s.loop.Post(func() {
		s.mu.Lock()
		if s.state != scanStopping {
			s.mu.Unlock()
			return
		}
		cbs := s.cbs
		s.state = scanIdle
		s.cbs = ScanCallbacks{}
		s.mu.Unlock()

		if cbs.OnStop != nil {
			cbs.OnStop()
		}
	})
}

// OnReport delivers one advertisement to the running session.
func (s *Scanner) OnReport(addr bt.Address, rssi int8, data []byte) {
	payload := append([]byte(nil), data...)
	s.loop.Post(func() {
		s.mu.Lock()
		cb := s.cbs.OnReport
		running := s.state == scanRunning
		s.mu.Unlock()
		if running && cb != nil {
			cb(addr, rssi, payload)
		}
	})
}

// Running reports whether a session is confirmed live.
func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == scanRunning
}
