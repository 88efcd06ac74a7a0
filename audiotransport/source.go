package audiotransport

import (
	"sync"
	"time"

	"github.com/btsvc/btserviced/serviceloop"
	"github.com/btsvc/btserviced/status"
)

const (
	// sourcePoolSize is the staging ring between the engine and the
	// per-tick SDU sends.
	sourcePoolSize = 4096

	// maxSDUSize bounds a single configured SDU.
	maxSDUSize = 512

	// defaultSourceTick is used when no codec frame duration is known.
	defaultSourceTick = 10 * time.Millisecond
)

// SendFunc hands one SDU to the stack; the buffer is only valid for the
// duration of the call.
type SendFunc func(buf []byte) error

// SourceStream pulls engine audio from the DATA channel into a ring and
// drains it toward the stack one SDU per slot, every tick, for as long as
// a full SDU is available.
type SourceStream struct {
	loop *serviceloop.Loop
	send SendFunc

	mu        sync.Mutex
	state     StreamState
	pool      *ring
	sduSize   int
	tick      time.Duration
	sendTimer *serviceloop.Timer
}

// NewSourceStream constructs an OFF stream draining into send.
func NewSourceStream(loop *serviceloop.Loop, send SendFunc) *SourceStream {
	return &SourceStream{
		loop: loop,
		send: send,
		pool: newRing(sourcePoolSize),
		tick: defaultSourceTick,
	}
}

// UpdateCodec sets the SDU size and the tick interval derived from the
// codec frame duration; zero keeps the default.
func (s *SourceStream) UpdateCodec(sduSize int, frameDuration time.Duration) error {
	if sduSize <= 0 || sduSize > maxSDUSize {
		return status.New(status.ParamInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sduSize = sduSize
	if frameDuration > 0 {
		s.tick = frameDuration
	}
	return nil
}

// Start arms the send timer.
func (s *SourceStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sduSize == 0 {
		return status.New(status.NotReady)
	}
	if s.state == StreamRunning {
		return nil
	}
	s.state = StreamRunning
	s.pool.reset()
	s.sendTimer = s.loop.Timer(s.tick, s.tick, s.drain)
	return nil
}

// Stop disarms the timer and flushes the pool.
func (s *SourceStream) Stop() {
	s.mu.Lock()
	timer := s.sendTimer
	s.sendTimer = nil
	s.state = StreamOff
	s.pool.reset()
	s.mu.Unlock()
	timer.Cancel()
}

// Feed accepts raw engine audio; bytes that do not fit in the pool are
// discarded and reported in the return value.
func (s *SourceStream) Feed(data []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StreamRunning {
		return 0
	}
	return s.pool.write(data)
}

// drain runs on the send timer: emit SDUs while a full one is pooled.
func (s *SourceStream) drain() {
	s.mu.Lock()
	if s.state != StreamRunning || s.sduSize == 0 {
		s.mu.Unlock()
		return
	}
	var sdus [][]byte
	for s.pool.used() >= s.sduSize {
		buf := make([]byte, s.sduSize)
		s.pool.read(buf)
		sdus = append(sdus, buf)
	}
	s.mu.Unlock()

	for _, buf := range sdus {
		if err := s.send(buf); err != nil {
			logger.Warn("source send failed", "err", err)
			return
		}
	}
}

// Pooled returns how many bytes are staged.
func (s *SourceStream) Pooled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool.used()
}

// State returns the stream lifecycle state.
func (s *SourceStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
