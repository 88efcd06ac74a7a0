package audiotransport

import (
	"sync"
	"time"

	"github.com/btsvc/btserviced/serviceloop"
)

const (
	// sinkTick is the media timer period driving packet writes.
	sinkTick = 10 * time.Millisecond

	// maxDelayPackets is the queue depth that arms the media timer.
	maxDelayPackets = 5

	// maxEnqueuedPackets caps the queue; overflow drops the head.
	maxEnqueuedPackets = 14

	// maxInflightSends caps writes submitted but not yet completed.
	maxInflightSends = 14

	// underflowReportGap is how long the queue must stay empty before an
	// underrun is reported.
	underflowReportGap = 20 * time.Millisecond

	// blockReportTicks is how many consecutive full-outbound ticks pass
	// before blocking is reported (3 ticks ≈ 20ms beyond the first).
	blockReportTicks = 2
)

// StreamState is the sink/source stream lifecycle.
type StreamState uint8

const (
	StreamOff StreamState = iota
	StreamRunning
	StreamFlushing
)

// Packet is one received ISO/media frame queued toward the engine.
type Packet struct {
	Seq       uint16
	Timestamp uint32
	Payload   []byte
}

// PacketWriter is where the sink pushes packets; the real transport writes
// the DATA channel, tests substitute their own. done must be invoked once
// per accepted write when it completes.
type PacketWriter interface {
	WritePacket(p *Packet, done func())
}

// SinkWriter adapts one of the transport's DATA channels to the
// PacketWriter contract.
func (t *Transport) SinkWriter(ch ChannelID) PacketWriter {
	return &transportWriter{t: t, ch: ch}
}

type transportWriter struct {
	t  *Transport
	ch ChannelID
}

func (w *transportWriter) WritePacket(p *Packet, done func()) {
	err := w.t.Write(w.ch, p.Payload, func(ChannelID, []byte) { done() })
	if err != nil {
		done()
	}
}

// SinkStream queues received media packets and paces them to the engine on
// the media timer: the queue is capped at 14 with drop-head overflow, the
// timer arms at 5 enqueued, writes are capped at 14 in flight, a full
// outbound queue is reported as blocking after ~20ms, and an empty queue
// is reported as underrun once the gap exceeds 20ms.
type SinkStream struct {
	loop   *serviceloop.Loop
	writer PacketWriter

	mu           sync.Mutex
	state        StreamState
	ready        bool
	offloading   bool
	queue        []*Packet
	sendingCnt   int
	underflowTS  int64 // µs; 0 when not underflowing
	blockTicks   int
	dropped      int
	recvTimer    *serviceloop.Timer
	config       AudioConfig
	blockedCb    func()
	underrunCb   func(gap time.Duration)
	now          func() int64 // µs; swappable for tests
	tickOverride time.Duration
}

// NewSinkStream constructs an OFF stream pushing into writer.
func NewSinkStream(loop *serviceloop.Loop, writer PacketWriter) *SinkStream {
	return &SinkStream{
		loop:   loop,
		writer: writer,
		now:    serviceloop.GetOSTimestampUS,
	}
}

// OnBlocked installs the back-pressure report callback.
func (s *SinkStream) OnBlocked(cb func()) { s.blockedCb = cb }

// OnUnderrun installs the underrun report callback.
func (s *SinkStream) OnUnderrun(cb func(gap time.Duration)) { s.underrunCb = cb }

// UpdateConfig records the negotiated codec parameters and marks the
// stream ready.
func (s *SinkStream) UpdateConfig(cfg AudioConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
	s.ready = cfg.Valid
}

// Start moves the stream to RUNNING. Packets queue from Enqueue; pacing
// begins once the queue reaches the delay watermark.
func (s *SinkStream) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamRunning {
		return
	}
	s.state = StreamRunning
	s.underflowTS = 0
	s.blockTicks = 0
}

// Stop flushes the queue and disarms the timer. Queued packets are freed,
// never delivered.
func (s *SinkStream) Stop() {
	s.mu.Lock()
	s.state = StreamFlushing
	s.queue = nil
	timer := s.recvTimer
	s.recvTimer = nil
	s.state = StreamOff
	s.mu.Unlock()
	timer.Cancel()
}

// Enqueue accepts one received packet. On overflow the head (oldest)
// packet is dropped so the stream stays near real time. Reaching the delay
// watermark arms the media timer.
func (s *SinkStream) Enqueue(p *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StreamRunning {
		return
	}
	if len(s.queue) == maxEnqueuedPackets {
		s.queue = s.queue[1:]
		s.dropped++
		logger.Debug("sink queue full, dropping head", "dropped", s.dropped)
	}
	s.queue = append(s.queue, p)

	if len(s.queue) >= maxDelayPackets && s.recvTimer == nil {
		s.underflowTS = 0
		s.blockTicks = 0
		tick := sinkTick
		if s.tickOverride > 0 {
			tick = s.tickOverride
		}
		s.recvTimer = s.loop.Timer(tick, tick, s.tick)
	}
}

// tick runs on the media timer: write as many queued packets as the
// in-flight budget allows, then account for underflow/blocking.
func (s *SinkStream) tick() {
	s.mu.Lock()
	if s.state != StreamRunning {
		s.mu.Unlock()
		return
	}

	var toSend []*Packet
	for len(s.queue) > 0 && s.sendingCnt < maxInflightSends {
		p := s.queue[0]
		s.queue = s.queue[1:]
		s.sendingCnt++
		toSend = append(toSend, p)
	}

	if len(s.queue) == 0 && len(toSend) == 0 {
		if s.underflowTS == 0 {
			s.underflowTS = s.now()
		}
	} else if s.underflowTS != 0 {
		gap := time.Duration(s.now()-s.underflowTS) * time.Microsecond
		if gap > underflowReportGap && s.underrunCb != nil {
			cb := s.underrunCb
			s.loop.Post(func() { cb(gap) })
		}
		s.underflowTS = 0
	}

	if len(toSend) == 0 && s.sendingCnt >= maxInflightSends {
		s.blockTicks++
		if s.blockTicks > blockReportTicks && s.blockedCb != nil {
			cb := s.blockedCb
			s.loop.Post(cb)
		}
	} else if len(toSend) > 0 {
		s.blockTicks = 0
	}
	s.mu.Unlock()

	for _, p := range toSend {
		s.writer.WritePacket(p, s.writeDone)
	}
}

func (s *SinkStream) writeDone() {
	s.mu.Lock()
	if s.sendingCnt > 0 {
		s.sendingCnt--
	}
	s.blockTicks = 0
	s.mu.Unlock()
}

// Depth returns the current queue length.
func (s *SinkStream) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped returns how many packets overflow has discarded.
func (s *SinkStream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Inflight returns the outstanding-send count.
func (s *SinkStream) Inflight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendingCnt
}

// State returns the stream lifecycle state.
func (s *SinkStream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
