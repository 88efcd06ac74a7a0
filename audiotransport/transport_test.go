package audiotransport

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/serviceloop"
)

func newLoop(t *testing.T) *serviceloop.Loop {
	t.Helper()
	loop := serviceloop.New("test")
	loop.Run(true)
	t.Cleanup(loop.Exit)
	return loop
}

type captureWriter struct {
	mu      sync.Mutex
	packets []*Packet
	dones   []func()
}

func (w *captureWriter) WritePacket(p *Packet, done func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.packets = append(w.packets, p)
	w.dones = append(w.dones, done)
}

func (w *captureWriter) completeAll() {
	w.mu.Lock()
	dones := w.dones
	w.dones = nil
	w.mu.Unlock()
	for _, d := range dones {
		d()
	}
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.packets)
}

// S6: back-pressure. Write completion withheld: the queue caps at 14 with
// drop-head overflow, the in-flight counter never exceeds 14, blocking is
// reported after three starved ticks, and completing the writes resets it.
func TestSinkBackPressure(t *testing.T) {
	loop := newLoop(t)
	w := &captureWriter{}
	s := NewSinkStream(loop, w)
	s.tickOverride = time.Hour // drive ticks by hand

	blocked := 0
	s.OnBlocked(func() { blocked++ })
	s.Start()

	for i := 0; i < 20; i++ {
		s.Enqueue(&Packet{Seq: uint16(i)})
	}
	assert.Equal(t, 14, s.Depth(), "queue caps at 14")
	assert.Equal(t, 6, s.Dropped(), "head dropped as newer packets arrive")

	s.tick()
	assert.Equal(t, 14, s.Inflight(), "in-flight capped at 14")
	assert.Equal(t, 14, w.count())
	// oldest six were dropped, so the first delivered packet is seq 6
	assert.Equal(t, uint16(6), w.packets[0].Seq)

	// more packets arrive while every send slot is taken
	for i := 20; i < 25; i++ {
		s.Enqueue(&Packet{Seq: uint16(i)})
	}
	for i := 0; i < 3; i++ {
		s.tick()
	}
	assert.Equal(t, 14, s.Inflight(), "still capped")

	loop.PostSync(func() {})
	assert.Positive(t, blocked, "blocking reported after three starved ticks")

	w.completeAll()
	s.tick()
	assert.Equal(t, 5, s.Inflight(), "writes resume once completions land")
	loop.PostSync(func() {})
}

func TestSinkStopFlushesQueue(t *testing.T) {
	loop := newLoop(t)
	w := &captureWriter{}
	s := NewSinkStream(loop, w)
	s.tickOverride = time.Hour
	s.Start()

	for i := 0; i < 4; i++ {
		s.Enqueue(&Packet{Seq: uint16(i)})
	}
	require.Equal(t, 4, s.Depth())

	s.Stop()
	assert.Equal(t, 0, s.Depth(), "stop frees queued packets")
	assert.Equal(t, 0, w.count(), "flushed packets are never delivered")
	assert.Equal(t, StreamOff, s.State())

	s.Enqueue(&Packet{Seq: 99})
	assert.Equal(t, 0, s.Depth(), "stopped stream rejects packets")
}

func TestSinkUnderrunReport(t *testing.T) {
	loop := newLoop(t)
	w := &captureWriter{}
	s := NewSinkStream(loop, w)
	s.tickOverride = time.Hour

	var fakeNow int64
	s.now = func() int64 { return fakeNow }

	var gap time.Duration
	s.OnUnderrun(func(g time.Duration) { gap = g })
	s.Start()

	fakeNow = 1_000_000
	s.tick() // empty queue: underflow timestamp recorded
	fakeNow = 1_030_000
	s.Enqueue(&Packet{Seq: 1})
	s.tick() // 30ms gap > 20ms threshold

	loop.PostSync(func() {})
	assert.Equal(t, 30*time.Millisecond, gap)
}

func TestSourceDrainsWholeSDUs(t *testing.T) {
	loop := newLoop(t)

	var mu sync.Mutex
	var sent [][]byte
	s := NewSourceStream(loop, func(buf []byte) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, append([]byte(nil), buf...))
		return nil
	})

	require.NoError(t, s.UpdateCodec(100, time.Hour)) // tick by hand
	require.NoError(t, s.Start())
	defer s.Stop()

	n := s.Feed(make([]byte, 250))
	require.Equal(t, 250, n)

	s.drain()
	mu.Lock()
	assert.Len(t, sent, 2, "two whole SDUs out of 250 pooled bytes")
	mu.Unlock()
	assert.Equal(t, 50, s.Pooled(), "partial SDU stays pooled")
}

func TestSourceRejectsOversizedSDU(t *testing.T) {
	loop := newLoop(t)
	s := NewSourceStream(loop, func([]byte) error { return nil })
	assert.Error(t, s.UpdateCodec(maxSDUSize+1, 0))
}

func TestChannelAcceptsOneClient(t *testing.T) {
	loop := newLoop(t)
	tr := Init(loop)
	path := filepath.Join(t.TempDir(), "ctrl.sock")

	events := make(chan Event, 8)
	require.NoError(t, tr.Open(ChSinkCtrl, path, func(ch ChannelID, ev Event) {
		events <- ev
	}))
	t.Cleanup(tr.CloseAll)

	first, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer first.Close()

	select {
	case ev := <-events:
		require.Equal(t, EventOpen, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no OPEN event")
	}
	require.Equal(t, StateConnected, tr.State(ChSinkCtrl))

	// second client is rejected: its connection closes without an event
	second, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.Error(t, err, "interloper connection must be closed by the server")
	require.Equal(t, StateConnected, tr.State(ChSinkCtrl))
}

func TestClientErrorKeepsListener(t *testing.T) {
	loop := newLoop(t)
	tr := Init(loop)
	path := filepath.Join(t.TempDir(), "data.sock")

	events := make(chan Event, 8)
	require.NoError(t, tr.Open(ChSinkData, path, func(ch ChannelID, ev Event) {
		events <- ev
	}))
	t.Cleanup(tr.CloseAll)

	cli, err := net.Dial("unix", path)
	require.NoError(t, err)
	waitEvent(t, events, EventOpen)

	require.NoError(t, tr.ReadStart(ChSinkData, func(ch ChannelID, data []byte, n int) {}))
	cli.Close()
	waitEvent(t, events, EventClose)

	// listener survived the client failure: a reconnect succeeds
	again, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer again.Close()
	waitEvent(t, events, EventOpen)
}

func waitEvent(t *testing.T, events chan Event, want Event) {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev == want {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestTransportWriteDeliversToClient(t *testing.T) {
	loop := newLoop(t)
	tr := Init(loop)
	path := filepath.Join(t.TempDir(), "out.sock")

	events := make(chan Event, 8)
	require.NoError(t, tr.Open(ChSourceCtrl, path, func(ch ChannelID, ev Event) {
		events <- ev
	}))
	t.Cleanup(tr.CloseAll)

	cli, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer cli.Close()
	waitEvent(t, events, EventOpen)

	done := make(chan []byte, 1)
	require.NoError(t, tr.Write(ChSourceCtrl, EncodeCtrlEvent(EvtStarted, nil), func(ch ChannelID, data []byte) {
		done <- data
	}))

	buf := make([]byte, 16)
	cli.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := cli.Read(buf)
	require.NoError(t, err)
	evt, _, err := DecodeCtrlEvent(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, EvtStarted, evt)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write completion not delivered")
	}
}
