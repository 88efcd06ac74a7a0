/*
Package audiotransport carries PCM/ISO audio between the service and the
external media engine over local sockets: per direction a CTRL channel for
the start/stop/config protocol and a DATA channel streaming raw frames of
sdu_size bytes.

Each channel is a Unix-domain listener that accepts exactly one client; a
second connection attempt is rejected while the first is alive, and a
client-side I/O error tears down just the client connection while the
listener stays up for the engine to reconnect.
*/
package audiotransport

import (
	"net"
	"os"
	"sync"

	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/serviceloop"
	"github.com/btsvc/btserviced/status"
)

var logger = btlog.Component("audiotransport")

// Event is a channel lifecycle or data-readiness notification.
type Event uint8

const (
	EventOpen Event = 1 << iota
	EventClose
	EventRxData
	EventRxDataReady
	EventTxDataReady
)

func (e Event) String() string {
	switch e {
	case EventOpen:
		return "OPEN"
	case EventClose:
		return "CLOSE"
	case EventRxData:
		return "RX_DATA"
	case EventRxDataReady:
		return "RX_DATA_READY"
	case EventTxDataReady:
		return "TX_DATA_READY"
	}
	return "UNKNOWN"
}

// ChannelID names one of the transport's fixed channels.
type ChannelID uint8

const (
	ChSinkCtrl ChannelID = iota
	ChSinkData
	ChSourceCtrl
	ChSourceData

	// ChannelCount is the number of channels per transport.
	ChannelCount
)

// ConnState is a channel's client-connection state. CONNECTING is implicit
// between listen and accept.
type ConnState int8

const (
	StateDisconnected ConnState = -1
	StateConnected    ConnState = 0
)

// EventCallback observes channel events; invoked on the service loop.
type EventCallback func(ch ChannelID, ev Event)

// ReadCallback receives bytes read from the client; n < 0 signals EOF.
type ReadCallback func(ch ChannelID, data []byte, n int)

// WriteCallback fires when an asynchronous write completes or fails.
type WriteCallback func(ch ChannelID, data []byte)

type channel struct {
	id      ChannelID
	path    string
	eventCb EventCallback

	mu       sync.Mutex
	listener net.Listener
	conn     net.Conn
	state    ConnState
	closing  bool
	reading  bool
	readCb   ReadCallback

	writeQ chan writeReq
	done   chan struct{}
}

type writeReq struct {
	data []byte
	cb   WriteCallback
}

// Transport owns the channel set for one audio instance.
type Transport struct {
	loop *serviceloop.Loop

	mu      sync.Mutex
	closing bool
	ch      [ChannelCount]*channel
}

// Init constructs a Transport bound to the service loop.
func Init(loop *serviceloop.Loop) *Transport {
	return &Transport{loop: loop}
}

// Open unlinks any stale socket at path, binds a listener, and starts
// accepting. The first client connects the channel; later clients are
// rejected until it disconnects.
func (t *Transport) Open(id ChannelID, path string, cb EventCallback) error {
	if id >= ChannelCount {
		return status.New(status.ParamInvalid)
	}
	t.mu.Lock()
	if t.ch[id] != nil {
		t.mu.Unlock()
		return status.New(status.Busy)
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		t.mu.Unlock()
		return status.Wrap(status.Fail, err)
	}
	c := &channel{
		id:       id,
		path:     path,
		eventCb:  cb,
		listener: ln,
		state:    StateDisconnected,
		writeQ:   make(chan writeReq, 32),
		done:     make(chan struct{}),
	}
	t.ch[id] = c
	t.mu.Unlock()

	go t.acceptLoop(c)
	go t.writeLoop(c)
	logger.Info("channel open", "ch", id, "path", path)
	return nil
}

func (t *Transport) acceptLoop(c *channel) {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		if c.closing || c.state == StateConnected {
			c.mu.Unlock()
			// one client at a time; reject the interloper
			conn.Close()
			continue
		}
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()

		t.emit(c, EventOpen)
	}
}

func (t *Transport) emit(c *channel, ev Event) {
	if c.eventCb == nil {
		return
	}
	t.loop.Post(func() { c.eventCb(c.id, ev) })
}

// Write copies data and submits it asynchronously; cb fires with the
// transport's own copy on completion or failure. Any write error closes the
// client side and posts CLOSE, leaving the listener alive.
func (t *Transport) Write(id ChannelID, data []byte, cb WriteCallback) error {
	c := t.channel(id)
	if c == nil {
		return status.New(status.ParamInvalid)
	}
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return status.New(status.NotConnected)
	}
	owned := append([]byte(nil), data...)
	select {
	case c.writeQ <- writeReq{data: owned, cb: cb}:
		return nil
	default:
		return status.New(status.Busy)
	}
}

func (t *Transport) writeLoop(c *channel) {
	for {
		select {
		case <-c.done:
			return
		case req := <-c.writeQ:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			var err error
			if conn == nil {
				err = status.New(status.NotConnected)
			} else {
				_, err = conn.Write(req.data)
			}
			if req.cb != nil {
				data := req.data
				t.loop.Post(func() { req.cb(c.id, data) })
			}
			if err != nil && conn != nil {
				logger.Warn("write failed, dropping client", "ch", c.id, "err", err)
				t.dropClient(c)
			}
		}
	}
}

// ReadStart attaches a reader to the client connection. EOF or a read
// error closes the client side.
func (t *Transport) ReadStart(id ChannelID, readCb ReadCallback) error {
	c := t.channel(id)
	if c == nil {
		return status.New(status.ParamInvalid)
	}
	c.mu.Lock()
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return status.New(status.NotConnected)
	}
	if c.reading {
		c.mu.Unlock()
		return status.New(status.Busy)
	}
	c.reading = true
	c.readCb = readCb
	conn := c.conn
	c.mu.Unlock()

	go t.readLoop(c, conn)
	return nil
}

// ReadStop detaches the reader; the next read returns and the goroutine
// exits without tearing the connection down.
func (t *Transport) ReadStop(id ChannelID) error {
	c := t.channel(id)
	if c == nil {
		return status.New(status.ParamInvalid)
	}
	c.mu.Lock()
	c.reading = false
	c.mu.Unlock()
	return nil
}

func (t *Transport) readLoop(c *channel, conn net.Conn) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		c.mu.Lock()
		stopped := !c.reading
		cb := c.readCb
		c.mu.Unlock()
		if stopped {
			return
		}
		if err != nil {
			if cb != nil {
				t.loop.Post(func() { cb(c.id, nil, -1) })
			}
			t.dropClient(c)
			return
		}
		if cb != nil {
			data := append([]byte(nil), buf[:n]...)
			got := n
			t.loop.Post(func() { cb(c.id, data, got) })
		}
	}
}

// dropClient closes just the client side; the listener stays up unless the
// whole channel is closing.
func (t *Transport) dropClient(c *channel) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.reading = false
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		t.emit(c, EventClose)
	}
}

// Close tears the channel down: client first (stopping reads), then the
// listener. When every channel has reported disconnected the transport is
// inert and may be dropped.
func (t *Transport) Close(id ChannelID) {
	c := t.channel(id)
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.reading = false
	c.mu.Unlock()

	t.dropClient(c)
	c.listener.Close()
	close(c.done)
	_ = os.Remove(c.path)

	t.mu.Lock()
	t.ch[id] = nil
	t.mu.Unlock()
	logger.Info("channel closed", "ch", id)
}

// CloseAll closes every open channel.
func (t *Transport) CloseAll() {
	t.mu.Lock()
	t.closing = true
	t.mu.Unlock()
	for id := ChannelID(0); id < ChannelCount; id++ {
		t.Close(id)
	}
}

// State returns the channel's connection state.
func (t *Transport) State(id ChannelID) ConnState {
	c := t.channel(id)
	if c == nil {
		return StateDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (t *Transport) channel(id ChannelID) *channel {
	if id >= ChannelCount {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch[id]
}
