package ipc

import (
	"net"
	"sync"

	"github.com/btsvc/btserviced/status"
)

// EventHandler receives one decoded event packet for a domain.
type EventHandler func(p *Packet)

// Client is the library side of the protocol: serialized request/response
// over one connection, with a dedicated reader goroutine splitting replies
// from asynchronous events.
type Client struct {
	conn net.Conn

	// reqMu serializes SendRecv so replies match requests one-to-one.
	reqMu   sync.Mutex
	replyCh chan *Packet

	mu       sync.Mutex
	events   map[Domain]EventHandler
	remotes  *RemoteList
	closed   bool
	closedCh chan struct{}
}

// Dial connects to the service socket.
func Dial(network, address string) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, status.Wrap(status.Fail, err)
	}
	c := &Client{
		conn:     conn,
		replyCh:  make(chan *Packet, 1),
		events:   make(map[Domain]EventHandler),
		remotes:  NewRemoteList(),
		closedCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Remotes exposes the client's per-instance remote registration list,
// used by event decoders to drop events for unregistered cookies.
func (c *Client) Remotes() *RemoteList { return c.remotes }

// OnEvent installs the event decoder for a domain. Events for domains with
// no decoder are dropped.
func (c *Client) OnEvent(d Domain, h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[d] = h
}

// SendRecv writes a request and blocks until its reply arrives. Events
// received while waiting are dispatched, not lost.
func (c *Client) SendRecv(code Opcode, body Body) (*Reply, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := WritePacket(c.conn, Marshal(code, body)); err != nil {
		return nil, status.Wrap(status.Fail, err)
	}
	select {
	case p := <-c.replyCh:
		if p.Code != code {
			return nil, status.New(status.Fail)
		}
		var r Reply
		if err := Unmarshal(p, &r); err != nil {
			return nil, err
		}
		return &r, nil
	case <-c.closedCh:
		return nil, status.New(status.NotConnected)
	}
}

func (c *Client) readLoop() {
	for {
		p, err := ReadPacket(c.conn)
		if err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			close(c.closedCh)
			return
		}
		if p.Code.IsEvent() {
			c.mu.Lock()
			h := c.events[p.Code.Domain()]
			c.mu.Unlock()
			if h != nil {
				h(p)
			}
			continue
		}
		select {
		case c.replyCh <- p:
		default:
			// reply with no waiter; protocol violation, drop it
		}
	}
}

// Close tears the connection down. SendRecv callers unblock with
// NotConnected.
func (c *Client) Close() {
	c.conn.Close()
}

// RemoteList is the reference list of remote cookies this client has
// registered (populated on create-connect / subscribe); the event path
// validates every per-peer event against it before invoking callbacks, so
// an event racing an unregister is dropped instead of reaching a stale
// subscriber.
type RemoteList struct {
	mu      sync.Mutex
	next    uint64
	cookies map[uint64]struct{}
}

// NewRemoteList constructs an empty list.
func NewRemoteList() *RemoteList {
	return &RemoteList{next: 1, cookies: make(map[uint64]struct{})}
}

// Add allocates and registers a new cookie.
func (l *RemoteList) Add() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	cookie := l.next
	l.next++
	l.cookies[cookie] = struct{}{}
	return cookie
}

// Remove unregisters cookie; idempotent.
func (l *RemoteList) Remove(cookie uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cookies, cookie)
}

// Valid reports whether cookie is still registered.
func (l *RemoteList) Valid(cookie uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cookies[cookie]
	return ok
}
