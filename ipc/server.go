package ipc

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/status"
)

var logger = btlog.Component("ipc")

// Handler processes one request packet for a domain and returns the reply.
// Handlers run on the server's per-connection reader goroutine; anything
// touching a state machine must post through the service loop and use a
// sync post when the reply needs the result.
type Handler func(conn *ServerConn, p *Packet) *Reply

// ServerConn is one accepted client connection. Events can be pushed to it
// from any goroutine.
type ServerConn struct {
	server *Server
	conn   net.Conn

	writeMu sync.Mutex
}

// SendEvent writes an asynchronous event packet to this client.
func (c *ServerConn) SendEvent(code Opcode, body Body) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WritePacket(c.conn, Marshal(code, body))
}

// Server listens on a Unix-domain or TCP socket and dispatches request
// packets by opcode domain.
type Server struct {
	network string
	address string

	mu       sync.Mutex
	handlers map[Domain]Handler
	conns    map[*ServerConn]struct{}
	listener net.Listener
	closed   bool

	// OnDisconnect, when set, fires after a client connection is torn down.
	OnDisconnect func(*ServerConn)

	wg sync.WaitGroup
}

// NewServer constructs a server for the given socket address. network is
// "unix" or "tcp".
func NewServer(network, address string) *Server {
	return &Server{
		network:  network,
		address:  address,
		handlers: make(map[Domain]Handler),
		conns:    make(map[*ServerConn]struct{}),
	}
}

// Register installs the handler for a domain. Later registrations replace
// earlier ones; profile services register during startup, before Listen.
func (s *Server) Register(d Domain, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[d] = h
}

// Listen binds the socket (unlinking a stale Unix socket file first) and
// starts accepting clients on a background goroutine.
func (s *Server) Listen() error {
	if s.network == "unix" {
		_ = os.Remove(s.address)
	}
	ln, err := net.Listen(s.network, s.address)
	if err != nil {
		return status.Wrap(status.Fail, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)
	logger.Info("listening", "network", s.network, "address", s.address)
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		sc := &ServerConn{server: s, conn: conn}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[sc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.readLoop(sc)
	}
}

func (s *Server) readLoop(sc *ServerConn) {
	defer s.wg.Done()
	defer s.dropConn(sc)

	for {
		p, err := ReadPacket(sc.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn("client read failed", "err", err)
			}
			return
		}
		reply := s.dispatch(sc, p)
		sc.writeMu.Lock()
		err = WritePacket(sc.conn, Marshal(p.Code, reply))
		sc.writeMu.Unlock()
		if err != nil {
			logger.Warn("client write failed", "err", err)
			return
		}
	}
}

// dispatch routes by domain. An unknown domain or an unhandled opcode gets
// an explicit NotSupported reply; nothing falls through with a stale
// status.
func (s *Server) dispatch(sc *ServerConn, p *Packet) *Reply {
	s.mu.Lock()
	h, ok := s.handlers[p.Code.Domain()]
	s.mu.Unlock()
	if !ok {
		logger.Warn("no handler for domain", "code", p.Code)
		return &Reply{Status: status.NoSupport}
	}
	if reply := h(sc, p); reply != nil {
		return reply
	}
	return &Reply{Status: status.NoSupport}
}

func (s *Server) dropConn(sc *ServerConn) {
	sc.conn.Close()
	s.mu.Lock()
	delete(s.conns, sc)
	cb := s.OnDisconnect
	s.mu.Unlock()
	if cb != nil {
		cb(sc)
	}
}

// Broadcast sends an event to every connected client.
func (s *Server) Broadcast(code Opcode, body Body) {
	s.mu.Lock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		if err := c.SendEvent(code, body); err != nil {
			logger.Warn("event send failed", "code", code, "err", err)
		}
	}
}

// Close stops accepting, tears down every connection, and waits for the
// reader goroutines to drain.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	conns := make([]*ServerConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.conn.Close()
	}
	s.wg.Wait()
	if s.network == "unix" {
		_ = os.Remove(s.address)
	}
}
