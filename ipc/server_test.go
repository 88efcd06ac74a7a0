package ipc

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/status"
)

func newTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "ipc.sock")
	srv := NewServer("unix", sock)
	t.Cleanup(srv.Close)
	require.NoError(t, srv.Listen())

	cli, err := Dial("unix", sock)
	require.NoError(t, err)
	t.Cleanup(cli.Close)
	return srv, cli
}

// S5: a GATT client read round-trips through a real socket with identical
// fields, and the reply carries the handler's status.
func TestGattReadRoundTrip(t *testing.T) {
	srv, cli := newTestServer(t)

	addr, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	var got GattRead
	srv.Register(DomainGattClient, func(conn *ServerConn, p *Packet) *Reply {
		switch p.Code {
		case OpGattClientRead:
			if err := Unmarshal(p, &got); err != nil {
				return &Reply{Status: status.ParamInvalid}
			}
			return &Reply{Status: status.OK, V32: uint32(got.Handle)}
		}
		return nil
	})

	req := &GattRead{Addr: addr, Handle: 0x0042, Attr: 0x2a00}
	reply, err := cli.SendRecv(OpGattClientRead, req)
	require.NoError(t, err)

	assert.Equal(t, status.OK, reply.Status)
	assert.Equal(t, uint32(0x0042), reply.V32)
	assert.Equal(t, *req, got)
}

// Invariant 6: every request gets exactly one reply, and an opcode nobody
// handles gets an explicit NotSupported rather than a stale status.
func TestUnknownOpcodeNotSupported(t *testing.T) {
	_, cli := newTestServer(t)

	reply, err := cli.SendRecv(OpPanConnect, &AddrRequest{})
	require.NoError(t, err)
	assert.Equal(t, status.NoSupport, reply.Status)
}

func TestUnhandledOpcodeWithinDomain(t *testing.T) {
	srv, cli := newTestServer(t)
	srv.Register(DomainGattClient, func(conn *ServerConn, p *Packet) *Reply {
		if p.Code == OpGattClientRead {
			return &Reply{Status: status.OK}
		}
		return nil // unhandled within the domain
	})

	reply, err := cli.SendRecv(OpGattClientWrite, &GattValue{})
	require.NoError(t, err)
	assert.Equal(t, status.NoSupport, reply.Status)
}

func TestEventDispatchAndRemoteValidity(t *testing.T) {
	srv, cli := newTestServer(t)
	srv.Register(DomainDevice, func(conn *ServerConn, p *Packet) *Reply {
		return &Reply{Status: status.OK}
	})

	cookie := cli.Remotes().Add()
	stale := cli.Remotes().Add()
	cli.Remotes().Remove(stale)

	delivered := make(chan ConnectionStateEvent, 2)
	cli.OnEvent(DomainDevice, func(p *Packet) {
		var ev ConnectionStateEvent
		if Unmarshal(p, &ev) != nil {
			return
		}
		if !cli.Remotes().Valid(ev.Remote) {
			return
		}
		delivered <- ev
	})

	// A request first, so the server has the connection registered.
	_, err := cli.SendRecv(OpDeviceConnect, &AddrRequest{})
	require.NoError(t, err)

	addr, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	srv.Broadcast(OpEvtConnectionState, &ConnectionStateEvent{Remote: stale, Addr: addr, State: uint8(bt.Connected)})
	srv.Broadcast(OpEvtConnectionState, &ConnectionStateEvent{Remote: cookie, Addr: addr, State: uint8(bt.Connected)})

	select {
	case ev := <-delivered:
		assert.Equal(t, cookie, ev.Remote, "stale-cookie event must be dropped")
		assert.Equal(t, addr, ev.Addr)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case ev := <-delivered:
		t.Fatalf("unexpected extra event for remote %d", ev.Remote)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEventsInterleavedWithReply(t *testing.T) {
	srv, cli := newTestServer(t)
	srv.Register(DomainDevice, func(conn *ServerConn, p *Packet) *Reply {
		// Push an event before the reply is written.
		conn.SendEvent(OpEvtConnectionState, &ConnectionStateEvent{Remote: 9})
		return &Reply{Status: status.OK}
	})

	got := make(chan struct{}, 1)
	cli.OnEvent(DomainDevice, func(p *Packet) { got <- struct{}{} })

	reply, err := cli.SendRecv(OpDeviceConnect, &AddrRequest{})
	require.NoError(t, err)
	assert.Equal(t, status.OK, reply.Status)

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("event lost while waiting for reply")
	}
}
