package leaclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/config"
	"github.com/btsvc/btserviced/sal/salfake"
	"github.com/btsvc/btserviced/serviceloop"
)

func newService(t *testing.T) (*Service, *salfake.Stack, *serviceloop.Loop) {
	t.Helper()
	loop := serviceloop.New("lea-test")
	loop.Run(true)
	t.Cleanup(loop.Exit)

	stack := salfake.New()
	s := NewService(loop, stack.Bundle(), config.Default())
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s, stack, loop
}

func connectPeer(t *testing.T, s *Service, loop *serviceloop.Loop) bt.Address {
	t.Helper()
	addr, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	require.NoError(t, s.Connect(addr))
	s.OnConnectionChanged(addr, true)
	loop.PostSync(func() {})
	require.Equal(t, bt.Connected, s.GetConnectionState(addr))
	return addr
}

func TestASEFullLifecycle(t *testing.T) {
	s, stack, loop := newService(t)
	addr := connectPeer(t, s, loop)

	require.NoError(t, s.ConfigCodec(addr, 1, []byte{0x01}))
	require.NoError(t, s.ConfigQoS(addr, 1, []byte{0x02}))
	require.NoError(t, s.Enable(addr, 1))

	st, err := s.ASEStateOf(addr, 1)
	require.NoError(t, err)
	assert.Equal(t, ASEEnabling, st)

	// acceptor confirms streaming
	s.OnASEStateChanged(addr, 1, ASEStreaming)
	st, _ = s.ASEStateOf(addr, 1)
	assert.Equal(t, ASEStreaming, st)

	require.NoError(t, s.Disable(addr, 1))
	s.OnASEStateChanged(addr, 1, ASEQoSConfigured)
	require.NoError(t, s.Release(addr, 1))
	s.OnASEStateChanged(addr, 1, ASEIdle)

	st, _ = s.ASEStateOf(addr, 1)
	assert.Equal(t, ASEIdle, st)

	assert.Equal(t, 1, stack.CallCount("ConfigCodec"))
	assert.Equal(t, 1, stack.CallCount("ConfigQoS"))
	assert.Equal(t, 1, stack.CallCount("Enable"))
}

func TestASERejectsSkippedStates(t *testing.T) {
	s, stack, loop := newService(t)
	addr := connectPeer(t, s, loop)

	// enabling straight from idle is not a legal ASCS transition
	err := s.Enable(addr, 1)
	assert.Error(t, err)
	assert.Zero(t, stack.CallCount("Enable"))

	// qos before codec likewise
	err = s.ConfigQoS(addr, 1, []byte{0x02})
	assert.Error(t, err)
}

func TestIllegalAcceptorTransitionIgnored(t *testing.T) {
	s, _, loop := newService(t)
	addr := connectPeer(t, s, loop)

	require.NoError(t, s.ConfigCodec(addr, 1, []byte{0x01}))

	// acceptor claims streaming out of codec-configured: ignored
	s.OnASEStateChanged(addr, 1, ASEStreaming)
	st, _ := s.ASEStateOf(addr, 1)
	assert.Equal(t, ASECodecConfigured, st)
}

func TestDisconnectDropsASEs(t *testing.T) {
	s, _, loop := newService(t)
	addr := connectPeer(t, s, loop)
	require.NoError(t, s.ConfigCodec(addr, 1, []byte{0x01}))

	s.OnConnectionChanged(addr, false)
	loop.PostSync(func() {})
	_, err := s.ASEStateOf(addr, 1)
	assert.Error(t, err, "peer record freed on disconnect")
}
