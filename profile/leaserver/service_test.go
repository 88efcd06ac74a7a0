package leaserver

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/config"
	"github.com/btsvc/btserviced/profile/leaclient"
	"github.com/btsvc/btserviced/sal/salfake"
	"github.com/btsvc/btserviced/serviceloop"
)

func newService(t *testing.T) (*Service, *serviceloop.Loop) {
	t.Helper()
	loop := serviceloop.New("leas-test")
	loop.Run(true)
	t.Cleanup(loop.Exit)

	s := NewService(loop, salfake.New().Bundle(), config.Default())
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s, loop
}

func TestControlPointWalksASE(t *testing.T) {
	s, loop := newService(t)
	addr, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	s.OnConnectionChanged(addr, true)
	loop.PostSync(func() {})

	require.NoError(t, s.OnControlPointOperation(addr, 3, leaclient.ASECodecConfigured))
	require.NoError(t, s.OnControlPointOperation(addr, 3, leaclient.ASEQoSConfigured))
	require.NoError(t, s.OnControlPointOperation(addr, 3, leaclient.ASEEnabling))
	require.NoError(t, s.OnControlPointOperation(addr, 3, leaclient.ASEStreaming))

	st, err := s.ASEStateOf(addr, 3)
	require.NoError(t, err)
	assert.Equal(t, leaclient.ASEStreaming, st)
}

func TestControlPointRejectsIllegalOp(t *testing.T) {
	s, loop := newService(t)
	addr, _ := bt.ParseAddress("AA:BB:CC:DD:EE:FF")
	s.OnConnectionChanged(addr, true)
	loop.PostSync(func() {})

	// streaming straight from idle is rejected and the ASE stays put
	assert.Error(t, s.OnControlPointOperation(addr, 3, leaclient.ASEStreaming))
}

func TestMediaBridgeFansOut(t *testing.T) {
	s, loop := newService(t)

	var mu sync.Mutex
	var states []bool
	_, ok := s.RegisterCallbacks(Callbacks{
		MediaStateChanged: func(playing bool) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, playing)
		},
	})
	require.True(t, ok)

	s.OnPlaybackStateChanged(true)
	s.OnPlaybackStateChanged(false)
	loop.PostSync(func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, states)
	assert.False(t, s.Playing())
}
