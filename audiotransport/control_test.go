package audiotransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCtrlEventConfigRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := &AudioConfig{
			Valid:         true,
			CodecType:     rapid.Uint32().Draw(t, "codec"),
			SampleRate:    rapid.Uint32().Draw(t, "rate"),
			BitsPerSample: rapid.Uint32().Draw(t, "bits"),
			ChannelMode:   rapid.Uint32().Draw(t, "mode"),
			BitRate:       rapid.Uint32().Draw(t, "bitrate"),
			FrameSize:     rapid.Uint32().Draw(t, "frame"),
			PacketSize:    rapid.Uint32().Draw(t, "packet"),
		}

		evt, got, err := DecodeCtrlEvent(EncodeCtrlEvent(EvtUpdateConfig, cfg))
		require.NoError(t, err)
		assert.Equal(t, EvtUpdateConfig, evt)
		assert.Equal(t, cfg, got)
	})
}

func TestCtrlEventBareOpcodes(t *testing.T) {
	for _, evt := range []CtrlEvt{EvtStarted, EvtStartFail, EvtStopped} {
		data := EncodeCtrlEvent(evt, nil)
		assert.Len(t, data, 1)

		got, cfg, err := DecodeCtrlEvent(data)
		require.NoError(t, err)
		assert.Equal(t, evt, got)
		assert.Nil(t, cfg)
	}
}

func TestDecodeCtrlCmd(t *testing.T) {
	cmd, err := DecodeCtrlCmd([]byte{byte(CmdStart)})
	require.NoError(t, err)
	assert.Equal(t, CmdStart, cmd)

	_, err = DecodeCtrlCmd(nil)
	assert.Error(t, err)

	_, err = DecodeCtrlCmd([]byte{0x7f})
	assert.Error(t, err, "unknown command byte rejected")
}

func TestRing(t *testing.T) {
	r := newRing(8)
	assert.Equal(t, 8, r.cap())

	n := r.write([]byte{1, 2, 3, 4, 5})
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, r.used())

	buf := make([]byte, 3)
	assert.Equal(t, 3, r.read(buf))
	assert.Equal(t, []byte{1, 2, 3}, buf)

	// wrap around the end
	n = r.write([]byte{6, 7, 8, 9, 10, 11})
	assert.Equal(t, 6, n, "only the free space is taken")
	assert.Equal(t, 8, r.used())

	out := make([]byte, 8)
	assert.Equal(t, 8, r.read(out))
	assert.Equal(t, []byte{4, 5, 6, 7, 8, 9, 10, 11}, out)
	assert.Zero(t, r.used())
}
