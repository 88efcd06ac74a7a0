package ipc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/status"
)

func drawAddr(t *rapid.T) bt.Address {
	var a bt.Address
	for i := range a {
		a[i] = rapid.Byte().Draw(t, "addr")
	}
	return a
}

// Encoding a value, decoding it, and re-encoding must reproduce the bytes
// exactly — the packet layout is the contract both peers share.
func TestPacketRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		bodies := []Body{
			&CreateInstance{
				Handle:   rapid.Uint64().Draw(t, "handle"),
				Type:     rapid.Byte().Draw(t, "type"),
				PID:      rapid.Int32().Draw(t, "pid"),
				UID:      rapid.Uint32().Draw(t, "uid"),
				HostName: rapid.StringN(0, 32, -1).Draw(t, "host"),
			},
			&GattRead{
				Addr:   drawAddr(t),
				Handle: rapid.Uint16().Draw(t, "gh"),
				Attr:   rapid.Uint16().Draw(t, "attr"),
			},
			&GattValue{
				Addr:   drawAddr(t),
				Handle: rapid.Uint16().Draw(t, "gvh"),
				Value:  rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "val"),
			},
			&ConnectionStateEvent{
				Remote:  rapid.Uint64().Draw(t, "remote"),
				Addr:    drawAddr(t),
				Profile: rapid.Byte().Draw(t, "profile"),
				State:   rapid.Byte().Draw(t, "state"),
			},
			&ScanResultEvent{
				Addr: drawAddr(t),
				RSSI: int8(rapid.Byte().Draw(t, "rssi")),
				Data: rapid.SliceOfN(rapid.Byte(), 0, 31).Draw(t, "adv"),
			},
			&Reply{
				Status: status.Code(rapid.Byte().Draw(t, "status")),
				V32:    rapid.Uint32().Draw(t, "v32"),
			},
		}
		factories := []func() Body{
			func() Body { return &CreateInstance{} },
			func() Body { return &GattRead{} },
			func() Body { return &GattValue{} },
			func() Body { return &ConnectionStateEvent{} },
			func() Body { return &ScanResultEvent{} },
			func() Body { return &Reply{} },
		}

		i := rapid.IntRange(0, len(bodies)-1).Draw(t, "which")
		first := bodies[i].encode(nil)

		decoded := factories[i]()
		require.NoError(t, decoded.decode(first))

		second := decoded.encode(nil)
		assert.Equal(t, first, second, "decode-then-encode must be bit-exact")
	})
}

func TestFraming(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := &Packet{
			Code:    Opcode(rapid.Uint16().Draw(t, "code")),
			Payload: rapid.SliceOfN(rapid.Byte(), 0, 128).Draw(t, "payload"),
		}

		var buf bytes.Buffer
		require.NoError(t, WritePacket(&buf, p))

		got, err := ReadPacket(&buf)
		require.NoError(t, err)
		assert.Equal(t, p.Code, got.Code)
		assert.Equal(t, p.Payload, got.Payload)
		assert.Zero(t, buf.Len(), "no trailing bytes")
	})
}

func TestDecodeShortPayload(t *testing.T) {
	var body GattRead
	err := body.decode([]byte{0x01, 0x02})
	assert.Error(t, err)
}

func TestReplyDecode(t *testing.T) {
	r := Reply{Status: status.OK, V32: 7}
	var out Reply
	require.NoError(t, out.decode(r.encode(nil)))
	assert.Equal(t, r, out)
}
