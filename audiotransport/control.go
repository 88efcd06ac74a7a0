package audiotransport

import (
	"encoding/binary"

	"github.com/btsvc/btserviced/status"
)

// CtrlCmd is a single-byte command from the media engine.
type CtrlCmd uint8

const (
	CmdStart CtrlCmd = iota
	CmdStop
	CmdConfigDone
)

func (c CtrlCmd) String() string {
	switch c {
	case CmdStart:
		return "START"
	case CmdStop:
		return "STOP"
	case CmdConfigDone:
		return "CONFIG_DONE"
	}
	return "UNKNOWN"
}

// CtrlEvt is a service-to-engine control event opcode.
type CtrlEvt uint8

const (
	EvtStarted CtrlEvt = iota
	EvtStartFail
	EvtStopped
	EvtUpdateConfig
)

// AudioConfig is the parameter block following EvtUpdateConfig.
type AudioConfig struct {
	Valid         bool
	CodecType     uint32
	SampleRate    uint32
	BitsPerSample uint32
	ChannelMode   uint32
	BitRate       uint32
	FrameSize     uint32
	PacketSize    uint32
}

// EncodeCtrlEvent serializes a control event: a bare opcode byte, or the
// opcode followed by the fixed config block for EvtUpdateConfig.
func EncodeCtrlEvent(evt CtrlEvt, cfg *AudioConfig) []byte {
	if evt != EvtUpdateConfig {
		return []byte{byte(evt)}
	}
	buf := make([]byte, 0, 1+1+7*4)
	buf = append(buf, byte(evt))
	if cfg != nil && cfg.Valid {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if cfg == nil {
		cfg = &AudioConfig{}
	}
	for _, v := range []uint32{
		cfg.CodecType, cfg.SampleRate, cfg.BitsPerSample,
		cfg.ChannelMode, cfg.BitRate, cfg.FrameSize, cfg.PacketSize,
	} {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	return buf
}

// DecodeCtrlCmd parses one engine command byte.
func DecodeCtrlCmd(data []byte) (CtrlCmd, error) {
	if len(data) < 1 {
		return 0, status.New(status.ParamInvalid)
	}
	cmd := CtrlCmd(data[0])
	if cmd > CmdConfigDone {
		return 0, status.New(status.NoSupport)
	}
	return cmd, nil
}

// DecodeCtrlEvent parses a service control event, for the engine-side
// library and the tests.
func DecodeCtrlEvent(data []byte) (CtrlEvt, *AudioConfig, error) {
	if len(data) < 1 {
		return 0, nil, status.New(status.ParamInvalid)
	}
	evt := CtrlEvt(data[0])
	if evt != EvtUpdateConfig {
		return evt, nil, nil
	}
	if len(data) < 2+7*4 {
		return 0, nil, status.New(status.ParamInvalid)
	}
	cfg := &AudioConfig{Valid: data[1] != 0}
	fields := []*uint32{
		&cfg.CodecType, &cfg.SampleRate, &cfg.BitsPerSample,
		&cfg.ChannelMode, &cfg.BitRate, &cfg.FrameSize, &cfg.PacketSize,
	}
	off := 2
	for _, f := range fields {
		*f = binary.LittleEndian.Uint32(data[off:])
		off += 4
	}
	return evt, cfg, nil
}
