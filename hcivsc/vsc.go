// Package hcivsc builds the vendor-specific HCI commands the core sends for
// audio offload, ACL bandwidth shaping, and LE data-length-follow. Every
// builder produces the raw on-wire form {ogf u8, ocf u16 LE, params...};
// SplitCommand peels the header back off for the SAL command API.
package hcivsc

import (
	"encoding/binary"

	"github.com/btsvc/btserviced/status"
)

const (
	vendorOGF = 0x3f

	// MaxCommandLen bounds every builder's output.
	MaxCommandLen = 64
)

// A2DPOffloadConfig parameterizes the A2DP offload start command.
type A2DPOffloadConfig struct {
	CodecType  uint8
	ACLHandle  uint16
	L2CAPCID   uint16
	SampleRate uint32
	BitRate    uint32
	MTU        uint16
}

// HFPOffloadConfig parameterizes the HFP offload start command.
type HFPOffloadConfig struct {
	SCOHandle uint16
	CodecType uint8
}

// LEAOffloadConfig parameterizes the LE Audio offload commands. Streams
// lists up to two ISO streams (left/right or mono).
type LEAOffloadConfig struct {
	Stereo  bool
	Streams []LEAOffloadStream
}

// LEAOffloadStream is one ISO stream within an LEA offload command.
type LEAOffloadStream struct {
	ISOHandle uint16
	SDUSize   uint16
}

// ACLBandwidthConfig parameterizes the bandwidth set/clear commands.
type ACLBandwidthConfig struct {
	ACLHandle uint16
	Bandwidth uint32 // bits per second; ignored on clear
}

// DLFConfig parameterizes the LE data-length-follow enable/disable pair.
type DLFConfig struct {
	ConnectionHandle uint16
	TimeoutSlots     uint16
}

func header(buf []byte, ocf uint16) []byte {
	buf = append(buf, vendorOGF)
	return binary.LittleEndian.AppendUint16(buf, ocf)
}

// BuildA2DPOffloadStart serializes the A2DP offload start VSC.
func BuildA2DPOffloadStart(cfg A2DPOffloadConfig) []byte {
	buf := header(make([]byte, 0, MaxCommandLen), 0x0000)
	buf = append(buf, 0x03, 0x02) // a2dp domain, start
	buf = append(buf, cfg.CodecType)
	buf = binary.LittleEndian.AppendUint16(buf, cfg.ACLHandle)
	buf = binary.LittleEndian.AppendUint16(buf, cfg.L2CAPCID)
	buf = binary.LittleEndian.AppendUint32(buf, cfg.SampleRate)
	buf = binary.LittleEndian.AppendUint32(buf, cfg.BitRate)
	buf = binary.LittleEndian.AppendUint16(buf, cfg.MTU)
	buf = binary.LittleEndian.AppendUint16(buf, 0x0000) // frame length, reserved
	buf = append(buf, 0x00)                             // padding
	buf = append(buf, 0x00)                             // extension
	buf = append(buf, 0x00)                             // marker
	buf = append(buf, 0x60)                             // payload type
	buf = append(buf, 0x01)                             // ssrc
	return buf
}

// BuildA2DPOffloadStop serializes the A2DP offload stop VSC.
func BuildA2DPOffloadStop(cfg A2DPOffloadConfig) []byte {
	buf := header(make([]byte, 0, 8), 0x0000)
	buf = append(buf, 0x03, 0x03) // a2dp domain, stop
	buf = binary.LittleEndian.AppendUint16(buf, cfg.ACLHandle)
	return buf
}

// BuildHFPOffloadStart serializes the HFP offload start VSC.
func BuildHFPOffloadStart(cfg HFPOffloadConfig) []byte {
	buf := header(make([]byte, 0, 8), 0x0000)
	buf = append(buf, 0x02, 0x00) // hfp domain, start
	buf = binary.LittleEndian.AppendUint16(buf, cfg.SCOHandle)
	buf = append(buf, cfg.CodecType)
	return buf
}

// BuildHFPOffloadStop serializes the HFP offload stop VSC.
func BuildHFPOffloadStop(cfg HFPOffloadConfig) []byte {
	buf := header(make([]byte, 0, 8), 0x0000)
	buf = append(buf, 0x02, 0x01) // hfp domain, stop
	buf = binary.LittleEndian.AppendUint16(buf, cfg.SCOHandle)
	return buf
}

func appendLEAStreams(buf []byte, cfg LEAOffloadConfig) []byte {
	if cfg.Stereo {
		buf = append(buf, 0x03)
	} else {
		buf = append(buf, 0x01)
	}
	for i := 0; i < 2; i++ {
		if i < len(cfg.Streams) {
			buf = binary.LittleEndian.AppendUint16(buf, cfg.Streams[i].ISOHandle)
			buf = binary.LittleEndian.AppendUint16(buf, cfg.Streams[i].SDUSize)
		} else {
			buf = binary.LittleEndian.AppendUint16(buf, 0x0000)
			buf = binary.LittleEndian.AppendUint16(buf, 0x0000)
		}
	}
	return buf
}

// BuildLEAOffloadStart serializes the LE Audio offload start VSC.
func BuildLEAOffloadStart(cfg LEAOffloadConfig) []byte {
	buf := header(make([]byte, 0, MaxCommandLen), 0x0000)
	buf = append(buf, 0x04, 0x04) // lea domain, start
	return appendLEAStreams(buf, cfg)
}

// BuildLEAOffloadStop serializes the LE Audio offload stop VSC.
func BuildLEAOffloadStop(cfg LEAOffloadConfig) []byte {
	buf := header(make([]byte, 0, MaxCommandLen), 0x0000)
	buf = append(buf, 0x04, 0x05) // lea domain, stop
	return appendLEAStreams(buf, cfg)
}

// BuildACLBandwidthSet serializes the bandwidth-config VSC.
func BuildACLBandwidthSet(cfg ACLBandwidthConfig) []byte {
	buf := header(make([]byte, 0, 16), 0x00e0)
	buf = append(buf, 0x01) // set
	buf = binary.LittleEndian.AppendUint16(buf, cfg.ACLHandle)
	buf = binary.LittleEndian.AppendUint32(buf, cfg.Bandwidth)
	return buf
}

// BuildACLBandwidthClear serializes the bandwidth-deconfig VSC.
func BuildACLBandwidthClear(cfg ACLBandwidthConfig) []byte {
	buf := header(make([]byte, 0, 8), 0x00e0)
	buf = append(buf, 0x00) // clear
	buf = binary.LittleEndian.AppendUint16(buf, cfg.ACLHandle)
	return buf
}

// BuildDLFEnable serializes the data-length-follow enable VSC.
func BuildDLFEnable(cfg DLFConfig) []byte {
	buf := header(make([]byte, 0, 16), 0x00e1)
	buf = append(buf, 0x01)
	buf = binary.LittleEndian.AppendUint16(buf, cfg.ConnectionHandle)
	buf = binary.LittleEndian.AppendUint16(buf, cfg.TimeoutSlots)
	return buf
}

// BuildDLFDisable serializes the data-length-follow disable VSC.
func BuildDLFDisable(cfg DLFConfig) []byte {
	buf := header(make([]byte, 0, 8), 0x00e1)
	buf = append(buf, 0x00)
	buf = binary.LittleEndian.AppendUint16(buf, cfg.ConnectionHandle)
	return buf
}

// SplitCommand takes a built command and peels it into the {ogf, ocf,
// payload} triple the SAL command API wants. The payload aliases cmd.
func SplitCommand(cmd []byte) (ogf uint8, ocf uint16, payload []byte, err error) {
	if len(cmd) < 3 {
		return 0, 0, nil, status.New(status.ParamInvalid)
	}
	return cmd[0], binary.LittleEndian.Uint16(cmd[1:3]), cmd[3:], nil
}
