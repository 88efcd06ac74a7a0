// Package pan implements the PANU profile: a small per-peer connection
// machine plus the bridge between BNEP payloads and the host tap device.
package pan

import (
	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
)

var logger = btlog.Component("pan")

// TapDevice is the host network interface the profile bridges Ethernet
// frames through. The Linux implementation creates a tun/tap named
// "bt-pan"; tests substitute an in-memory fake.
type TapDevice interface {
	// Open creates the device, programs hwAddr as its hardware address,
	// and brings the link up. It returns the poll fd.
	Open(name string, hwAddr bt.Address) (int, error)
	// Read pulls one Ethernet frame; it must only be called when the fd
	// polls readable.
	Read(buf []byte) (int, error)
	// Write pushes one Ethernet frame toward the host.
	Write(frame []byte) (int, error)
	Close() error
}

// TapName is the fixed device name.
const TapName = "bt-pan"

// ethHeaderLen is destination + source + ethertype.
const ethHeaderLen = 14

// buildEthernetFrame prefixes a PAN payload with an Ethernet header for
// the tap device.
func buildEthernetFrame(dst, src [6]byte, protocol uint16, payload []byte) []byte {
	frame := make([]byte, ethHeaderLen+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], src[:])
	frame[12] = byte(protocol >> 8)
	frame[13] = byte(protocol)
	copy(frame[ethHeaderLen:], payload)
	return frame
}

// splitEthernetFrame peels the header off an outgoing tap frame.
func splitEthernetFrame(frame []byte) (dst, src [6]byte, protocol uint16, payload []byte, ok bool) {
	if len(frame) < ethHeaderLen {
		return dst, src, 0, nil, false
	}
	copy(dst[:], frame[0:6])
	copy(src[:], frame[6:12])
	protocol = uint16(frame[12])<<8 | uint16(frame[13])
	return dst, src, protocol, frame[ethHeaderLen:], true
}
