// Package ipc implements the message protocol between the client library
// and the service: length-delimited packets carrying a 16-bit opcode whose
// high byte selects the domain, a server-side dispatcher, and the client
// side's matching send/receive and asynchronous event channel.
package ipc

import "fmt"

// Opcode is a flat 16-bit code covering every request and every event. The
// high byte is the domain, the low byte the operation within it.
type Opcode uint16

// Domain is the high byte of an Opcode.
type Domain uint8

const (
	DomainManager Domain = iota + 1
	DomainAdapter
	DomainDevice
	DomainScan
	DomainAdvertiser
	DomainGattClient
	DomainGattServer
	DomainPan
	DomainSpp
	DomainHfpAg
	DomainHfpHf
	DomainA2dpSink
	DomainA2dpSource
	DomainLeaClient
	DomainLeaServer
)

var domainNames = map[Domain]string{
	DomainManager:    "manager",
	DomainAdapter:    "adapter",
	DomainDevice:     "device",
	DomainScan:       "scan",
	DomainAdvertiser: "advertiser",
	DomainGattClient: "gattc",
	DomainGattServer: "gatts",
	DomainPan:        "pan",
	DomainSpp:        "spp",
	DomainHfpAg:      "hfp_ag",
	DomainHfpHf:      "hfp_hf",
	DomainA2dpSink:   "a2dp_sink",
	DomainA2dpSource: "a2dp_source",
	DomainLeaClient:  "lea_client",
	DomainLeaServer:  "lea_server",
}

func (d Domain) String() string {
	if s, ok := domainNames[d]; ok {
		return s
	}
	return fmt.Sprintf("domain(0x%02x)", uint8(d))
}

func op(d Domain, low uint8) Opcode { return Opcode(uint16(d)<<8 | uint16(low)) }

// Domain returns the opcode's high byte.
func (o Opcode) Domain() Domain { return Domain(o >> 8) }

func (o Opcode) String() string { return fmt.Sprintf("%s.0x%02x", o.Domain(), uint8(o)) }

// Request opcodes. Events carry the 0x80 bit in the low byte so the client
// reader can tell a reply from an unsolicited packet at a glance.
const evt = 0x80

var (
	OpManagerCreateInstance = op(DomainManager, 0x01)
	OpManagerGetInstance    = op(DomainManager, 0x02)
	OpManagerDeleteInstance = op(DomainManager, 0x03)
	OpManagerStartService   = op(DomainManager, 0x04)
	OpManagerStopService    = op(DomainManager, 0x05)

	OpDeviceConnect    = op(DomainDevice, 0x01)
	OpDeviceDisconnect = op(DomainDevice, 0x02)

	OpScanStart = op(DomainScan, 0x01)
	OpScanStop  = op(DomainScan, 0x02)

	OpAdvStart = op(DomainAdvertiser, 0x01)
	OpAdvStop  = op(DomainAdvertiser, 0x02)

	OpGattClientConnect = op(DomainGattClient, 0x01)
	OpGattClientRead    = op(DomainGattClient, 0x02)
	OpGattClientWrite   = op(DomainGattClient, 0x03)

	OpGattServerNotify = op(DomainGattServer, 0x01)

	OpPanConnect    = op(DomainPan, 0x01)
	OpPanDisconnect = op(DomainPan, 0x02)

	OpHfpAgConnect         = op(DomainHfpAg, 0x01)
	OpHfpAgDisconnect      = op(DomainHfpAg, 0x02)
	OpHfpAgConnectAudio    = op(DomainHfpAg, 0x03)
	OpHfpAgDisconnectAudio = op(DomainHfpAg, 0x04)
	OpHfpAgSetVolume       = op(DomainHfpAg, 0x05)

	OpHfpHfConnect    = op(DomainHfpHf, 0x01)
	OpHfpHfDisconnect = op(DomainHfpHf, 0x02)
	OpHfpHfDial       = op(DomainHfpHf, 0x03)

	OpA2dpSinkConnect      = op(DomainA2dpSink, 0x01)
	OpA2dpSinkDisconnect   = op(DomainA2dpSink, 0x02)
	OpA2dpSourceConnect    = op(DomainA2dpSource, 0x01)
	OpA2dpSourceDisconnect = op(DomainA2dpSource, 0x02)

	OpLeaClientConnect    = op(DomainLeaClient, 0x01)
	OpLeaClientDisconnect = op(DomainLeaClient, 0x02)

	// Events, service to client.
	OpEvtConnectionState = op(DomainDevice, evt|0x01)
	OpEvtAudioState      = op(DomainDevice, evt|0x02)
	OpEvtScanResult      = op(DomainScan, evt|0x01)
	OpEvtAdvState        = op(DomainAdvertiser, evt|0x01)
	OpEvtGattNotify      = op(DomainGattClient, evt|0x01)
	OpEvtHfpAgCall       = op(DomainHfpAg, evt|0x01)
	OpEvtHfpHfCall       = op(DomainHfpHf, evt|0x01)
	OpEvtVolumeChanged   = op(DomainHfpAg, evt|0x02)
)

// IsEvent reports whether o is an asynchronous event rather than a
// request/response code.
func (o Opcode) IsEvent() bool { return uint8(o)&evt != 0 }
