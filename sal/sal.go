// Package sal defines the stack abstraction layer: the synchronous command
// surface the core calls down into the link-level stack, and the event types
// the stack delivers back. SAL callbacks may arrive on any goroutine; the
// profile services re-post every one of them through the service loop before
// touching a state machine.
package sal

import "github.com/btsvc/btserviced/bt"

// HCIEvent is the decoded result of a vendor-specific command, handed to
// the completion callback registered with SendHCICommand.
type HCIEvent struct {
	EvtCode uint8
	Status  uint8 // 0x00 is success
	Params  []byte
}

// HCICommandCallback receives the completion event for one VSC.
type HCICommandCallback func(ev *HCIEvent)

// HCI is the raw command path shared by the offload handshakes and the DLF
// manager.
type HCI interface {
	// SendHCICommand submits {ogf, ocf, payload}; cb fires once with the
	// command-complete event.
	SendHCICommand(ogf uint8, ocf uint16, payload []byte, cb HCICommandCallback) error
	// ACLLinkHandle resolves the peer's ACL connection handle, or an error
	// when no link exists.
	ACLLinkHandle(addr bt.Address) (uint16, error)
	// SwitchRole requests an ACL role switch on the link to addr.
	SwitchRole(addr bt.Address, role bt.LinkRole) error
}

// A2DP is the AVDTP-level command surface, split by local endpoint role.
type A2DP interface {
	SourceConnect(addr bt.Address) error
	SourceDisconnect(addr bt.Address) error
	SourceStartStream(addr bt.Address) error
	SourceSuspendStream(addr bt.Address) error
	SinkConnect(addr bt.Address) error
	SinkDisconnect(addr bt.Address) error
}

// AVRCP is the remote-control coupling the A2DP machine drives.
type AVRCP interface {
	ControlConnect(addr bt.Address) error
	ControlDisconnect(addr bt.Address) error
	TargetPlayStatusNotify(addr bt.Address, playing bool) error
}

// HFP covers both AG and HF roles; the role is implied by which profile
// service holds the reference.
type HFP interface {
	Connect(addr bt.Address) error
	Disconnect(addr bt.Address) error
	ConnectAudio(addr bt.Address) error
	DisconnectAudio(addr bt.Address) error
	SetVolume(addr bt.Address, volume uint8) error
	StartVoiceRecognition(addr bt.Address) error
	StopVoiceRecognition(addr bt.Address) error
	SendATCommand(addr bt.Address, cmd string) error
	ErrorResponse(addr bt.Address, code uint8) error
	OKResponse(addr bt.Address) error
	QueryCurrentCalls(addr bt.Address) error
}

// PAN is the BNEP-level surface plus the frame path to the peer.
type PAN interface {
	Connect(addr bt.Address) error
	Disconnect(addr bt.Address) error
	SendFrame(addr bt.Address, protocol uint16, dst, src [6]byte, payload []byte) error
}

// HID is the device-role surface.
type HID interface {
	Connect(addr bt.Address) error
	Disconnect(addr bt.Address) error
	SendReport(addr bt.Address, reportID uint8, data []byte) error
}

// LEAudio covers ASE management for both the client (initiator) and server
// (acceptor) roles.
type LEAudio interface {
	Connect(addr bt.Address) error
	Disconnect(addr bt.Address) error
	ConfigCodec(addr bt.Address, aseID uint8, cfg []byte) error
	ConfigQoS(addr bt.Address, aseID uint8, cfg []byte) error
	Enable(addr bt.Address, aseID uint8) error
	Disable(addr bt.Address, aseID uint8) error
	Release(addr bt.Address, aseID uint8) error
}

// GATT is the minimal attribute surface the IPC layer fronts.
type GATT interface {
	Read(addr bt.Address, handle uint16) ([]byte, error)
	Write(addr bt.Address, handle uint16, value []byte) error
	Notify(addr bt.Address, handle uint16, value []byte) error
}

// Advertising drives the LE advertiser and scanner start/stop pairs.
type Advertising interface {
	StartAdvertising(advID uint8, params []byte) error
	StopAdvertising(advID uint8) error
	StartScan(params []byte) error
	StopScan() error
}

// MediaSession is the host media-session consumer the LEA server registers
// with, translating session transitions into MCS state.
type MediaSession interface {
	Register(listener MediaSessionListener) error
	Unregister() error
	Play() error
	Pause() error
	Stop() error
	Next() error
	Previous() error
}

// MediaSessionListener receives session-side transitions.
type MediaSessionListener interface {
	OnPlaybackStateChanged(playing bool)
	OnTrackChanged(title string)
	OnPositionChanged(positionMS uint32)
}

// Stack bundles every domain surface; the runtime context constructs one
// and hands slices of it to each profile service.
type Stack struct {
	HCI         HCI
	A2DP        A2DP
	AVRCP       AVRCP
	HFPAG       HFP
	HFPHF       HFP
	PAN         PAN
	HID         HID
	LEAudio     LEAudio
	GATT        GATT
	Advertising Advertising
	Media       MediaSession
}
