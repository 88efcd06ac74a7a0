package bt

// ProfileID identifies one hosted profile service.
type ProfileID uint8

const (
	ProfileA2DPSource ProfileID = iota
	ProfileA2DPSink
	ProfileHFPAG
	ProfileHFPHF
	ProfileHID
	ProfilePAN
	ProfileLEAudioClient
	ProfileLEAudioServer
	ProfileGATTClient
	ProfileGATTServer
	ProfileAdvertiser
	ProfileScanner
)

var profileNames = map[ProfileID]string{
	ProfileA2DPSource:    "a2dp_source",
	ProfileA2DPSink:      "a2dp_sink",
	ProfileHFPAG:         "hfp_ag",
	ProfileHFPHF:         "hfp_hf",
	ProfileHID:           "hid",
	ProfilePAN:           "pan",
	ProfileLEAudioClient: "lea_client",
	ProfileLEAudioServer: "lea_server",
	ProfileGATTClient:    "gattc",
	ProfileGATTServer:    "gatts",
	ProfileAdvertiser:    "advertiser",
	ProfileScanner:       "scanner",
}

func (p ProfileID) String() string {
	if s, ok := profileNames[p]; ok {
		return s
	}
	return "profile(?)"
}

// ConnectionState is the externally visible lifecycle of a peer on one
// profile, reported through every *_connection_state_changed callback.
type ConnectionState uint8

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

var connStateNames = [...]string{"disconnected", "connecting", "connected", "disconnecting"}

func (s ConnectionState) String() string {
	if int(s) < len(connStateNames) {
		return connStateNames[s]
	}
	return "state(?)"
}

// AudioState is the media-path lifecycle on top of a connected profile.
type AudioState uint8

const (
	AudioStopped AudioState = iota
	AudioStarted
	AudioSuspended
)

// LinkRole is the ACL role requested on role-switch.
type LinkRole uint8

const (
	RoleMaster LinkRole = iota
	RoleSlave
)

// PeerSep is which AVDTP stream endpoint the remote exposes: the remote is
// a sink when we are source, and vice versa.
type PeerSep uint8

const (
	SepSink PeerSep = iota
	SepSource
)

func (s PeerSep) String() string {
	if s == SepSink {
		return "sink"
	}
	return "source"
}
