// Package hfpag implements the audio-gateway-role state machine and
// service: the service-level and SCO lifecycles, virtual-call gating,
// voice recognition, vendor AT dispatch, and volume coupling.
package hfpag

import "fmt"

// EventType enumerates local requests, stack events, and timer expiries.
type EventType int

const (
	// Local requests.
	ConnectReq EventType = iota
	DisconnectReq
	ConnectAudioReq
	DisconnectAudioReq
	StartVirtualCallReq
	StopVirtualCallReq
	StartVoiceRecognitionReq
	StopVoiceRecognitionReq
	PhoneStateChangeReq
	SetVolumeReq
	SendVendorATReq
	OffloadStartReq
	OffloadStopReq

	// Stack events.
	StackConnected
	StackConnectionFailed
	StackDisconnected
	StackAudioConnected
	StackAudioDisconnected
	StackAudioRequest
	StackVRStateChanged
	StackVolumeChanged
	StackATCommand
	StackDialNumber

	// Timer expiries.
	ConnectTimeout
	RetryTimeout
	OffloadTimeout
)

var eventNames = map[EventType]string{
	ConnectReq:               "CONNECT_REQ",
	DisconnectReq:            "DISCONNECT_REQ",
	ConnectAudioReq:          "CONNECT_AUDIO_REQ",
	DisconnectAudioReq:       "DISCONNECT_AUDIO_REQ",
	StartVirtualCallReq:      "START_VIRTUAL_CALL_REQ",
	StopVirtualCallReq:       "STOP_VIRTUAL_CALL_REQ",
	StartVoiceRecognitionReq: "START_VR_REQ",
	StopVoiceRecognitionReq:  "STOP_VR_REQ",
	PhoneStateChangeReq:      "PHONE_STATE_CHANGE_REQ",
	SetVolumeReq:             "SET_VOLUME_REQ",
	SendVendorATReq:          "SEND_VENDOR_AT_REQ",
	OffloadStartReq:          "OFFLOAD_START_REQ",
	OffloadStopReq:           "OFFLOAD_STOP_REQ",
	StackConnected:           "STACK_CONNECTED",
	StackConnectionFailed:    "STACK_CONNECTION_FAILED",
	StackDisconnected:        "STACK_DISCONNECTED",
	StackAudioConnected:      "STACK_AUDIO_CONNECTED",
	StackAudioDisconnected:   "STACK_AUDIO_DISCONNECTED",
	StackAudioRequest:        "STACK_AUDIO_REQ",
	StackVRStateChanged:      "STACK_VR_STATE_CHANGED",
	StackVolumeChanged:       "STACK_VOLUME_CHANGED",
	StackATCommand:           "STACK_AT_COMMAND",
	StackDialNumber:          "STACK_DIAL_NUMBER",
	ConnectTimeout:           "CONNECT_TIMEOUT",
	RetryTimeout:             "RETRY_TIMEOUT",
	OffloadTimeout:           "OFFLOAD_TIMEOUT",
}

func (e EventType) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// FailureReason classifies a connection failure from the stack.
type FailureReason uint8

const (
	ReasonUnknown FailureReason = iota
	ReasonCollision
	ReasonRefused
)

// PhoneState is the telephony snapshot driving the AG indicators.
type PhoneState struct {
	NumActive uint8
	NumHeld   uint8
	CallState uint8 // call-setup state; 0 is idle
}

// Event is one unit of work dispatched into the machine on the loop.
type Event struct {
	Type   EventType
	Value  uint8
	Reason FailureReason
	Phone  PhoneState
	Str    string // AT command text or vendor value
	Str2   string
	Data   []byte // offload command buffer
}
