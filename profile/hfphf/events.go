// Package hfphf implements the hands-free-role state machine and service:
// the service-level connection lifecycle, the SCO audio lifecycle with the
// web-chat admission verdict, the call-indicator model, and volume
// coupling with the media engine.
package hfphf

import (
	"fmt"

	"github.com/btsvc/btserviced/profile/common"
)

// EventType enumerates local requests, stack events, and timer expiries.
type EventType int

const (
	// Local requests.
	ConnectReq EventType = iota
	DisconnectReq
	ConnectAudioReq
	DisconnectAudioReq
	DialReq
	SetVolumeReq

	// Stack events.
	StackConnected
	StackConnectionFailed
	StackDisconnected
	StackAudioConnected
	StackAudioDisconnected
	StackAudioRequest
	StackCallChanged
	StackCallSetupChanged
	StackCallHeldChanged
	StackVolumeChanged
	StackCurrentCalls

	// Timer expiries.
	ConnectTimeout
	RetryTimeout
)

var eventNames = map[EventType]string{
	ConnectReq:             "CONNECT_REQ",
	DisconnectReq:          "DISCONNECT_REQ",
	ConnectAudioReq:        "CONNECT_AUDIO_REQ",
	DisconnectAudioReq:     "DISCONNECT_AUDIO_REQ",
	DialReq:                "DIAL_REQ",
	SetVolumeReq:           "SET_VOLUME_REQ",
	StackConnected:         "STACK_CONNECTED",
	StackConnectionFailed:  "STACK_CONNECTION_FAILED",
	StackDisconnected:      "STACK_DISCONNECTED",
	StackAudioConnected:    "STACK_AUDIO_CONNECTED",
	StackAudioDisconnected: "STACK_AUDIO_DISCONNECTED",
	StackAudioRequest:      "STACK_AUDIO_REQ",
	StackCallChanged:       "STACK_CALL",
	StackCallSetupChanged:  "STACK_CALLSETUP",
	StackCallHeldChanged:   "STACK_CALLHELD",
	StackVolumeChanged:     "STACK_VOLUME_CHANGED",
	StackCurrentCalls:      "STACK_CURRENT_CALLS",
	ConnectTimeout:         "CONNECT_TIMEOUT",
	RetryTimeout:           "RETRY_TIMEOUT",
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

// Event is one unit of work dispatched into the machine on the loop.
type Event struct {
	Type   EventType
	Value  uint8
	Reason FailureReason
	Number string
	Calls  []common.CurrentCall
}
