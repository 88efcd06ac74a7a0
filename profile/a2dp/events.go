// Package a2dp implements the per-peer A2DP state machine and its owning
// service. The machine walks Idle → Opening → Opened → Started → Closing
// with an offload sub-axis carried in the pending bitmask.
package a2dp

import "fmt"

// EventType enumerates local requests, stack events, and timer expiries.
type EventType int

const (
	// Local requests.
	ConnectReq EventType = iota
	DisconnectReq
	StreamStartReq
	StreamSuspendReq
	DelayStreamStartReq
	OffloadStartReq
	OffloadStopReq

	// Stack events.
	ConnectedEvt
	DisconnectedEvt
	StreamStartedEvt
	StreamSuspendedEvt
	StreamClosedEvt
	CodecConfigEvt
	DeviceCodecStateChangeEvt
	DataIndEvt
	OffloadStartEvt
	OffloadStopEvt

	// Timer expiries.
	ConnectTimeout
	StartTimeout
	OffloadTimeout
	AvrcpStartTimeout
)

var eventNames = map[EventType]string{
	ConnectReq:                "CONNECT_REQ",
	DisconnectReq:             "DISCONNECT_REQ",
	StreamStartReq:            "STREAM_START_REQ",
	StreamSuspendReq:          "STREAM_SUSPEND_REQ",
	DelayStreamStartReq:       "DELAY_STREAM_START_REQ",
	OffloadStartReq:           "OFFLOAD_START_REQ",
	OffloadStopReq:            "OFFLOAD_STOP_REQ",
	ConnectedEvt:              "CONNECTED_EVT",
	DisconnectedEvt:           "DISCONNECTED_EVT",
	StreamStartedEvt:          "STREAM_STARTED_EVT",
	StreamSuspendedEvt:        "STREAM_SUSPENDED_EVT",
	StreamClosedEvt:           "STREAM_CLOSED_EVT",
	CodecConfigEvt:            "CODEC_CONFIG_EVT",
	DeviceCodecStateChangeEvt: "DEVICE_CODEC_STATE_CHANGE_EVT",
	DataIndEvt:                "DATA_IND_EVT",
	OffloadStartEvt:           "OFFLOAD_START_EVT",
	OffloadStopEvt:            "OFFLOAD_STOP_EVT",
	ConnectTimeout:            "CONNECT_TIMEOUT",
	StartTimeout:              "START_TIMEOUT",
	OffloadTimeout:            "OFFLOAD_TIMEOUT",
	AvrcpStartTimeout:         "AVRCP_START_TIMEOUT",
}

func (e EventType) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Event is one unit of work dispatched into the machine on the loop.
type Event struct {
	Type EventType

	// Data carries the raw {ogf, ocf, payload} command buffer on the
	// offload requests, or the media payload on DATA_IND.
	Data []byte

	// HCIStatus is the command result on OFFLOAD_START/STOP_EVT;
	// zero is success.
	HCIStatus uint8
}
