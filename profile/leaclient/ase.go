// Package leaclient implements the LE Audio client (initiator) role: the
// per-peer connection machine and the per-ASE stream sub-state machine
// that walks each endpoint through codec and QoS configuration into
// streaming and back out.
package leaclient

import (
	"fmt"

	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/status"
)

var logger = btlog.Component("lea_client")

// ASEState is the stream-endpoint sub-state.
type ASEState uint8

const (
	ASEIdle ASEState = iota
	ASECodecConfigured
	ASEQoSConfigured
	ASEEnabling
	ASEStreaming
	ASEDisabling
	ASEReleasing
)

var aseNames = [...]string{
	"idle", "codec_configured", "qos_configured",
	"enabling", "streaming", "disabling", "releasing",
}

func (s ASEState) String() string {
	if int(s) < len(aseNames) {
		return aseNames[s]
	}
	return fmt.Sprintf("ase(%d)", uint8(s))
}

// ASE tracks one audio stream endpoint on a peer.
type ASE struct {
	ID    uint8
	State ASEState

	CodecConfig []byte
	QoSConfig   []byte
	CISHandle   uint16
}

// legal transitions, driven by the control-point responses.
var aseNext = map[ASEState][]ASEState{
	ASEIdle:            {ASECodecConfigured},
	ASECodecConfigured: {ASEQoSConfigured, ASEReleasing},
	ASEQoSConfigured:   {ASEEnabling, ASEReleasing},
	ASEEnabling:        {ASEStreaming, ASEDisabling, ASEReleasing},
	ASEStreaming:       {ASEDisabling, ASEReleasing},
	ASEDisabling:       {ASEQoSConfigured, ASEReleasing},
	ASEReleasing:       {ASEIdle, ASECodecConfigured},
}

// Advance moves the ASE to next, rejecting transitions the ASCS state
// machine does not define.
func (a *ASE) Advance(next ASEState) error {
	for _, legal := range aseNext[a.State] {
		if legal == next {
			logger.Debug("ase transition", "ase", a.ID, "from", a.State, "to", next)
			a.State = next
			return nil
		}
	}
	return status.New(status.Fail)
}
