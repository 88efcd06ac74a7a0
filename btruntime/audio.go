package btruntime

import (
	"github.com/btsvc/btserviced/audiotransport"
	"github.com/btsvc/btserviced/bt"
)

// audioBridge adapts the audio transport control channel to the A2DP
// machines' AudioControl contract: start/stop acknowledgements and codec
// updates become control events toward the media engine.
type audioBridge struct {
	ctx *Context
}

func newAudioBridge(ctx *Context) *audioBridge {
	return &audioBridge{ctx: ctx}
}

func (b *audioBridge) ctrlChannel(sep bt.PeerSep) audiotransport.ChannelID {
	// as source (remote is sink) the engine is driven over the source channels
	if sep == bt.SepSink {
		return audiotransport.ChSourceCtrl
	}
	return audiotransport.ChSinkCtrl
}

func (b *audioBridge) send(sep bt.PeerSep, evt audiotransport.CtrlEvt, cfg *audiotransport.AudioConfig) {
	data := audiotransport.EncodeCtrlEvent(evt, cfg)
	err := b.ctx.Transport.Write(b.ctrlChannel(sep), data, nil)
	if err != nil {
		logger.Debug("audio control send skipped", "err", err)
	}
}

// OnConnectionChanged reports whether the engine's control channel is
// attached; profile connectivity itself needs no control event.
func (b *audioBridge) OnConnectionChanged(sep bt.PeerSep, connected bool) bool {
	state := b.ctx.Transport.State(b.ctrlChannel(sep))
	return state == audiotransport.StateConnected
}

func (b *audioBridge) OnStarted(sep bt.PeerSep, ok bool) {
	if ok {
		b.send(sep, audiotransport.EvtStarted, nil)
		return
	}
	b.send(sep, audiotransport.EvtStartFail, nil)
}

func (b *audioBridge) OnStopped(sep bt.PeerSep) {
	b.send(sep, audiotransport.EvtStopped, nil)
}

func (b *audioBridge) SetupCodec(sep bt.PeerSep, addr bt.Address) {
	// the update carries only the valid flag; codec type, rates, sizes and
	// channel mode are left zero
	b.send(sep, audiotransport.EvtUpdateConfig, &audiotransport.AudioConfig{Valid: true})
}
