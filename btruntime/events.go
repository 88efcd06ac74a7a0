package btruntime

import (
	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/ipc"
	"github.com/btsvc/btserviced/profile/a2dp"
	"github.com/btsvc/btserviced/profile/hfpag"
	"github.com/btsvc/btserviced/profile/hfphf"
	"github.com/btsvc/btserviced/profile/lowenergy"
	"github.com/btsvc/btserviced/status"
)

// wireEvents subscribes runtime-owned callback tables on the profile
// services and re-publishes their notifications as IPC event packets to
// every connected client.
func (c *Context) wireEvents() {
	connectionEvent := func(profile bt.ProfileID) func(addr bt.Address, state bt.ConnectionState) {
		return func(addr bt.Address, state bt.ConnectionState) {
			c.Server.Broadcast(ipc.OpEvtConnectionState, &ipc.ConnectionStateEvent{
				Addr:    addr,
				Profile: uint8(profile),
				State:   uint8(state),
			})
		}
	}

	c.A2DPSource.RegisterCallbacks(a2dp.Callbacks{
		ConnectionStateChanged: connectionEvent(bt.ProfileA2DPSource),
		AudioStateChanged: func(addr bt.Address, state bt.AudioState) {
			c.Server.Broadcast(ipc.OpEvtAudioState, &ipc.ConnectionStateEvent{
				Addr:    addr,
				Profile: uint8(bt.ProfileA2DPSource),
				State:   uint8(state),
			})
		},
	})
	c.A2DPSink.RegisterCallbacks(a2dp.Callbacks{
		ConnectionStateChanged: connectionEvent(bt.ProfileA2DPSink),
	})
	c.HFPAG.RegisterCallbacks(hfpag.Callbacks{
		ConnectionStateChanged: connectionEvent(bt.ProfileHFPAG),
		VolumeChanged: func(addr bt.Address, volume uint8) {
			c.Server.Broadcast(ipc.OpEvtVolumeChanged, &ipc.SetVolume{Addr: addr, Volume: volume})
		},
	})
	c.HFPHF.RegisterCallbacks(hfphf.Callbacks{
		ConnectionStateChanged: connectionEvent(bt.ProfileHFPHF),
		CallIndicatorChanged: func(addr bt.Address, indicator hfphf.EventType, value uint8) {
			c.Server.Broadcast(ipc.OpEvtHfpHfCall, &ipc.CallEvent{
				Addr:      addr,
				Indicator: uint8(indicator),
				Value:     value,
			})
		},
	})
}

func (c *Context) scanCallbacks() lowenergy.ScanCallbacks {
	return lowenergy.ScanCallbacks{
		OnReport: func(addr bt.Address, rssi int8, data []byte) {
			c.Server.Broadcast(ipc.OpEvtScanResult, &ipc.ScanResultEvent{
				Addr: addr,
				RSSI: rssi,
				Data: data,
			})
		},
	}
}

func (c *Context) advCallbacks() lowenergy.AdvCallbacks {
	return lowenergy.AdvCallbacks{
		OnStart: func(advID uint8, st status.Code) {
			c.Server.Broadcast(ipc.OpEvtAdvState, &ipc.AdvRequest{AdvID: advID, Params: []byte{byte(st)}})
		},
		OnStop: func(advID uint8) {
			c.Server.Broadcast(ipc.OpEvtAdvState, &ipc.AdvRequest{AdvID: advID})
		},
	}
}
