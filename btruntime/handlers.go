package btruntime

import (
	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/ipc"
	"github.com/btsvc/btserviced/status"
)

// registerHandlers installs the per-domain IPC dispatch. Handlers run on
// the server's reader goroutines; profile services post into the loop
// themselves, so only direct state reads need a sync hop.
func (c *Context) registerHandlers() {
	c.Server.Register(ipc.DomainManager, c.handleManager)
	c.Server.Register(ipc.DomainA2dpSource, c.handleA2DPSource)
	c.Server.Register(ipc.DomainA2dpSink, c.handleA2DPSink)
	c.Server.Register(ipc.DomainHfpAg, c.handleHfpAg)
	c.Server.Register(ipc.DomainHfpHf, c.handleHfpHf)
	c.Server.Register(ipc.DomainPan, c.handlePan)
	c.Server.Register(ipc.DomainGattClient, c.handleGattClient)
	c.Server.Register(ipc.DomainGattServer, c.handleGattServer)
	c.Server.Register(ipc.DomainLeaClient, c.handleLeaClient)
	c.Server.Register(ipc.DomainScan, c.handleScan)
	c.Server.Register(ipc.DomainAdvertiser, c.handleAdvertiser)
}

func reply(err error) *ipc.Reply {
	return &ipc.Reply{Status: status.From(err)}
}

func (c *Context) handleManager(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	switch p.Code {
	case ipc.OpManagerCreateInstance:
		var req ipc.CreateInstance
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		appID, err := c.Manager.CreateInstance(req.Handle, req.Type, req.HostName, req.PID, req.UID)
		if err != nil {
			return reply(err)
		}
		return &ipc.Reply{Status: status.OK, V32: appID}

	case ipc.OpManagerGetInstance:
		var req ipc.GetInstance
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		handle, err := c.Manager.GetInstance(req.HostName, req.PID)
		if err != nil {
			return reply(err)
		}
		return &ipc.Reply{Status: status.OK, V32: uint32(handle)}

	case ipc.OpManagerDeleteInstance:
		var req ipc.AppIDRequest
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.Manager.DeleteInstance(req.AppID))

	case ipc.OpManagerStartService, ipc.OpManagerStopService:
		var req ipc.AppIDRequest
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		// profile services are started with the runtime; per-client
		// start/stop is acknowledged as a no-op
		return &ipc.Reply{Status: status.OK}
	}
	return nil
}

func (c *Context) addrOp(p *ipc.Packet, connect, disconnect ipc.Opcode,
	doConnect, doDisconnect func(addr bt.Address) error) *ipc.Reply {
	var req ipc.AddrRequest
	if err := ipc.Unmarshal(p, &req); err != nil {
		return reply(err)
	}
	switch p.Code {
	case connect:
		return reply(doConnect(req.Addr))
	case disconnect:
		return reply(doDisconnect(req.Addr))
	}
	return nil
}

func (c *Context) handleA2DPSource(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	return c.addrOp(p, ipc.OpA2dpSourceConnect, ipc.OpA2dpSourceDisconnect,
		c.A2DPSource.Connect, c.A2DPSource.Disconnect)
}

func (c *Context) handleA2DPSink(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	return c.addrOp(p, ipc.OpA2dpSinkConnect, ipc.OpA2dpSinkDisconnect,
		c.A2DPSink.Connect, c.A2DPSink.Disconnect)
}

func (c *Context) handleHfpAg(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	switch p.Code {
	case ipc.OpHfpAgConnect, ipc.OpHfpAgDisconnect:
		return c.addrOp(p, ipc.OpHfpAgConnect, ipc.OpHfpAgDisconnect,
			c.HFPAG.Connect, c.HFPAG.Disconnect)
	case ipc.OpHfpAgConnectAudio:
		var req ipc.AddrRequest
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.HFPAG.ConnectAudio(req.Addr))
	case ipc.OpHfpAgDisconnectAudio:
		var req ipc.AddrRequest
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.HFPAG.DisconnectAudio(req.Addr))
	case ipc.OpHfpAgSetVolume:
		var req ipc.SetVolume
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.HFPAG.SetVolume(req.Addr, req.Volume))
	}
	return nil
}

func (c *Context) handleHfpHf(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	switch p.Code {
	case ipc.OpHfpHfConnect, ipc.OpHfpHfDisconnect:
		return c.addrOp(p, ipc.OpHfpHfConnect, ipc.OpHfpHfDisconnect,
			c.HFPHF.Connect, c.HFPHF.Disconnect)
	case ipc.OpHfpHfDial:
		var req ipc.DialRequest
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.HFPHF.Dial(req.Addr, req.Number))
	}
	return nil
}

func (c *Context) handlePan(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	return c.addrOp(p, ipc.OpPanConnect, ipc.OpPanDisconnect,
		c.PAN.Connect, c.PAN.Disconnect)
}

func (c *Context) handleGattClient(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	switch p.Code {
	case ipc.OpGattClientConnect:
		var req ipc.AddrRequest
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.LEAClient.Connect(req.Addr))

	case ipc.OpGattClientRead:
		var req ipc.GattRead
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		if _, err := c.Stack.GATT.Read(req.Addr, req.Handle); err != nil {
			return reply(err)
		}
		return &ipc.Reply{Status: status.OK, V32: uint32(req.Handle)}

	case ipc.OpGattClientWrite:
		var req ipc.GattValue
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		if len(req.Value) > ipc.MaxPayload/2 {
			// oversized attribute payloads are truncated, not rejected
			logger.Warn("gatt write truncated", "handle", req.Handle, "len", len(req.Value))
			req.Value = req.Value[:ipc.MaxPayload/2]
		}
		return reply(c.Stack.GATT.Write(req.Addr, req.Handle, req.Value))
	}
	return nil
}

func (c *Context) handleGattServer(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	switch p.Code {
	case ipc.OpGattServerNotify:
		var req ipc.GattValue
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.Stack.GATT.Notify(req.Addr, req.Handle, req.Value))
	}
	return nil
}

func (c *Context) handleLeaClient(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	return c.addrOp(p, ipc.OpLeaClientConnect, ipc.OpLeaClientDisconnect,
		c.LEAClient.Connect, c.LEAClient.Disconnect)
}

func (c *Context) handleScan(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	switch p.Code {
	case ipc.OpScanStart:
		err := c.Scanner.Start(nil, c.scanCallbacks())
		return reply(err)
	case ipc.OpScanStop:
		return reply(c.Scanner.Stop())
	}
	return nil
}

func (c *Context) handleAdvertiser(conn *ipc.ServerConn, p *ipc.Packet) *ipc.Reply {
	switch p.Code {
	case ipc.OpAdvStart:
		var req ipc.AdvRequest
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.Advertiser.Start(req.AdvID, req.Params, c.advCallbacks()))
	case ipc.OpAdvStop:
		var req ipc.AdvRequest
		if err := ipc.Unmarshal(p, &req); err != nil {
			return reply(err)
		}
		return reply(c.Advertiser.Stop(req.AdvID))
	}
	return nil
}
