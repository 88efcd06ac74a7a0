// Package btruntime consolidates what the original kept as per-profile
// globals into one explicit runtime context: the service loop, the
// configuration, the instance manager, the stack surfaces, the audio
// transport, and every profile service, constructed and torn down under a
// single lifecycle.
package btruntime

import (
	"github.com/btsvc/btserviced/audiotransport"
	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/config"
	"github.com/btsvc/btserviced/hcivsc"
	"github.com/btsvc/btserviced/instance"
	"github.com/btsvc/btserviced/ipc"
	"github.com/btsvc/btserviced/profile/a2dp"
	"github.com/btsvc/btserviced/profile/hfpag"
	"github.com/btsvc/btserviced/profile/hfphf"
	"github.com/btsvc/btserviced/profile/hid"
	"github.com/btsvc/btserviced/profile/leaclient"
	"github.com/btsvc/btserviced/profile/leaserver"
	"github.com/btsvc/btserviced/profile/lowenergy"
	"github.com/btsvc/btserviced/profile/pan"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
)

var logger = btlog.Component("runtime")

// Context is the one place every long-lived object hangs off.
type Context struct {
	Config  *config.Config
	Loop    *serviceloop.Loop
	Manager *instance.Manager
	Stack   *sal.Stack

	Transport *audiotransport.Transport
	DLF       *hcivsc.DLFManager

	A2DPSource *a2dp.Service
	A2DPSink   *a2dp.Service
	HFPAG      *hfpag.Service
	HFPHF      *hfphf.Service
	HID        *hid.Service
	PAN        *pan.Service
	LEAClient  *leaclient.Service
	LEAServer  *leaserver.Service
	Advertiser *lowenergy.Advertiser
	Scanner    *lowenergy.Scanner

	Server *ipc.Server
}

// New builds the full context over a stack implementation. Nothing is
// started yet; call Start.
func New(cfg *config.Config, stack *sal.Stack, tap pan.TapDevice) *Context {
	loop := serviceloop.New("btserviced")

	ctx := &Context{
		Config:  cfg,
		Loop:    loop,
		Manager: instance.New(),
		Stack:   stack,
		DLF:     hcivsc.NewDLFManager(stack.HCI),

		A2DPSource: a2dp.NewService(loop, stack, bt.SepSink, cfg),
		A2DPSink:   a2dp.NewService(loop, stack, bt.SepSource, cfg),
		HFPAG:      hfpag.NewService(loop, stack, cfg),
		HFPHF:      hfphf.NewService(loop, stack, cfg),
		HID:        hid.NewService(loop, stack, cfg),
		PAN:        pan.NewService(loop, stack, tap, cfg),
		LEAClient:  leaclient.NewService(loop, stack, cfg),
		LEAServer:  leaserver.NewService(loop, stack, cfg),
		Advertiser: lowenergy.NewAdvertiser(loop, stack.Advertising),
		Scanner:    lowenergy.NewScanner(loop, stack.Advertising),

		Server: ipc.NewServer("unix", cfg.SocketPath),
	}
	return ctx
}

// Start runs the loop, opens the audio transport channels, starts every
// profile service, and begins serving IPC.
func (c *Context) Start(localAddr bt.Address) error {
	c.Loop.Init()
	c.Loop.Run(true)

	c.Transport = audiotransport.Init(c.Loop)
	audio := c.Config.Audio
	channels := []struct {
		id   audiotransport.ChannelID
		path string
	}{
		{audiotransport.ChSinkCtrl, audio.SinkCtrlPath},
		{audiotransport.ChSinkData, audio.SinkDataPath},
		{audiotransport.ChSourceCtrl, audio.SourceCtrlPath},
		{audiotransport.ChSourceData, audio.SourceDataPath},
	}
	for _, ch := range channels {
		if err := c.Transport.Open(ch.id, ch.path, c.onTransportEvent); err != nil {
			logger.Error("audio channel open failed", "path", ch.path, "err", err)
		}
	}
	c.A2DPSource.SetAudioControl(newAudioBridge(c))
	c.A2DPSink.SetAudioControl(newAudioBridge(c))

	if err := c.A2DPSource.Start(); err != nil {
		return err
	}
	if err := c.A2DPSink.Start(); err != nil {
		return err
	}
	if err := c.HFPAG.Start(); err != nil {
		return err
	}
	if err := c.HFPHF.Start(); err != nil {
		return err
	}
	if err := c.HID.Start(); err != nil {
		return err
	}
	if err := c.PAN.Start(localAddr); err != nil {
		return err
	}
	if err := c.LEAClient.Start(); err != nil {
		return err
	}
	if err := c.LEAServer.Start(); err != nil {
		return err
	}

	c.registerHandlers()
	c.wireEvents()
	if err := c.Server.Listen(); err != nil {
		return err
	}
	logger.Info("runtime started", "socket", c.Config.SocketPath)
	return nil
}

// Stop unwinds everything in reverse order.
func (c *Context) Stop() {
	c.Server.Close()
	c.LEAServer.Stop()
	c.LEAClient.Stop()
	c.PAN.Stop()
	c.HID.Stop()
	c.HFPHF.Stop()
	c.HFPAG.Stop()
	c.A2DPSink.Stop()
	c.A2DPSource.Stop()
	if c.Transport != nil {
		c.Transport.CloseAll()
	}
	c.Manager.Cleanup()
	c.Loop.Exit()
	logger.Info("runtime stopped")
}

func (c *Context) onTransportEvent(ch audiotransport.ChannelID, ev audiotransport.Event) {
	logger.Debug("transport event", "ch", ch, "event", ev)
}
