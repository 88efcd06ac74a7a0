package hcivsc

import (
	"sync"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/status"
)

var dlfLogger = btlog.Component("dlf")

const (
	// MaxDLFLinks bounds the DLF table; must stay at or below 16.
	MaxDLFLinks = 8

	// DLFTimeoutSlots is 1 second expressed in 0.625ms baseband slots.
	DLFTimeoutSlots = 1600
)

type dlfLink struct {
	addr    bt.Address
	handle  uint16
	timeout uint16
	enabled bool
}

// DLFManager tracks which LE links have data-length-follow enabled and
// drives the vendor command pair. Command completions arrive on the HCI
// callback goroutine; the table has its own lock.
type DLFManager struct {
	mu    sync.Mutex
	hci   sal.HCI
	links map[bt.Address]*dlfLink
}

// NewDLFManager constructs an empty manager over the given HCI surface.
func NewDLFManager(hci sal.HCI) *DLFManager {
	return &DLFManager{hci: hci, links: make(map[bt.Address]*dlfLink)}
}

// Enable creates a DLF record for addr and sends the enable command. The
// record is confirmed or removed when the command completes.
func (m *DLFManager) Enable(addr bt.Address) error {
	m.mu.Lock()
	if len(m.links) >= MaxDLFLinks {
		m.mu.Unlock()
		return status.New(status.NoResources)
	}
	if _, ok := m.links[addr]; ok {
		m.mu.Unlock()
		return status.New(status.Fail)
	}
	m.mu.Unlock()

	handle, err := m.hci.ACLLinkHandle(addr)
	if err != nil {
		return status.Wrap(status.ParamInvalid, err)
	}

	link := &dlfLink{addr: addr, handle: handle, timeout: DLFTimeoutSlots}
	m.mu.Lock()
	m.links[addr] = link
	m.mu.Unlock()

	return m.send(link, true)
}

// Disable sends the disable command for an existing record.
func (m *DLFManager) Disable(addr bt.Address) error {
	m.mu.Lock()
	link, ok := m.links[addr]
	m.mu.Unlock()
	if !ok {
		return status.New(status.NotFound)
	}
	return m.send(link, false)
}

// Enabled reports whether addr has a confirmed-enabled record.
func (m *DLFManager) Enabled(addr bt.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[addr]
	return ok && link.enabled
}

// Cleanup drops every record without sending commands; used on adapter
// shutdown when the links are already gone.
func (m *DLFManager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = make(map[bt.Address]*dlfLink)
}

func (m *DLFManager) send(link *dlfLink, enable bool) error {
	cfg := DLFConfig{ConnectionHandle: link.handle, TimeoutSlots: link.timeout}
	var cmd []byte
	if enable {
		cmd = BuildDLFEnable(cfg)
	} else {
		cmd = BuildDLFDisable(cfg)
	}
	ogf, ocf, payload, err := SplitCommand(cmd)
	if err != nil {
		return err
	}

	addr := link.addr
	return m.hci.SendHCICommand(ogf, ocf, payload, func(ev *sal.HCIEvent) {
		m.complete(addr, enable, ev)
	})
}

func (m *DLFManager) complete(addr bt.Address, enable bool, ev *sal.HCIEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[addr]
	if !ok {
		return
	}
	if ev == nil || ev.Status != 0 {
		dlfLogger.Warn("dlf command failed", "addr", addr, "enable", enable)
		delete(m.links, addr)
		return
	}
	if enable {
		link.enabled = true
	} else {
		delete(m.links, addr)
	}
}
