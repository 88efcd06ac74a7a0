package hfpag

import (
	"math/rand"
	"strings"
	"time"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/hcivsc"
	"github.com/btsvc/btserviced/hsm"
	"github.com/btsvc/btserviced/profile/common"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
)

var logger = btlog.Component("hfp_ag")

// State IDs.
const (
	StateDisconnected = iota
	StateConnecting
	StateConnected
	StateAudioConnecting
	StateAudioOn
	StateAudioDisconnecting
	StateDisconnecting
)

const (
	maxRetry = 1

	// cmeeOperationNotSupported is the CMEE error code returned for an
	// unrecognized vendor AT command.
	cmeeOperationNotSupported = 4

	maxSpeakerVolume = 15
)

// vendorATPrefix maps a vendor AT prefix to its Bluetooth SIG company id.
type vendorATPrefix struct {
	prefix    string
	companyID uint16
}

var companyIDMap = []vendorATPrefix{
	{"+XIAOMI", 0x038F},
	{"+ANDROID", 0x00E0},
}

// Timing is the machine's timer set; tests shrink it.
type Timing struct {
	Connect time.Duration
	Offload time.Duration
}

// DefaultTiming matches the deployed values.
func DefaultTiming() Timing {
	return Timing{
		Connect: 10 * time.Second,
		Offload: 500 * time.Millisecond,
	}
}

// Backend is what the machine needs from its owning service.
type Backend interface {
	ReportConnectionState(addr bt.Address, state bt.ConnectionState)
	ReportAudioState(addr bt.Address, connected bool)
	ReportVRState(addr bt.Address, active bool)
	ReportVolumeChanged(addr bt.Address, volume uint8)
	ReportVendorSpecificAT(addr bt.Address, command string, companyID uint16, value string)
}

// Machine is one peer's AG state machine. All dispatch happens on the
// service loop.
type Machine struct {
	*common.PeerBase

	sm      *hsm.Machine
	timing  Timing
	backend Backend
	stack   sal.HFP
	hci     sal.HCI

	recognitionActive  bool
	virtualCallStarted bool
	phone              PhoneState

	retryCnt   int
	retryTimer *serviceloop.Timer

	connectTimer *serviceloop.Timer

	spkVolume int
}

// NewMachine constructs the machine in Disconnected.
func NewMachine(loop *serviceloop.Loop, addr bt.Address, stack sal.HFP, hci sal.HCI, backend Backend, timing Timing) *Machine {
	m := &Machine{
		PeerBase: common.NewPeerBase(loop, addr),
		timing:   timing,
		backend:  backend,
		stack:    stack,
		hci:      hci,
	}
	m.sm = hsm.NewMachine(m.disconnectedState(), m)
	return m
}

// Destroy tears the machine down.
func (m *Machine) Destroy() {
	if m.StateID() != StateDisconnected {
		m.backend.ReportConnectionState(m.Addr, bt.Disconnected)
	}
	m.retryTimer.Cancel()
	m.connectTimer.Cancel()
	m.PeerBase.Destroy()
}

// StateID returns the current lifecycle state.
func (m *Machine) StateID() int { return m.sm.StateValue() }

// StateName returns the current state's name for diagnostics.
func (m *Machine) StateName() string { return m.sm.Current().Name }

// ConnectionState folds the lifecycle into the externally reported state.
func (m *Machine) ConnectionState() bt.ConnectionState {
	switch m.StateID() {
	case StateConnecting:
		return bt.Connecting
	case StateConnected, StateAudioConnecting, StateAudioOn, StateAudioDisconnecting:
		return bt.Connected
	case StateDisconnecting:
		return bt.Disconnecting
	}
	return bt.Disconnected
}

// Dispatch feeds one event through the current state. Must run on the
// service loop.
func (m *Machine) Dispatch(ev *Event) bool {
	logger.Debug("event", "addr", m.Addr, "state", m.StateName(), "event", ev.Type)
	return m.sm.Dispatch(ev)
}

// isVirtualCallAllowed: idle only — connected, no virtual call live, no
// real calls, no recognition session.
func (m *Machine) isVirtualCallAllowed() bool {
	if m.StateID() != StateConnected {
		return false
	}
	if m.virtualCallStarted || m.recognitionActive {
		return false
	}
	if m.phone.NumActive > 0 || m.phone.NumHeld > 0 || m.phone.CallState != 0 {
		return false
	}
	return true
}

func (m *Machine) setVirtualCall(started bool) {
	if m.virtualCallStarted == started {
		return
	}
	m.virtualCallStarted = started
}

// processVendorAT matches an arriving "AT+<PREFIX>=<value>" against the
// company-id table: a hit fans out (prefix, company-id, value) and
// replies OK, a miss replies with the CMEE operation-not-supported error.
func (m *Machine) processVendorAT(atString string) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(atString, "AT"), "\r\n")
	for _, entry := range companyIDMap {
		if !strings.HasPrefix(trimmed, entry.prefix+"=") {
			continue
		}
		value := trimmed[len(entry.prefix)+1:]
		m.backend.ReportVendorSpecificAT(m.Addr, entry.prefix, entry.companyID, value)
		if err := m.stack.OKResponse(m.Addr); err != nil {
			logger.Warn("ok response failed", "addr", m.Addr, "err", err)
		}
		return
	}
	if err := m.stack.ErrorResponse(m.Addr, cmeeOperationNotSupported); err != nil {
		logger.Warn("error response failed", "addr", m.Addr, "err", err)
	}
}

func (m *Machine) sendOffloadCommand(data []byte, start bool) {
	flag := common.PendingOffloadStop
	if start {
		flag = common.PendingOffloadStart
	}
	m.SetPending(flag, m.timing.Offload, func() {
		m.Dispatch(&Event{Type: OffloadTimeout})
	})
	ogf, ocf, payload, err := hcivsc.SplitCommand(data)
	if err != nil {
		logger.Error("bad offload command", "addr", m.Addr, "err", err)
		return
	}
	m.hci.SendHCICommand(ogf, ocf, payload, func(ev *sal.HCIEvent) {
		m.Loop.Post(func() {
			if !m.Alive() {
				return
			}
			switch {
			case m.Pending(common.PendingOffloadStart):
				m.ClearPending(common.PendingOffloadStart)
			case m.Pending(common.PendingOffloadStop):
				m.ClearPending(common.PendingOffloadStop)
			}
		})
	})
}

func (m *Machine) handleVolume(ev *Event) {
	switch ev.Type {
	case SetVolumeReq:
		vol := int(ev.Value)
		if vol > maxSpeakerVolume {
			vol = maxSpeakerVolume
		}
		if vol == m.spkVolume {
			return
		}
		m.spkVolume = vol
		m.SetVolumeCount++
		if err := m.stack.SetVolume(m.Addr, uint8(vol)); err != nil {
			logger.Warn("volume push failed", "addr", m.Addr, "err", err)
		}
	case StackVolumeChanged:
		if m.SetVolumeCount > 0 {
			m.SetVolumeCount--
			return
		}
		m.spkVolume = int(ev.Value)
		m.MediaVolume = int(ev.Value)
		m.backend.ReportVolumeChanged(m.Addr, ev.Value)
	}
}

// handleCommon covers the events every connected-family state shares.
func (m *Machine) handleCommon(sm *hsm.Machine, e *Event) bool {
	switch e.Type {
	case SetVolumeReq, StackVolumeChanged:
		m.handleVolume(e)
	case PhoneStateChangeReq:
		m.phone = e.Phone
		if m.phone.NumActive > 0 || m.phone.CallState != 0 {
			// a real call displaces the virtual one
			m.setVirtualCall(false)
		}
	case StackATCommand:
		m.processVendorAT(e.Str)
	case SendVendorATReq:
		cmd := "AT" + e.Str + "=" + e.Str2
		if err := m.stack.SendATCommand(m.Addr, cmd); err != nil {
			logger.Warn("vendor at send failed", "addr", m.Addr, "err", err)
		}
	case StartVoiceRecognitionReq:
		if !m.recognitionActive {
			m.stack.StartVoiceRecognition(m.Addr)
		}
	case StopVoiceRecognitionReq:
		if m.recognitionActive {
			m.stack.StopVoiceRecognition(m.Addr)
		}
	case StackVRStateChanged:
		m.recognitionActive = e.Value != 0
		m.backend.ReportVRState(m.Addr, m.recognitionActive)
	case OffloadStartReq:
		m.sendOffloadCommand(e.Data, true)
	case OffloadStopReq:
		m.sendOffloadCommand(e.Data, false)
	case OffloadTimeout:
		m.backend.ReportAudioState(m.Addr, false)
	case StackDisconnected:
		sm.TransitionTo(m.disconnectedState())
	default:
		return false
	}
	return true
}

// ---- Disconnected ----

func (m *Machine) disconnectedState() hsm.State {
	return hsm.State{
		ID:   StateDisconnected,
		Name: "Disconnected",
		Enter: func(sm *hsm.Machine) {
			if sm.Previous() != nil {
				m.ClearAllPending()
				m.setVirtualCall(false)
				m.recognitionActive = false
				m.backend.ReportConnectionState(m.Addr, bt.Disconnected)
			}
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			switch e.Type {
			case ConnectReq:
				if err := m.stack.Connect(m.Addr); err != nil {
					logger.Error("connect failed", "addr", m.Addr, "err", err)
					m.backend.ReportConnectionState(m.Addr, bt.Disconnected)
					return true
				}
				sm.TransitionTo(m.connectingState())
			case RetryTimeout:
				m.retryTimer = nil
				if err := m.stack.Connect(m.Addr); err != nil {
					logger.Error("retry connect failed", "addr", m.Addr, "err", err)
					return true
				}
				sm.TransitionTo(m.connectingState())
			case StackConnected:
				sm.TransitionTo(m.connectedState())
			default:
				return false
			}
			return true
		},
	}
}

// ---- Connecting ----

func (m *Machine) connectingState() hsm.State {
	return hsm.State{
		ID:   StateConnecting,
		Name: "Connecting",
		Enter: func(sm *hsm.Machine) {
			m.backend.ReportConnectionState(m.Addr, bt.Connecting)
			m.connectTimer = m.Loop.TimerNoRepeating(m.timing.Connect, func() {
				if m.Alive() {
					m.Dispatch(&Event{Type: ConnectTimeout})
				}
			})
		},
		Exit: func(sm *hsm.Machine) {
			m.connectTimer.Cancel()
			m.connectTimer = nil
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			switch e.Type {
			case StackConnected:
				m.retryCnt = 0
				sm.TransitionTo(m.connectedState())
			case StackConnectionFailed:
				if e.Reason == ReasonCollision && m.retryCnt < maxRetry && m.retryTimer == nil {
					delay := time.Duration(100+rand.Intn(800)) * time.Millisecond
					logger.Debug("connect collision, retrying", "addr", m.Addr, "delay", delay)
					m.retryCnt++
					m.retryTimer = m.Loop.TimerNoRepeating(delay, func() {
						if m.Alive() {
							m.Dispatch(&Event{Type: RetryTimeout})
						}
					})
				}
				sm.TransitionTo(m.disconnectedState())
			case StackDisconnected, ConnectTimeout:
				sm.TransitionTo(m.disconnectedState())
			case DisconnectReq:
				m.stack.Disconnect(m.Addr)
				sm.TransitionTo(m.disconnectingState())
			default:
				return false
			}
			return true
		},
	}
}

// ---- Connected ----

func (m *Machine) connectedState() hsm.State {
	return hsm.State{
		ID:   StateConnected,
		Name: "Connected",
		Enter: func(sm *hsm.Machine) {
			prev := sm.Previous()
			if prev == nil || prev.ID == StateConnecting || prev.ID == StateDisconnected {
				m.backend.ReportConnectionState(m.Addr, bt.Connected)
			}
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			if m.handleCommon(sm, e) {
				return true
			}
			switch e.Type {
			case DisconnectReq:
				if err := m.stack.Disconnect(m.Addr); err != nil {
					logger.Error("disconnect failed", "addr", m.Addr, "err", err)
					return true
				}
				sm.TransitionTo(m.disconnectingState())

			case ConnectAudioReq:
				if err := m.stack.ConnectAudio(m.Addr); err != nil {
					m.backend.ReportAudioState(m.Addr, false)
					return true
				}
				sm.TransitionTo(m.audioConnectingState())

			case StartVirtualCallReq:
				if !m.isVirtualCallAllowed() {
					m.backend.ReportAudioState(m.Addr, false)
					return true
				}
				m.setVirtualCall(true)
				if err := m.stack.ConnectAudio(m.Addr); err != nil {
					m.setVirtualCall(false)
					m.backend.ReportAudioState(m.Addr, false)
					return true
				}
				sm.TransitionTo(m.audioConnectingState())

			case StopVirtualCallReq:
				m.setVirtualCall(false)

			case StackAudioRequest:
				// AG accepts remote SCO establishment
				sm.TransitionTo(m.audioConnectingState())

			case StackAudioConnected:
				sm.TransitionTo(m.audioOnState())

			default:
				return false
			}
			return true
		},
	}
}

// ---- AudioConnecting ----

func (m *Machine) audioConnectingState() hsm.State {
	return hsm.State{
		ID:   StateAudioConnecting,
		Name: "AudioConnecting",
		Enter: func(sm *hsm.Machine) {
			// the peer sees connecting before connected
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			if m.handleCommon(sm, e) {
				return true
			}
			switch e.Type {
			case StackAudioConnected:
				sm.TransitionTo(m.audioOnState())
			case StackAudioDisconnected:
				m.setVirtualCall(false)
				m.backend.ReportAudioState(m.Addr, false)
				sm.TransitionTo(m.connectedState())
			case DisconnectAudioReq:
				m.stack.DisconnectAudio(m.Addr)
				sm.TransitionTo(m.audioDisconnectingState())
			default:
				return false
			}
			return true
		},
	}
}

// ---- AudioOn ----

func (m *Machine) audioOnState() hsm.State {
	return hsm.State{
		ID:   StateAudioOn,
		Name: "AudioOn",
		Enter: func(sm *hsm.Machine) {
			m.backend.ReportAudioState(m.Addr, true)
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			if m.handleCommon(sm, e) {
				return true
			}
			switch e.Type {
			case DisconnectAudioReq, StopVirtualCallReq:
				if e.Type == StopVirtualCallReq {
					m.setVirtualCall(false)
				}
				if err := m.stack.DisconnectAudio(m.Addr); err != nil {
					logger.Error("audio disconnect failed", "addr", m.Addr, "err", err)
					return true
				}
				sm.TransitionTo(m.audioDisconnectingState())
			case StackAudioDisconnected:
				m.setVirtualCall(false)
				m.backend.ReportAudioState(m.Addr, false)
				sm.TransitionTo(m.connectedState())
			case DisconnectReq:
				m.SetPending(common.PendingDisconnect, m.timing.Connect, func() {
					m.stack.Disconnect(m.Addr)
				})
				m.stack.DisconnectAudio(m.Addr)
				sm.TransitionTo(m.audioDisconnectingState())
			default:
				return false
			}
			return true
		},
	}
}

// ---- AudioDisconnecting ----

func (m *Machine) audioDisconnectingState() hsm.State {
	return hsm.State{
		ID:   StateAudioDisconnecting,
		Name: "AudioDisconnecting",
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			if m.handleCommon(sm, e) {
				return true
			}
			switch e.Type {
			case StackAudioDisconnected:
				m.setVirtualCall(false)
				m.backend.ReportAudioState(m.Addr, false)
				if m.Pending(common.PendingDisconnect) {
					m.ClearPending(common.PendingDisconnect)
					m.stack.Disconnect(m.Addr)
					sm.TransitionTo(m.disconnectingState())
					return true
				}
				sm.TransitionTo(m.connectedState())
			default:
				return false
			}
			return true
		},
	}
}

// ---- Disconnecting ----

func (m *Machine) disconnectingState() hsm.State {
	return hsm.State{
		ID:   StateDisconnecting,
		Name: "Disconnecting",
		Enter: func(sm *hsm.Machine) {
			m.backend.ReportConnectionState(m.Addr, bt.Disconnecting)
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			switch e.Type {
			case StackDisconnected:
				sm.TransitionTo(m.disconnectedState())
			default:
				return false
			}
			return true
		},
	}
}
