package hfphf

import (
	"math/rand"
	"time"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/hsm"
	"github.com/btsvc/btserviced/profile/common"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
)

var logger = btlog.Component("hfp_hf")

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
	// webchatVerdictUS: a callsetup→call transition faster than this while
	// the setup was outgoing/alerting marks the call as a web-chat suspect.
	webchatVerdictUS = 300 * 1000 * 1000

	// webchatBlockUS: SCO stays blocked this long past the last suspect
	// mark; each rejected attempt refreshes the mark.
	webchatBlockUS = 500 * 1000 * 1000

	// webchatWaiverUS: a locally originated dial this recent waives the
	// block.
	webchatWaiverUS = 10 * 1000 * 1000

	maxRetry = 1

	maxSpeakerVolume = 15
)

// Timing is the machine's timer set; tests shrink it.
type Timing struct {
	Connect time.Duration
}

// DefaultTiming matches the deployed values.
func DefaultTiming() Timing {
	return Timing{Connect: 6 * time.Second}
}

// Backend is what the machine needs from its owning service.
type Backend interface {
	ReportConnectionState(addr bt.Address, state bt.ConnectionState)
	ReportAudioState(addr bt.Address, connected bool)
	ReportCallIndicator(addr bt.Address, ev EventType, value uint8)
	ReportVolumeChanged(addr bt.Address, volume uint8)

	// VoIPNumbers is the configured list of numbers that always reject
	// SCO.
	VoIPNumbers() []string
}

// Machine is one peer's HF state machine. All dispatch happens on the
// service loop.
type Machine struct {
	*common.PeerBase

	sm      *hsm.Machine
	timing  Timing
	backend Backend
	stack   sal.HFP

	callStatus   common.CallStatus
	currentCalls []common.CurrentCall

	retryCnt   int
	retryTimer *serviceloop.Timer

	connectTimer *serviceloop.Timer

	spkVolume int

	now func() int64 // µs; swappable for tests
}

// NewMachine constructs the machine in Disconnected.
func NewMachine(loop *serviceloop.Loop, addr bt.Address, stack sal.HFP, backend Backend, timing Timing) *Machine {
	m := &Machine{
		PeerBase: common.NewPeerBase(loop, addr),
		timing:   timing,
		backend:  backend,
		stack:    stack,
		now:      serviceloop.GetOSTimestampUS,
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

// CallStatus returns a copy of the indicator model.
func (m *Machine) CallStatus() common.CallStatus { return m.callStatus }

// Dispatch feeds one event through the current state. Must run on the
// service loop.
func (m *Machine) Dispatch(ev *Event) bool {
	logger.Debug("event", "addr", m.Addr, "state", m.StateName(), "event", ev.Type)
	return m.sm.Dispatch(ev)
}

// checkScoAllowed runs the three admission verdicts, in order: a recent
// local dial waives everything, a live web-chat mark rejects (and
// refreshes itself), and an exact VoIP-number match rejects.
func (m *Machine) checkScoAllowed() bool {
	nowUS := m.now()

	if d := common.USDiff(m.callStatus.DialingTimestampUS, nowUS); d >= 0 && d < webchatWaiverUS && m.callStatus.DialingTimestampUS > 0 {
		return true
	}

	if m.callStatus.WebchatFlagTimestampUS > 0 {
		if d := common.USDiff(m.callStatus.WebchatFlagTimestampUS, nowUS); d >= 0 && d < webchatBlockUS {
			m.callStatus.WebchatFlagTimestampUS = nowUS
			logger.Debug("sco rejected: suspected web chat", "addr", m.Addr)
			return false
		}
	}

	for _, call := range m.currentCalls {
		for _, voip := range m.backend.VoIPNumbers() {
			if call.Number == voip {
				logger.Debug("sco rejected: voip number", "addr", m.Addr)
				return false
			}
		}
	}
	return true
}

// channelTypeVerdict marks a call as a web-chat suspect when it went
// in-progress straight out of an outgoing/alerting setup in under the
// verdict window.
func (m *Machine) channelTypeVerdict(ev EventType, value uint8, nowUS int64) {
	if ev != StackCallChanged {
		return
	}
	if common.Call(value) != common.CallInProgress ||
		m.callStatus.Call != common.CallNone {
		return
	}
	if m.callStatus.CallSetup != common.CallSetupOutgoing &&
		m.callStatus.CallSetup != common.CallSetupAlerting {
		return
	}
	d := common.USDiff(m.callStatus.CallSetupTimestampUS, nowUS)
	if d >= 0 && d < webchatVerdictUS {
		logger.Debug("call marked as web-chat suspect", "addr", m.Addr)
		m.callStatus.WebchatFlagTimestampUS = nowUS
		if m.StateID() == StateAudioOn && !m.checkScoAllowed() {
			if err := m.stack.DisconnectAudio(m.Addr); err != nil {
				logger.Error("audio teardown failed", "addr", m.Addr, "err", err)
			}
		}
	}
}

// updateCallStatus applies one indicator change: run the web-chat verdict
// against the prior state, then record value and timestamp and notify.
func (m *Machine) updateCallStatus(ev EventType, value uint8) {
	nowUS := m.now()
	m.channelTypeVerdict(ev, value, nowUS)

	switch ev {
	case StackCallChanged:
		m.callStatus.Call = common.Call(value)
		m.callStatus.CallTimestampUS = nowUS
	case StackCallSetupChanged:
		m.callStatus.CallSetup = common.CallSetup(value)
		m.callStatus.CallSetupTimestampUS = nowUS
	case StackCallHeldChanged:
		m.callStatus.CallHeld = common.CallHeld(value)
		m.callStatus.CallHeldTimestampUS = nowUS
	default:
		return
	}
	m.backend.ReportCallIndicator(m.Addr, ev, value)
	// indicators moved; refresh the current-calls list
	if err := m.stack.QueryCurrentCalls(m.Addr); err != nil {
		logger.Warn("clcc query failed", "addr", m.Addr, "err", err)
	}
}

// handleVolume pushes an engine-side volume change to the peer unless it
// is the echo of our own last push.
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
			// echo of a self-originated change
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
	case StackCallChanged, StackCallSetupChanged, StackCallHeldChanged:
		m.updateCallStatus(e.Type, e.Value)
	case StackCurrentCalls:
		m.currentCalls = e.Calls
	case SetVolumeReq, StackVolumeChanged:
		m.handleVolume(e)
	case DialReq:
		if err := m.stack.SendATCommand(m.Addr, "ATD"+e.Number+";"); err != nil {
			logger.Error("dial failed", "addr", m.Addr, "err", err)
			return true
		}
		m.callStatus.DialingTimestampUS = m.now()
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
				m.callStatus = common.CallStatus{}
				m.currentCalls = nil
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
			case ConnectAudioReq:
				if !m.checkScoAllowed() {
					m.backend.ReportAudioState(m.Addr, false)
					return true
				}
				if err := m.stack.ConnectAudio(m.Addr); err != nil {
					logger.Error("audio connect failed", "addr", m.Addr, "err", err)
					m.backend.ReportAudioState(m.Addr, false)
					return true
				}
				sm.TransitionTo(m.audioConnectingState())
			case StackAudioRequest:
				// remote wants SCO; admission is ours
				if !m.checkScoAllowed() {
					m.backend.ReportAudioState(m.Addr, false)
					if err := m.stack.DisconnectAudio(m.Addr); err != nil {
						logger.Warn("sco reject failed", "addr", m.Addr, "err", err)
					}
					return true
				}
				sm.TransitionTo(m.audioConnectingState())
			case StackAudioConnected:
				sm.TransitionTo(m.audioOnState())
			case DisconnectReq:
				if err := m.stack.Disconnect(m.Addr); err != nil {
					logger.Error("disconnect failed", "addr", m.Addr, "err", err)
					return true
				}
				sm.TransitionTo(m.disconnectingState())
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
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			if m.handleCommon(sm, e) {
				return true
			}
			switch e.Type {
			case StackAudioConnected:
				sm.TransitionTo(m.audioOnState())
			case StackAudioDisconnected:
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
			case DisconnectAudioReq:
				if err := m.stack.DisconnectAudio(m.Addr); err != nil {
					logger.Error("audio disconnect failed", "addr", m.Addr, "err", err)
					return true
				}
				sm.TransitionTo(m.audioDisconnectingState())
			case StackAudioDisconnected:
				m.backend.ReportAudioState(m.Addr, false)
				sm.TransitionTo(m.connectedState())
			case DisconnectReq:
				// tear the SCO down first; the service-level disconnect
				// follows once audio reports closed
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
