package a2dp

import (
	"time"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/btlog"
	"github.com/btsvc/btserviced/hcivsc"
	"github.com/btsvc/btserviced/hsm"
	"github.com/btsvc/btserviced/profile/common"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/serviceloop"
)

var logger = btlog.Component("a2dp")

// State IDs, in connection-lifecycle order.
const (
	StateIdle = iota
	StateOpening
	StateOpened
	StateStarted
	StateClosing
)

// Timing is the machine's timer set; tests shrink it.
type Timing struct {
	Connect    time.Duration
	Start      time.Duration
	Suspend    time.Duration
	DelayStart time.Duration
	Offload    time.Duration
	AvrcpStart time.Duration
}

// DefaultTiming matches the deployed values.
func DefaultTiming() Timing {
	return Timing{
		Connect:    6 * time.Second,
		Start:      5 * time.Second,
		Suspend:    5 * time.Second,
		DelayStart: 100 * time.Millisecond,
		Offload:    500 * time.Millisecond,
		AvrcpStart: 2 * time.Second,
	}
}

// Backend is what the machine needs from its owning service: callback
// fan-out and the audio control path toward the media engine.
type Backend interface {
	ReportConnectionState(addr bt.Address, state bt.ConnectionState)
	ReportAudioState(addr bt.Address, state bt.AudioState)
	ReportAudioConfig(addr bt.Address)

	// AudioOnConnectionChanged reflects profile connectivity into the
	// audio path; it returns false when the audio control channel is not
	// connected yet.
	AudioOnConnectionChanged(sep bt.PeerSep, connected bool) bool
	AudioOnStarted(sep bt.PeerSep, ok bool)
	AudioOnStopped(sep bt.PeerSep)
	AudioSetupCodec(sep bt.PeerSep, addr bt.Address)
}

// Machine is one peer's A2DP state machine. All dispatch happens on the
// service loop.
type Machine struct {
	*common.PeerBase

	sm      *hsm.Machine
	peerSep bt.PeerSep
	timing  Timing
	backend Backend

	stack sal.A2DP
	avrcp sal.AVRCP
	hci   sal.HCI

	audioReady bool

	connectTimer    *serviceloop.Timer
	avrcpTimer      *serviceloop.Timer
	delayStartTimer *serviceloop.Timer
}

// NewMachine constructs the machine in Idle. peerSep is the remote's
// endpoint role: SepSink means we are the source.
func NewMachine(loop *serviceloop.Loop, addr bt.Address, peerSep bt.PeerSep,
	stack sal.A2DP, avrcp sal.AVRCP, hci sal.HCI, backend Backend, timing Timing) *Machine {
	m := &Machine{
		PeerBase: common.NewPeerBase(loop, addr),
		peerSep:  peerSep,
		timing:   timing,
		backend:  backend,
		stack:    stack,
		avrcp:    avrcp,
		hci:      hci,
	}
	m.sm = hsm.NewMachine(m.idleState(), m)
	return m
}

// Destroy tears the machine down. A machine destroyed outside Idle reports
// a final disconnect first.
func (m *Machine) Destroy() {
	if m.StateID() != StateIdle {
		m.backend.ReportConnectionState(m.Addr, bt.Disconnected)
	}
	m.connectTimer.Cancel()
	m.avrcpTimer.Cancel()
	m.delayStartTimer.Cancel()
	m.PeerBase.Destroy()
}

// StateID returns the current lifecycle state.
func (m *Machine) StateID() int { return m.sm.StateValue() }

// StateName returns the current state's name for diagnostics.
func (m *Machine) StateName() string { return m.sm.Current().Name }

// ConnectionState folds the lifecycle into the externally reported state.
func (m *Machine) ConnectionState() bt.ConnectionState {
	switch m.StateID() {
	case StateOpening:
		return bt.Connecting
	case StateOpened, StateStarted:
		return bt.Connected
	case StateClosing:
		return bt.Disconnecting
	}
	return bt.Disconnected
}

// IsPlaying reports whether the media stream is live.
func (m *Machine) IsPlaying() bool { return m.StateID() == StateStarted }

// IsPendingStop reports an outstanding suspend.
func (m *Machine) IsPendingStop() bool { return m.Pending(common.PendingStop) }

// Dispatch feeds one event through the current state. Must run on the
// service loop.
func (m *Machine) Dispatch(ev *Event) bool {
	logger.Debug("event", "addr", m.Addr, "state", m.StateName(), "event", ev.Type)
	return m.sm.Dispatch(ev)
}

// sendOffloadCommand peels the raw {ogf, ocf, payload} buffer off an
// offload request and submits the VSC; the completion is matched against
// the pending bits and re-posted as an offload event.
func (m *Machine) sendOffloadCommand(data []byte) error {
	ogf, ocf, payload, err := hcivsc.SplitCommand(data)
	if err != nil {
		return err
	}
	return m.hci.SendHCICommand(ogf, ocf, payload, func(ev *sal.HCIEvent) {
		m.Loop.Post(func() {
			if !m.Alive() {
				return
			}
			var t EventType
			switch {
			case m.Pending(common.PendingOffloadStart):
				m.ClearPending(common.PendingOffloadStart)
				t = OffloadStartEvt
			case m.Pending(common.PendingOffloadStop):
				m.ClearPending(common.PendingOffloadStop)
				t = OffloadStopEvt
			default:
				return
			}
			m.Dispatch(&Event{Type: t, HCIStatus: ev.Status})
		})
	})
}

func (m *Machine) startOffload(data []byte) {
	if m.peerSep == bt.SepSink {
		m.ClearPending(common.PendingStart)
		m.delayStartTimer.Cancel()
		m.delayStartTimer = nil
	}
	m.SetPending(common.PendingOffloadStart, m.timing.Offload, func() {
		m.Dispatch(&Event{Type: OffloadTimeout})
	})
	if err := m.sendOffloadCommand(data); err != nil {
		logger.Error("offload start command failed", "addr", m.Addr, "err", err)
	}
}

func (m *Machine) stopOffload(data []byte) {
	m.SetPending(common.PendingOffloadStop, m.timing.Offload, func() {
		m.Dispatch(&Event{Type: OffloadTimeout})
	})
	if err := m.sendOffloadCommand(data); err != nil {
		logger.Error("offload stop command failed", "addr", m.Addr, "err", err)
	}
}

// startStream issues the AVDTP start and arms the start timer with
// PENDING_START.
func (m *Machine) startStream() bool {
	if err := m.stack.SourceStartStream(m.Addr); err != nil {
		logger.Error("stream start failed", "addr", m.Addr, "err", err)
		return false
	}
	m.SetPending(common.PendingStart, m.timing.Start, func() {
		m.Dispatch(&Event{Type: StartTimeout})
	})
	return true
}

func (m *Machine) sendBandwidthCommand(start bool) {
	cfg := hcivsc.ACLBandwidthConfig{ACLHandle: m.ACLHandle}
	var cmd []byte
	if start {
		cfg.Bandwidth = 219032
		cmd = hcivsc.BuildACLBandwidthSet(cfg)
	} else {
		cmd = hcivsc.BuildACLBandwidthClear(cfg)
	}
	ogf, ocf, payload, err := hcivsc.SplitCommand(cmd)
	if err != nil {
		return
	}
	if err := m.hci.SendHCICommand(ogf, ocf, payload, nil); err != nil {
		logger.Warn("bandwidth command failed", "addr", m.Addr, "err", err)
	}
}

// ---- Idle ----

func (m *Machine) idleState() hsm.State {
	return hsm.State{
		ID:   StateIdle,
		Name: "Idle",
		Enter: func(sm *hsm.Machine) {
			m.audioReady = false
			if sm.Previous() != nil {
				m.backend.ReportConnectionState(m.Addr, bt.Disconnected)
				m.avrcpTimer.Cancel()
				m.avrcpTimer = nil
			}
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			switch e.Type {
			case ConnectReq:
				var err error
				if m.peerSep == bt.SepSink {
					err = m.stack.SourceConnect(m.Addr)
				} else {
					err = m.stack.SinkConnect(m.Addr)
				}
				if err != nil {
					logger.Error("connect failed", "addr", m.Addr, "err", err)
					m.backend.ReportConnectionState(m.Addr, bt.Disconnected)
					return true
				}
				sm.TransitionTo(m.openingState())
			case ConnectedEvt:
				sm.TransitionTo(m.openedState())
			default:
				return false
			}
			return true
		},
	}
}

// ---- Opening ----

func (m *Machine) openingState() hsm.State {
	return hsm.State{
		ID:   StateOpening,
		Name: "Opening",
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
			case ConnectedEvt:
				sm.TransitionTo(m.openedState())
			case DisconnectedEvt, ConnectTimeout:
				sm.TransitionTo(m.idleState())
			case DisconnectReq:
				if m.peerSep == bt.SepSink {
					m.stack.SourceDisconnect(m.Addr)
				} else {
					m.stack.SinkDisconnect(m.Addr)
				}
				sm.TransitionTo(m.closingState())
			default:
				return false
			}
			return true
		},
	}
}

// ---- Opened ----

func (m *Machine) openedState() hsm.State {
	return hsm.State{
		ID:   StateOpened,
		Name: "Opened",
		Enter: func(sm *hsm.Machine) {
			prev := sm.Previous()
			fromConnect := prev == nil || prev.ID == StateIdle || prev.ID == StateOpening
			if fromConnect {
				// as source, force the AV link to master before media starts
				if m.peerSep == bt.SepSink {
					if err := m.hci.SwitchRole(m.Addr, bt.RoleMaster); err != nil {
						logger.Warn("role switch failed", "addr", m.Addr, "err", err)
					}
					// local is source: give the remote a window to bring up
					// AVRCP before we initiate
					m.avrcpTimer = m.Loop.TimerNoRepeating(m.timing.AvrcpStart, func() {
						if m.Alive() {
							m.Dispatch(&Event{Type: AvrcpStartTimeout})
						}
					})
				} else {
					// local is sink: connect AVRCP controller immediately
					m.avrcp.ControlConnect(m.Addr)
				}
				m.backend.AudioOnConnectionChanged(m.peerSep, true)
				m.backend.ReportConnectionState(m.Addr, bt.Connected)
			} else if prev.ID == StateStarted && m.peerSep == bt.SepSink {
				m.avrcp.TargetPlayStatusNotify(m.Addr, false)
			}
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			switch e.Type {
			case DisconnectReq:
				var err error
				if m.peerSep == bt.SepSink {
					err = m.stack.SourceDisconnect(m.Addr)
				} else {
					err = m.stack.SinkDisconnect(m.Addr)
				}
				if err != nil {
					logger.Error("disconnect failed", "addr", m.Addr, "err", err)
				}
				m.avrcp.ControlDisconnect(m.Addr)
				m.backend.AudioOnConnectionChanged(m.peerSep, false)
				sm.TransitionTo(m.closingState())

			case StreamStartReq:
				if m.Pending(common.PendingStop) || m.Pending(common.PendingStart) {
					logger.Debug("suspending or starting, ignoring start", "addr", m.Addr)
					break
				}
				if !m.audioReady {
					logger.Error("audio not ready, ignoring start", "addr", m.Addr)
					break
				}
				m.startStream()

			case DelayStreamStartReq:
				m.delayStartTimer.Cancel()
				m.delayStartTimer = nil
				if m.Pending(common.PendingStart) {
					break
				}
				m.startStream()

			case DisconnectedEvt:
				if m.Pending(common.PendingStart) {
					m.ClearPending(common.PendingStart)
					// start was outstanding; the closure is its failure
					m.backend.AudioOnStarted(m.peerSep, false)
				}
				m.backend.AudioOnConnectionChanged(m.peerSep, false)
				sm.TransitionTo(m.idleState())

			case StreamStartedEvt:
				if m.peerSep == bt.SepSink {
					m.ClearPending(common.PendingStart)
					m.delayStartTimer.Cancel()
					m.delayStartTimer = nil
				}
				if !m.audioReady {
					logger.Warn("device not ready for stream start", "addr", m.Addr)
					break
				}
				m.backend.AudioOnStarted(m.peerSep, true)
				sm.TransitionTo(m.startedState())

			case StreamSuspendedEvt, StreamClosedEvt:
				if m.Pending(common.PendingStop) && m.delayStartTimer != nil {
					m.delayStartTimer.Cancel()
					m.delayStartTimer = m.Loop.TimerNoRepeating(m.timing.DelayStart, func() {
						if m.Alive() {
							m.Dispatch(&Event{Type: DelayStreamStartReq})
						}
					})
				}
				m.ClearPending(common.PendingStop)
				m.backend.ReportAudioState(m.Addr, bt.AudioStopped)
				m.backend.AudioOnStopped(m.peerSep)

			case DeviceCodecStateChangeEvt:
				m.audioReady = true
				m.backend.ReportAudioConfig(m.Addr)
				m.backend.AudioSetupCodec(m.peerSep, m.Addr)

			case StartTimeout:
				m.backend.AudioOnStarted(m.peerSep, false)

			case OffloadStartReq:
				m.startOffload(e.Data)

			case OffloadStartEvt:
				if e.HCIStatus != 0 {
					logger.Error("offload start failed", "addr", m.Addr, "status", e.HCIStatus)
					m.backend.AudioOnStarted(m.peerSep, false)
					break
				}
				m.backend.AudioOnStarted(m.peerSep, true)
				sm.TransitionTo(m.startedState())

			case OffloadTimeout:
				m.backend.AudioOnStarted(m.peerSep, false)

			case OffloadStopReq:
				m.stopOffload(e.Data)

			case OffloadStopEvt:
				m.backend.AudioOnStopped(m.peerSep)

			case AvrcpStartTimeout:
				m.avrcpTimer = nil
				// remote never initiated AVRCP; connect as target
				m.avrcp.ControlConnect(m.Addr)

			default:
				return false
			}
			return true
		},
	}
}

// ---- Started ----

func (m *Machine) startedState() hsm.State {
	return hsm.State{
		ID:   StateStarted,
		Name: "Started",
		Enter: func(sm *hsm.Machine) {
			if m.peerSep == bt.SepSink {
				m.hci.SwitchRole(m.Addr, bt.RoleMaster)
			}
			m.sendBandwidthCommand(true)
			m.backend.ReportAudioState(m.Addr, bt.AudioStarted)
		},
		Exit: func(sm *hsm.Machine) {
			m.sendBandwidthCommand(false)
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			switch e.Type {
			case DisconnectReq:
				if m.peerSep == bt.SepSink {
					m.stack.SourceDisconnect(m.Addr)
				} else {
					m.stack.SinkDisconnect(m.Addr)
				}
				m.avrcp.ControlDisconnect(m.Addr)
				sm.TransitionTo(m.closingState())

			case StreamStartReq:
				// start racing a pending suspend: fall back to Opened and
				// re-issue once the suspend resolves or the delay expires
				if m.Pending(common.PendingStop) {
					m.delayStartTimer.Cancel()
					m.delayStartTimer = m.Loop.TimerNoRepeating(m.timing.Suspend, func() {
						if m.Alive() {
							m.Dispatch(&Event{Type: DelayStreamStartReq})
						}
					})
					sm.TransitionTo(m.openedState())
					break
				}
				// started remotely; just ack the local request
				if m.peerSep == bt.SepSink {
					m.backend.AudioOnStarted(m.peerSep, true)
				}

			case StreamSuspendReq:
				if m.Pending(common.PendingStop) {
					logger.Debug("suspend already outstanding", "addr", m.Addr)
					break
				}
				m.SetPending(common.PendingStop, m.timing.Suspend, func() {
					m.backend.AudioOnStopped(m.peerSep)
				})
				if err := m.stack.SourceSuspendStream(m.Addr); err != nil {
					logger.Error("stream suspend failed", "addr", m.Addr, "err", err)
					m.ClearPending(common.PendingStop)
					m.backend.AudioOnStopped(m.peerSep)
				}

			case DisconnectedEvt:
				m.backend.AudioOnConnectionChanged(m.peerSep, false)
				sm.TransitionTo(m.idleState())

			case StreamSuspendedEvt, StreamClosedEvt:
				m.ClearAllPending()
				m.backend.AudioOnStopped(m.peerSep)
				m.backend.ReportAudioState(m.Addr, bt.AudioStopped)
				sm.TransitionTo(m.openedState())

			case DeviceCodecStateChangeEvt:
				m.backend.ReportAudioConfig(m.Addr)

			case DataIndEvt:
				// sink-side media payload; forwarded by the service

			case OffloadStopReq:
				m.stopOffload(e.Data)

			case OffloadStopEvt:
				m.backend.AudioOnStopped(m.peerSep)

			default:
				return false
			}
			return true
		},
	}
}

// ---- Closing ----

func (m *Machine) closingState() hsm.State {
	return hsm.State{
		ID:   StateClosing,
		Name: "Closing",
		Enter: func(sm *hsm.Machine) {
			m.backend.AudioOnConnectionChanged(m.peerSep, false)
			m.backend.ReportConnectionState(m.Addr, bt.Disconnecting)
		},
		Process: func(sm *hsm.Machine, ev hsm.Event) bool {
			e := ev.(*Event)
			switch e.Type {
			case StreamSuspendReq:
				// already tearing down
			case StreamClosedEvt, StreamSuspendedEvt:
				m.backend.AudioOnStopped(m.peerSep)
			case DisconnectedEvt:
				sm.TransitionTo(m.idleState())
			case OffloadStopReq:
				m.stopOffload(e.Data)
			case OffloadStopEvt:
				m.backend.AudioOnStopped(m.peerSep)
			default:
				return false
			}
			return true
		},
	}
}
