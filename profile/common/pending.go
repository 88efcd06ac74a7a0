// Package common carries the per-peer plumbing every profile state machine
// embeds: the pending-operation bitmask with its paired timers, and the
// shared peer bookkeeping (codec, handles, media volume).
package common

import (
	"sync/atomic"
	"time"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/serviceloop"
)

// PendingFlag marks one outstanding asynchronous operation. Flags are
// independent bits; each is armed and cancelled together with its timer.
type PendingFlag uint32

const (
	PendingStart PendingFlag = 1 << (iota + 1)
	PendingStop
	PendingOffloadStart
	PendingOffloadStop
	PendingDisconnect
)

// PeerBase is the state shared by every profile's per-peer machine.
type PeerBase struct {
	Addr bt.Address
	Loop *serviceloop.Loop

	pending uint32
	timers  map[PendingFlag]*serviceloop.Timer

	// Codec and link bookkeeping filled in by the owning machine.
	Codec      uint32
	Offloading bool
	SCOHandle  uint16
	ACLHandle  uint16

	// Media-volume snapshot and the echo-suppression counter for
	// self-originated volume changes.
	MediaVolume    int
	SetVolumeCount int

	alive atomic.Bool
}

// NewPeerBase constructs the base for one peer.
func NewPeerBase(loop *serviceloop.Loop, addr bt.Address) *PeerBase {
	b := &PeerBase{
		Addr:   addr,
		Loop:   loop,
		timers: make(map[PendingFlag]*serviceloop.Timer),
	}
	b.alive.Store(true)
	return b
}

// Alive reports whether the owning machine has not been torn down; timer
// and work continuations check it before touching the machine.
func (b *PeerBase) Alive() bool { return b.alive.Load() }

// SetPending sets flag and arms its timer in one step. An already-set flag
// is re-armed (the old timer is cancelled first), keeping the bit and the
// timer paired.
func (b *PeerBase) SetPending(flag PendingFlag, timeout time.Duration, onTimeout func()) {
	b.timers[flag].Cancel()
	b.pending |= uint32(flag)
	b.timers[flag] = b.Loop.TimerNoRepeating(timeout, func() {
		if !b.Alive() {
			return
		}
		b.pending &^= uint32(flag)
		delete(b.timers, flag)
		onTimeout()
	})
}

// ClearPending clears flag and cancels its timer; null-safe and idempotent.
func (b *PeerBase) ClearPending(flag PendingFlag) {
	b.pending &^= uint32(flag)
	b.timers[flag].Cancel()
	delete(b.timers, flag)
}

// ClearAllPending drops every flag and timer.
func (b *PeerBase) ClearAllPending() {
	for flag, t := range b.timers {
		t.Cancel()
		delete(b.timers, flag)
	}
	b.pending = 0
}

// Pending reports whether flag is set.
func (b *PeerBase) Pending(flag PendingFlag) bool {
	return b.pending&uint32(flag) != 0
}

// HasTimer reports whether flag currently has an armed timer; the
// pairing invariant says this matches Pending for timer-backed flags.
func (b *PeerBase) HasTimer(flag PendingFlag) bool {
	_, ok := b.timers[flag]
	return ok
}

// Destroy marks the base dead and cancels everything; a timer that fires
// after this is a no-op.
func (b *PeerBase) Destroy() {
	b.alive.Store(false)
	b.ClearAllPending()
}
