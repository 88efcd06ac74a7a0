/*
Package callbacks implements the bounded subscriber registry multiplexing
profile events to N subscribers — local callback tables or remote IPC peers
identified by an opaque handle.

The original C implementation iterates under a single reentrant mutex,
which leaves the mid-iteration-unregister behavior unspecified. This
realization resolves that explicitly: Foreach takes a snapshot of the
registered entries under the lock, releases the lock, and dispatches from
the snapshot — so a handler that unregisters another subscriber during
dispatch can never deadlock, skip, or double-deliver to anyone else in the
same pass.
*/
package callbacks

import (
	"sync"

	"github.com/google/uuid"
)

// RemoteCookie identifies a remote IPC peer registration.
type RemoteCookie = uuid.UUID

// Handle is the opaque token returned by Register, the sole key for
// Unregister.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

type entry[T any] struct {
	handle   Handle
	remote   *RemoteCookie // non-nil when registered via RegisterRemote
	callback T
}

// List is a bounded, mutex-protected registry of callback tables of type T.
type List[T any] struct {
	mu       sync.Mutex
	maxSlots int
	entries  []entry[T]
}

// New creates a list bounded at maxSlots.
func New[T any](maxSlots int) *List[T] {
	return &List[T]{maxSlots: maxSlots}
}

// Register inserts callbacks with no remote cookie. Fails with false only
// when every slot is taken; registering the same callback value twice is
// not detected and yields two entries.
func (l *List[T]) Register(cb T) (Handle, bool) {
	return l.insert(nil, cb)
}

// RegisterRemote inserts callbacks keyed by a remote cookie; uniqueness is
// enforced on remote.
func (l *List[T]) RegisterRemote(remote RemoteCookie, cb T) (Handle, bool) {
	return l.insert(&remote, cb)
}

func (l *List[T]) insert(remote *RemoteCookie, cb T) (Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.maxSlots {
		return Handle{}, false
	}
	if remote != nil {
		for _, e := range l.entries {
			if e.remote != nil && *e.remote == *remote {
				return Handle{}, false
			}
		}
	}

	h := Handle(uuid.New())
	l.entries = append(l.entries, entry[T]{handle: h, remote: remote, callback: cb})
	return h, true
}

// Unregister removes the entry matching handle. Returns true on success.
func (l *List[T]) Unregister(handle Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e.handle == handle {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Count returns the number of registered entries; always equals the
// registry's true length between public calls (Invariant 2).
func (l *List[T]) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Foreach invokes fn once per subscriber with a snapshot taken under the
// lock, so handlers are free to Register/Unregister (including each other,
// including themselves) without deadlocking or corrupting this pass.
func (l *List[T]) Foreach(fn func(remote *RemoteCookie, cb T)) {
	l.mu.Lock()
	snapshot := make([]entry[T], len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	for _, e := range snapshot {
		fn(e.remote, e.callback)
	}
}
