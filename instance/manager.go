/*
Package instance implements the process-wide Manager: a singleton list of
per-client Instance records keyed by (host name, pid), with a dense
small-integer AppID handed out by an index allocator. create_instance
rejects a duplicate (name, pid) pair; delete_instance frees the slot for
reuse.
*/
package instance

import (
	"sync"

	"github.com/btsvc/btserviced/status"
)

// Record is a single client's registration with the service.
type Record struct {
	AppID    uint32
	Handle   uint64
	InsType  uint8
	HostName string
	PID      int32
	UID      uint32
	UserData any
}

// Manager owns the process-wide instance list and the AppID allocator.
type Manager struct {
	mu        sync.Mutex
	instances []*Record
	ids       *idAllocator
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{ids: newIDAllocator(10)}
}

// CreateInstance registers a new client instance, allocating a dense AppID.
// It rejects a second create for the same (hostName, pid) pair until a
// matching DeleteInstance, matching manager_create_instance exactly.
func (m *Manager) CreateInstance(handle uint64, insType uint8, hostName string, pid int32, uid uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.find(hostName, pid) != nil {
		return 0, status.New(status.Fail)
	}

	id, ok := m.ids.alloc()
	if !ok {
		return 0, status.New(status.NoResources)
	}

	m.instances = append(m.instances, &Record{
		AppID:    uint32(id),
		Handle:   handle,
		InsType:  insType,
		HostName: hostName,
		PID:      pid,
		UID:      uid,
	})
	return uint32(id), nil
}

// GetInstance resolves a (hostName, pid) pair back to its registration
// handle.
func (m *Manager) GetInstance(hostName string, pid int32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.find(hostName, pid)
	if r == nil {
		return 0, status.New(status.DeviceNotFound)
	}
	return r.Handle, nil
}

// DeleteInstance removes the instance owning appID and frees its slot.
func (m *Manager) DeleteInstance(appID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.instances {
		if r.AppID == appID {
			m.instances = append(m.instances[:i], m.instances[i+1:]...)
			m.ids.free(int(appID))
			return nil
		}
	}
	return status.New(status.NotFound)
}

// Cleanup tears down every instance, matching manager_cleanup.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances = nil
	m.ids = newIDAllocator(10)
}

func (m *Manager) find(hostName string, pid int32) *Record {
	for _, r := range m.instances {
		if r.HostName == hostName && r.PID == pid {
			return r
		}
	}
	return nil
}

// Count returns the number of live instances; used by tests and diagnostics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.instances)
}
