package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/status"
)

// Invariant 5: create succeeds exactly once per (name, pid) until a
// matching delete.
func TestCreateInstanceUniqueness(t *testing.T) {
	m := New()

	appID, err := m.CreateInstance(0x1000, 1, "media", 42, 0)
	require.NoError(t, err)
	assert.NotZero(t, appID)

	_, err = m.CreateInstance(0x2000, 1, "media", 42, 0)
	assert.Error(t, err, "duplicate (name, pid) rejected")

	// same name, different pid is a different client
	_, err = m.CreateInstance(0x3000, 1, "media", 43, 0)
	require.NoError(t, err)

	require.NoError(t, m.DeleteInstance(appID))
	_, err = m.CreateInstance(0x4000, 1, "media", 42, 0)
	assert.NoError(t, err, "slot reusable after delete")
}

func TestGetInstance(t *testing.T) {
	m := New()

	_, err := m.CreateInstance(0xbeef, 1, "cli", 7, 0)
	require.NoError(t, err)

	handle, err := m.GetInstance("cli", 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xbeef), handle)

	_, err = m.GetInstance("cli", 8)
	assert.Equal(t, status.DeviceNotFound, status.From(err))
}

func TestDeleteUnknownInstance(t *testing.T) {
	m := New()
	err := m.DeleteInstance(99)
	assert.Equal(t, status.NotFound, status.From(err))
}

func TestAppIDsAreDenseAndRecycled(t *testing.T) {
	m := New()

	a, err := m.CreateInstance(1, 1, "a", 1, 0)
	require.NoError(t, err)
	b, err := m.CreateInstance(2, 1, "b", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, a+1, b)

	require.NoError(t, m.DeleteInstance(a))
	c, err := m.CreateInstance(3, 1, "c", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, a, c, "freed id handed out again, lowest first")
}

func TestAllocatorExhaustion(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		_, err := m.CreateInstance(uint64(i), 1, "client", int32(i), 0)
		require.NoError(t, err)
	}
	_, err := m.CreateInstance(99, 1, "overflow", 99, 0)
	assert.Equal(t, status.NoResources, status.From(err))
}

func TestCleanup(t *testing.T) {
	m := New()
	_, err := m.CreateInstance(1, 1, "a", 1, 0)
	require.NoError(t, err)

	m.Cleanup()
	assert.Zero(t, m.Count())
	_, err = m.CreateInstance(2, 1, "a", 1, 0)
	assert.NoError(t, err)
}
