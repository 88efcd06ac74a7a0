package hcivsc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/sal"
	"github.com/btsvc/btserviced/sal/salfake"
)

func TestSplitCommand(t *testing.T) {
	cmd := BuildA2DPOffloadStop(A2DPOffloadConfig{ACLHandle: 0x0042})

	ogf, ocf, payload, err := SplitCommand(cmd)
	require.NoError(t, err)

	assert.Equal(t, uint8(0x3f), ogf)
	assert.Equal(t, uint16(0x0000), ocf)
	assert.Equal(t, []byte{0x03, 0x03, 0x42, 0x00}, payload)
}

func TestSplitCommand_TooShort(t *testing.T) {
	_, _, _, err := SplitCommand([]byte{0x3f})
	assert.Error(t, err)
}

func TestBuildDLFEnable(t *testing.T) {
	cmd := BuildDLFEnable(DLFConfig{ConnectionHandle: 0x0010, TimeoutSlots: DLFTimeoutSlots})

	ogf, ocf, payload, err := SplitCommand(cmd)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x3f), ogf)
	assert.Equal(t, uint16(0x00e1), ocf)
	// enable flag, handle LE, 1600 slots LE
	assert.Equal(t, []byte{0x01, 0x10, 0x00, 0x40, 0x06}, payload)
}

func TestBuildLEAOffloadStart_PadsMissingStream(t *testing.T) {
	cmd := BuildLEAOffloadStart(LEAOffloadConfig{
		Streams: []LEAOffloadStream{{ISOHandle: 0x0060, SDUSize: 120}},
	})

	_, _, payload, err := SplitCommand(cmd)
	require.NoError(t, err)
	// domain, start, mono, stream 0, zero-padded stream 1
	assert.Equal(t, []byte{0x04, 0x04, 0x01, 0x60, 0x00, 0x78, 0x00, 0x00, 0x00, 0x00, 0x00}, payload)
}

func TestDLFManager_EnableConfirms(t *testing.T) {
	stack := salfake.New()
	addr, _ := bt.ParseAddress("11:22:33:44:55:66")
	stack.SetACLHandle(addr, 0x0020)

	m := NewDLFManager(stack)
	require.NoError(t, m.Enable(addr))
	assert.False(t, m.Enabled(addr), "not enabled until command completes")

	stack.ReleaseHCI(&sal.HCIEvent{Status: 0})
	assert.True(t, m.Enabled(addr))
}

func TestDLFManager_FailedCompletionRemovesRecord(t *testing.T) {
	stack := salfake.New()
	addr, _ := bt.ParseAddress("11:22:33:44:55:66")
	stack.SetACLHandle(addr, 0x0020)

	m := NewDLFManager(stack)
	require.NoError(t, m.Enable(addr))
	stack.ReleaseHCI(&sal.HCIEvent{Status: 0x1f})

	assert.False(t, m.Enabled(addr))
	// slot freed, so enable may be retried
	require.NoError(t, m.Enable(addr))
}

func TestDLFManager_DuplicateEnableRejected(t *testing.T) {
	stack := salfake.New()
	addr, _ := bt.ParseAddress("11:22:33:44:55:66")
	stack.SetACLHandle(addr, 0x0020)

	m := NewDLFManager(stack)
	require.NoError(t, m.Enable(addr))
	assert.Error(t, m.Enable(addr))
}

func TestDLFManager_DisableRemoves(t *testing.T) {
	stack := salfake.New()
	addr, _ := bt.ParseAddress("11:22:33:44:55:66")
	stack.SetACLHandle(addr, 0x0020)

	m := NewDLFManager(stack)
	require.NoError(t, m.Enable(addr))
	stack.ReleaseHCI(&sal.HCIEvent{Status: 0})
	require.True(t, m.Enabled(addr))

	require.NoError(t, m.Disable(addr))
	stack.ReleaseHCI(&sal.HCIEvent{Status: 0})
	assert.False(t, m.Enabled(addr))
}
