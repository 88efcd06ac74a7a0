//go:build !linux

package pan

import (
	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/status"
)

type unsupportedTap struct{}

// NewLinuxTap has no implementation off Linux; Open always fails and the
// PAN bridge stays down.
func NewLinuxTap() TapDevice { return unsupportedTap{} }

func (unsupportedTap) Open(string, bt.Address) (int, error) {
	return -1, status.New(status.NoSupport)
}
func (unsupportedTap) Read([]byte) (int, error)  { return 0, status.New(status.NoSupport) }
func (unsupportedTap) Write([]byte) (int, error) { return 0, status.New(status.NoSupport) }
func (unsupportedTap) Close() error              { return nil }
