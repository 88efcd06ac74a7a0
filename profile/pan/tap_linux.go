//go:build linux

package pan

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/btsvc/btserviced/bt"
)

// linuxTap drives /dev/net/tun with TUNSETIFF and programs the interface
// through an AF_INET control socket.
type linuxTap struct {
	file *os.File
	name string
}

// NewLinuxTap returns the host tap implementation.
func NewLinuxTap() TapDevice {
	return &linuxTap{}
}

type ifreq struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [22]byte
}

type ifreqHwaddr struct {
	name   [unix.IFNAMSIZ]byte
	hwaddr unix.RawSockaddr
}

func (t *linuxTap) Open(name string, hwAddr bt.Address) (int, error) {
	file, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("pan: open tun control: %w", err)
	}

	var req ifreq
	copy(req.name[:unix.IFNAMSIZ-1], name)
	req.flags = unix.IFF_TAP | unix.IFF_NO_PI
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(),
		unix.TUNSETIFF, uintptr(unsafe.Pointer(&req))); errno != 0 {
		file.Close()
		return -1, fmt.Errorf("pan: TUNSETIFF %s: %w", name, errno)
	}

	// interface-level ioctls go through a plain socket
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		file.Close()
		return -1, fmt.Errorf("pan: control socket: %w", err)
	}
	defer unix.Close(sock)

	var hw ifreqHwaddr
	copy(hw.name[:unix.IFNAMSIZ-1], name)
	hw.hwaddr.Family = unix.ARPHRD_ETHER
	for i, b := range hwAddr {
		hw.hwaddr.Data[i] = int8(b)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(sock),
		unix.SIOCSIFHWADDR, uintptr(unsafe.Pointer(&hw))); errno != 0 {
		file.Close()
		return -1, fmt.Errorf("pan: SIOCSIFHWADDR %s: %w", name, errno)
	}

	var up ifreq
	copy(up.name[:unix.IFNAMSIZ-1], name)
	up.flags = unix.IFF_UP | unix.IFF_RUNNING
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(sock),
		unix.SIOCSIFFLAGS, uintptr(unsafe.Pointer(&up))); errno != 0 {
		file.Close()
		return -1, fmt.Errorf("pan: SIOCSIFFLAGS %s: %w", name, errno)
	}

	t.file = file
	t.name = name
	return int(file.Fd()), nil
}

func (t *linuxTap) Read(buf []byte) (int, error)    { return t.file.Read(buf) }
func (t *linuxTap) Write(frame []byte) (int, error) { return t.file.Write(frame) }

func (t *linuxTap) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}
