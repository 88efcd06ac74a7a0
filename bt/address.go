// Package bt holds the small shared vocabulary of the service core: peer
// addresses, profile identifiers, and connection states. Everything here is
// a plain value type so it can cross the IPC boundary bit-for-bit.
package bt

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a 6-byte Bluetooth device address, stored in the same byte
// order it arrives from the stack.
type Address [6]byte

// ParseAddress accepts the conventional "AA:BB:CC:DD:EE:FF" form.
func ParseAddress(s string) (Address, error) {
	var a Address
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return a, fmt.Errorf("bt: bad address %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return a, fmt.Errorf("bt: bad address %q: %w", s, err)
		}
		a[i] = byte(v)
	}
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is all zeroes, the "no peer" sentinel.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Swapped returns the address byte-reversed. The PAN tap device takes its
// hardware address from the local controller address in this order.
func (a Address) Swapped() Address {
	var out Address
	for i := range a {
		out[i] = a[5-i]
	}
	return out
}
