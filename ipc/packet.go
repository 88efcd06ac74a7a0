package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btsvc/btserviced/bt"
	"github.com/btsvc/btserviced/status"
)

// Packet is one framed message: a 4-byte header {code u16, length u16},
// little-endian, followed by length payload bytes. The same frame carries
// requests, replies, and events; replies reuse the request's code.
type Packet struct {
	Code    Opcode
	Payload []byte
}

// MaxPayload bounds a single packet; oversized variable fields are
// truncated server-side with a warning rather than rejected.
const MaxPayload = 1024

// WritePacket frames p onto w.
func WritePacket(w io.Writer, p *Packet) error {
	if len(p.Payload) > MaxPayload {
		return status.New(status.ParamInvalid)
	}
	hdr := make([]byte, 4, 4+len(p.Payload))
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(p.Code))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(p.Payload)))
	_, err := w.Write(append(hdr, p.Payload...))
	return err
}

// ReadPacket reads one framed packet from r.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	code := Opcode(binary.LittleEndian.Uint16(hdr[0:2]))
	length := binary.LittleEndian.Uint16(hdr[2:4])
	if length > MaxPayload {
		return nil, fmt.Errorf("ipc: oversized packet %s len=%d", code, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &Packet{Code: code, Payload: payload}, nil
}

// Body is a typed payload: every request, reply, and event struct encodes
// to and decodes from the fixed little-endian layout both peers share.
type Body interface {
	encode(buf []byte) []byte
	decode(buf []byte) error
}

// Marshal packs body into a packet for code.
func Marshal(code Opcode, body Body) *Packet {
	return &Packet{Code: code, Payload: body.encode(nil)}
}

// Unmarshal decodes p's payload into body.
func Unmarshal(p *Packet, body Body) error {
	return body.decode(p.Payload)
}

// cursor is a bounds-checked little-endian reader.
type cursor struct {
	buf []byte
	off int
	err error
}

func (c *cursor) u8() uint8 {
	if c.err != nil || c.off+1 > len(c.buf) {
		c.err = status.New(status.ParamInvalid)
		return 0
	}
	v := c.buf[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	if c.err != nil || c.off+2 > len(c.buf) {
		c.err = status.New(status.ParamInvalid)
		return 0
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32() uint32 {
	if c.err != nil || c.off+4 > len(c.buf) {
		c.err = status.New(status.ParamInvalid)
		return 0
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v
}

func (c *cursor) addr() bt.Address {
	var a bt.Address
	if c.err != nil || c.off+6 > len(c.buf) {
		c.err = status.New(status.ParamInvalid)
		return a
	}
	copy(a[:], c.buf[c.off:])
	c.off += 6
	return a
}

func (c *cursor) bytes() []byte {
	if c.err != nil {
		return nil
	}
	n := int(c.u16())
	if c.err != nil || c.off+n > len(c.buf) {
		c.err = status.New(status.ParamInvalid)
		return nil
	}
	v := append([]byte(nil), c.buf[c.off:c.off+n]...)
	c.off += n
	return v
}

func (c *cursor) str() string { return string(c.bytes()) }

func appendBytes(buf, v []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(v)))
	return append(buf, v...)
}

// Reply is the common response view: a status code plus a 32-bit value
// slot used by calls that return a handle or id.
type Reply struct {
	Status status.Code
	V32    uint32
}

func (r *Reply) encode(buf []byte) []byte {
	buf = append(buf, uint8(r.Status))
	return binary.LittleEndian.AppendUint32(buf, r.V32)
}

func (r *Reply) decode(buf []byte) error {
	c := &cursor{buf: buf}
	r.Status = status.Code(c.u8())
	r.V32 = c.u32()
	return c.err
}

// CreateInstance is the manager registration request.
type CreateInstance struct {
	Handle   uint64
	Type     uint8
	PID      int32
	UID      uint32
	HostName string
}

func (b *CreateInstance) encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, b.Handle)
	buf = append(buf, b.Type)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(b.PID))
	buf = binary.LittleEndian.AppendUint32(buf, b.UID)
	return appendBytes(buf, []byte(b.HostName))
}

func (b *CreateInstance) decode(buf []byte) error {
	c := &cursor{buf: buf}
	if len(buf) < 8 {
		return status.New(status.ParamInvalid)
	}
	b.Handle = binary.LittleEndian.Uint64(buf)
	c.off = 8
	b.Type = c.u8()
	b.PID = int32(c.u32())
	b.UID = c.u32()
	b.HostName = c.str()
	return c.err
}

// GetInstance resolves a registration back to its handle.
type GetInstance struct {
	PID      int32
	HostName string
}

func (b *GetInstance) encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(b.PID))
	return appendBytes(buf, []byte(b.HostName))
}

func (b *GetInstance) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.PID = int32(c.u32())
	b.HostName = c.str()
	return c.err
}

// AppIDRequest covers delete_instance and start/stop_service.
type AppIDRequest struct {
	AppID     uint32
	ProfileID uint8
}

func (b *AppIDRequest) encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, b.AppID)
	return append(buf, b.ProfileID)
}

func (b *AppIDRequest) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.AppID = c.u32()
	b.ProfileID = c.u8()
	return c.err
}

// AddrRequest is the shape shared by every per-peer connect/disconnect.
type AddrRequest struct {
	Addr bt.Address
}

func (b *AddrRequest) encode(buf []byte) []byte { return append(buf, b.Addr[:]...) }

func (b *AddrRequest) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.Addr = c.addr()
	return c.err
}

// GattRead is the GATT client read request.
type GattRead struct {
	Addr   bt.Address
	Handle uint16
	Attr   uint16
}

func (b *GattRead) encode(buf []byte) []byte {
	buf = append(buf, b.Addr[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, b.Handle)
	return binary.LittleEndian.AppendUint16(buf, b.Attr)
}

func (b *GattRead) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.Addr = c.addr()
	b.Handle = c.u16()
	b.Attr = c.u16()
	return c.err
}

// GattValue carries an attribute value: GATT writes, server notifies, and
// the value-bearing replies and events.
type GattValue struct {
	Addr   bt.Address
	Handle uint16
	Value  []byte
}

func (b *GattValue) encode(buf []byte) []byte {
	buf = append(buf, b.Addr[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, b.Handle)
	return appendBytes(buf, b.Value)
}

func (b *GattValue) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.Addr = c.addr()
	b.Handle = c.u16()
	b.Value = c.bytes()
	return c.err
}

// SetVolume is the HFP volume request.
type SetVolume struct {
	Addr   bt.Address
	Volume uint8
}

func (b *SetVolume) encode(buf []byte) []byte {
	buf = append(buf, b.Addr[:]...)
	return append(buf, b.Volume)
}

func (b *SetVolume) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.Addr = c.addr()
	b.Volume = c.u8()
	return c.err
}

// DialRequest is the HF outgoing-call request.
type DialRequest struct {
	Addr   bt.Address
	Number string
}

func (b *DialRequest) encode(buf []byte) []byte {
	buf = append(buf, b.Addr[:]...)
	return appendBytes(buf, []byte(b.Number))
}

func (b *DialRequest) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.Addr = c.addr()
	b.Number = c.str()
	return c.err
}

// AdvRequest starts or stops one advertising set.
type AdvRequest struct {
	AdvID  uint8
	Params []byte
}

func (b *AdvRequest) encode(buf []byte) []byte {
	buf = append(buf, b.AdvID)
	return appendBytes(buf, b.Params)
}

func (b *AdvRequest) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.AdvID = c.u8()
	b.Params = c.bytes()
	return c.err
}

// ConnectionStateEvent is the per-peer lifecycle event; Remote is the
// cookie identifying which client-side registration it belongs to.
type ConnectionStateEvent struct {
	Remote  uint64
	Addr    bt.Address
	Profile uint8
	State   uint8
}

func (b *ConnectionStateEvent) encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, b.Remote)
	buf = append(buf, b.Addr[:]...)
	return append(buf, b.Profile, b.State)
}

func (b *ConnectionStateEvent) decode(buf []byte) error {
	if len(buf) < 8 {
		return status.New(status.ParamInvalid)
	}
	b.Remote = binary.LittleEndian.Uint64(buf)
	c := &cursor{buf: buf, off: 8}
	b.Addr = c.addr()
	b.Profile = c.u8()
	b.State = c.u8()
	return c.err
}

// ScanResultEvent carries one advertisement report.
type ScanResultEvent struct {
	Addr bt.Address
	RSSI int8
	Data []byte
}

func (b *ScanResultEvent) encode(buf []byte) []byte {
	buf = append(buf, b.Addr[:]...)
	buf = append(buf, uint8(b.RSSI))
	return appendBytes(buf, b.Data)
}

func (b *ScanResultEvent) decode(buf []byte) error {
	c := &cursor{buf: buf}
	b.Addr = c.addr()
	b.RSSI = int8(c.u8())
	b.Data = c.bytes()
	return c.err
}

// CallEvent is the HFP call/callsetup/callheld indicator event.
type CallEvent struct {
	Remote    uint64
	Addr      bt.Address
	Indicator uint8
	Value     uint8
}

func (b *CallEvent) encode(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, b.Remote)
	buf = append(buf, b.Addr[:]...)
	return append(buf, b.Indicator, b.Value)
}

func (b *CallEvent) decode(buf []byte) error {
	if len(buf) < 8 {
		return status.New(status.ParamInvalid)
	}
	b.Remote = binary.LittleEndian.Uint64(buf)
	c := &cursor{buf: buf, off: 8}
	b.Addr = c.addr()
	b.Indicator = c.u8()
	b.Value = c.u8()
	return c.err
}
