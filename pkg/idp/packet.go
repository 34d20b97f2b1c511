// Package idp implements the Inter-Device Protocol core: packet framing,
// the command manager, nodes, routers, and the master's enumeration state
// machine.
package idp

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Flags are the per-packet framing flags carried in the header.
type Flags uint8

const (
	FlagNone Flags = 0
	FlagCRC  Flags = 0x01
	FlagRAW  Flags = 0x02
)

func (f Flags) HasCRC() bool { return f&FlagCRC != 0 }
func (f Flags) HasRAW() bool { return f&FlagRAW != 0 }

// Well-known addresses.
const (
	AddrBroadcast   uint16 = 0x0000
	AddrMaster      uint16 = 0x0001
	AddrRouterPoll  uint16 = 0xFFFE
	AddrUnassigned  uint16 = 0xFFFF
	MinNodeAddress  uint16 = 2
	MaxNodeAddress  uint16 = 0xFFFD
)

// MaxPayloadLen is the largest total framed length (the header's length
// field, including all framing) the parser will accept.
const MaxPayloadLen = 1_000_000

const (
	stx = 0x02
	etx = 0x03

	// headerSize is STX(1) + length(4) + flags(1) + src(2) + dst(2): the
	// fixed fields before the payload.
	headerSize = 10
	// fixedFrameSize is headerSize plus the trailing ETX byte, i.e. the
	// per-packet overhead before an optional CRC.
	fixedFrameSize = headerSize + 1
	crcSize        = 4
)

// Packet is a contiguous, self-framing byte buffer:
//
//	offset  size  field
//	0       1     STX (0x02)
//	1       4     total length (big-endian, includes all framing)
//	5       1     flags
//	6       2     source address
//	8       2     destination address
//	10      N     payload
//	10+N    1     ETX (0x03)
//	11+N    4     CRC32 (iff flags.CRC)
//
// A Packet is built by Write-ing the payload, then Seal-ing it; after
// sealing it is immutable. Packet is not safe for concurrent use.
type Packet struct {
	buf      []byte
	writeIdx int
	readIdx  int
	sealed   bool
}

// NewPacket allocates a packet with room for payloadLen bytes of payload,
// and writes the header immediately.
func NewPacket(payloadLen uint32, flags Flags, src, dst uint16) *Packet {
	total := uint32(fixedFrameSize) + payloadLen
	if flags.HasCRC() {
		total += crcSize
	}
	p := &Packet{buf: make([]byte, total)}
	p.writeUint8(stx)
	p.writeUint32(total)
	p.writeUint8(uint8(flags))
	p.writeUint16(src)
	p.writeUint16(dst)
	return p
}

// Seal appends ETX and, if the CRC flag is set, a CRC-32/ISO-HDLC checksum
// computed over the header through ETX inclusive. After Seal, the packet is
// immutable.
func (p *Packet) Seal() {
	if p.sealed {
		return
	}
	p.writeUint8(etx)
	if p.Flags().HasCRC() {
		sum := crc32.ChecksumIEEE(p.buf[:p.writeIdx])
		p.writeUint32(sum)
	}
	p.sealed = true
}

// Sealed reports whether Seal has been called.
func (p *Packet) Sealed() bool { return p.sealed }

// Data returns the full wire representation of the packet (only valid
// after Seal).
func (p *Packet) Data() []byte { return p.buf }

// Length is the total framed length, including header/ETX/CRC.
func (p *Packet) Length() uint32 {
	return binary.BigEndian.Uint32(p.buf[1:5])
}

// Flags returns the packet's framing flags.
func (p *Packet) Flags() Flags {
	return Flags(p.buf[5])
}

// Source returns the packet's source address.
func (p *Packet) Source() uint16 {
	return binary.BigEndian.Uint16(p.buf[6:8])
}

// Destination returns the packet's destination address.
func (p *Packet) Destination() uint16 {
	return binary.BigEndian.Uint16(p.buf[8:10])
}

// SetSource overwrites the source address field. It is a framing-field
// patch, not a payload write, so it works even on a sealed packet.
func (p *Packet) SetSource(addr uint16) {
	binary.BigEndian.PutUint16(p.buf[6:8], addr)
}

// PayloadLength returns the number of payload bytes (excludes header, ETX,
// and CRC).
func (p *Packet) PayloadLength() uint32 {
	n := p.Length() - uint32(fixedFrameSize)
	if p.Flags().HasCRC() {
		n -= crcSize
	}
	return n
}

// Payload returns the payload slice of the packet.
func (p *Packet) Payload() []byte {
	n := p.PayloadLength()
	return p.buf[headerSize : headerSize+n]
}

// ValidateCRC recomputes the CRC over the framed bytes and compares it to
// the trailing CRC field. It is only meaningful if Flags().HasCRC().
func (p *Packet) ValidateCRC() bool {
	if !p.Flags().HasCRC() {
		return true
	}
	n := len(p.buf)
	if n < crcSize {
		return false
	}
	body := p.buf[:n-crcSize]
	want := binary.BigEndian.Uint32(p.buf[n-crcSize:])
	return crc32.ChecksumIEEE(body) == want
}

// RemainingPayload returns how many payload bytes are still unread from the
// current cursor position, letting a reader detect trailing fields an
// older peer didn't send.
func (p *Packet) RemainingPayload() int {
	end := headerSize + int(p.PayloadLength())
	if p.readIdx >= end {
		return 0
	}
	return end - p.readIdx
}

// ResetRead rewinds the read cursor to the start of the packet (the STX
// byte).
func (p *Packet) ResetRead() { p.readIdx = 0 }

// ResetReadToPayload rewinds the read cursor to the start of the payload.
func (p *Packet) ResetReadToPayload() { p.readIdx = headerSize }

// WriteRaw appends raw bytes to the packet (only while unsealed).
func (p *Packet) WriteRaw(data []byte) {
	if p.sealed {
		return
	}
	copy(p.buf[p.writeIdx:], data)
	p.writeIdx += len(data)
}

func (p *Packet) writeUint8(v uint8) {
	if p.sealed {
		return
	}
	p.buf[p.writeIdx] = v
	p.writeIdx++
}

func (p *Packet) writeUint16(v uint16) {
	if p.sealed {
		return
	}
	binary.BigEndian.PutUint16(p.buf[p.writeIdx:], v)
	p.writeIdx += 2
}

func (p *Packet) writeUint32(v uint32) {
	if p.sealed {
		return
	}
	binary.BigEndian.PutUint32(p.buf[p.writeIdx:], v)
	p.writeIdx += 4
}

// WriteUint8 appends a single byte to the packet body (only while unsealed).
func (p *Packet) WriteUint8(v uint8) { p.writeUint8(v) }

// WriteUint16 appends a big-endian uint16 to the packet body.
func (p *Packet) WriteUint16(v uint16) { p.writeUint16(v) }

// WriteUint32 appends a big-endian uint32 to the packet body.
func (p *Packet) WriteUint32(v uint32) { p.writeUint32(v) }

// WriteUint64 appends a big-endian uint64 to the packet body.
func (p *Packet) WriteUint64(v uint64) {
	if p.sealed {
		return
	}
	binary.BigEndian.PutUint64(p.buf[p.writeIdx:], v)
	p.writeIdx += 8
}

// WriteBool appends a single byte, 1 for true and 0 for false.
func (p *Packet) WriteBool(v bool) {
	if v {
		p.writeUint8(1)
	} else {
		p.writeUint8(0)
	}
}

// ReadUint8 reads and advances past a single byte.
func (p *Packet) ReadUint8() uint8 {
	v := p.buf[p.readIdx]
	p.readIdx++
	return v
}

// ReadUint16 reads and advances past a big-endian uint16.
func (p *Packet) ReadUint16() uint16 {
	v := binary.BigEndian.Uint16(p.buf[p.readIdx:])
	p.readIdx += 2
	return v
}

// ReadUint32 reads and advances past a big-endian uint32.
func (p *Packet) ReadUint32() uint32 {
	v := binary.BigEndian.Uint32(p.buf[p.readIdx:])
	p.readIdx += 4
	return v
}

// ReadUint64 reads and advances past a big-endian uint64.
func (p *Packet) ReadUint64() uint64 {
	v := binary.BigEndian.Uint64(p.buf[p.readIdx:])
	p.readIdx += 8
	return v
}

// ReadBool reads and advances past a single byte, treating any nonzero
// value as true.
func (p *Packet) ReadBool() bool {
	return p.ReadUint8() != 0
}

// ReadBytes reads and advances past n raw bytes, returning a copy owned by
// the caller.
func (p *Packet) ReadBytes(n int) []byte {
	b := make([]byte, n)
	copy(b, p.buf[p.readIdx:p.readIdx+n])
	p.readIdx += n
	return b
}

// ReadCString reads a NUL-terminated UTF-8 string and advances past the
// NUL. The returned string is a fresh allocation owned by the caller.
func (p *Packet) ReadCString() string {
	start := p.readIdx
	i := start
	for i < len(p.buf) && p.buf[i] != 0 {
		i++
	}
	s := string(p.buf[start:i])
	if i < len(p.buf) {
		i++ // skip NUL
	}
	p.readIdx = i
	return s
}

// WriteCString appends s followed by a NUL terminator.
func (p *Packet) WriteCString(s string) {
	p.WriteRaw([]byte(s))
	p.writeUint8(0)
}

// ReadGUID reads a 16-byte canonical GUID in wire order (u32, u16, u16,
// 8 raw bytes).
func (p *Packet) ReadGUID() GUID {
	var g GUID
	g.Data1 = p.ReadUint32()
	g.Data2 = p.ReadUint16()
	g.Data3 = p.ReadUint16()
	copy(g.Data4[:], p.buf[p.readIdx:p.readIdx+8])
	p.readIdx += 8
	return g
}

// WriteGUID appends g in wire order.
func (p *Packet) WriteGUID(g GUID) {
	p.writeUint32(g.Data1)
	p.writeUint16(g.Data2)
	p.writeUint16(g.Data3)
	p.WriteRaw(g.Data4[:])
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{src=0x%04x dst=0x%04x flags=%#x len=%d}", p.Source(), p.Destination(), uint8(p.Flags()), p.Length())
}
