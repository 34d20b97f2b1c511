package idp

import "bytes"

// commandHeaderSize is cmd:u16 | txid:u32 | cmdFlags:u8.
const commandHeaderSize = 2 + 4 + 1

// IncomingTransaction is a typed read cursor over a received packet's
// command payload: cmd:u16 | txid:u32 | cmdFlags:u8 | body...
type IncomingTransaction struct {
	packet *Packet
	cmd    Command
	txid   uint32
	flags  CommandFlags
}

// NewIncomingTransaction parses the command header out of packet's payload
// and positions the cursor at the start of the command body.
func NewIncomingTransaction(packet *Packet) *IncomingTransaction {
	packet.ResetReadToPayload()
	t := &IncomingTransaction{
		packet: packet,
		cmd:    Command(packet.ReadUint16()),
		txid:   packet.ReadUint32(),
		flags:  CommandFlags(packet.ReadUint8()),
	}
	return t
}

func (t *IncomingTransaction) Command() Command          { return t.cmd }
func (t *IncomingTransaction) TransactionID() uint32      { return t.txid }
func (t *IncomingTransaction) Flags() CommandFlags        { return t.flags }
func (t *IncomingTransaction) Source() uint16             { return t.packet.Source() }
func (t *IncomingTransaction) Destination() uint16        { return t.packet.Destination() }
func (t *IncomingTransaction) Packet() *Packet             { return t.packet }

func (t *IncomingTransaction) ReadUint8() uint8    { return t.packet.ReadUint8() }
func (t *IncomingTransaction) ReadUint16() uint16  { return t.packet.ReadUint16() }
func (t *IncomingTransaction) ReadUint32() uint32  { return t.packet.ReadUint32() }
func (t *IncomingTransaction) ReadUint64() uint64  { return t.packet.ReadUint64() }
func (t *IncomingTransaction) ReadBool() bool      { return t.packet.ReadBool() }
func (t *IncomingTransaction) ReadBytes(n int) []byte { return t.packet.ReadBytes(n) }
func (t *IncomingTransaction) ReadCString() string { return t.packet.ReadCString() }
func (t *IncomingTransaction) ReadGUID() GUID       { return t.packet.ReadGUID() }

// BytesRemaining returns how many payload bytes are still unread, for
// callers that need to tolerate an older peer's shorter response shape.
func (t *IncomingTransaction) BytesRemaining() int { return t.packet.RemainingPayload() }

// OutgoingTransaction is a builder for a command payload: cmd:u16 |
// txid:u32 | cmdFlags:u8 | body... Unlike a Packet, the final framed size
// isn't known until the body is fully written, so the transaction
// accumulates into a plain buffer and is only turned into a wire Packet by
// ToPacket.
type OutgoingTransaction struct {
	buf bytes.Buffer
}

// responseBodyOffset is the offset of the response code byte within a
// response command's payload (right after the 7-byte command header).
const responseBodyOffset = commandHeaderSize

// NewOutgoingTransaction seeds a new builder with the command header.
func NewOutgoingTransaction(cmd Command, txid uint32, flags CommandFlags) *OutgoingTransaction {
	t := &OutgoingTransaction{}
	var hdr [commandHeaderSize]byte
	hdr[0] = byte(cmd >> 8)
	hdr[1] = byte(cmd)
	hdr[2] = byte(txid >> 24)
	hdr[3] = byte(txid >> 16)
	hdr[4] = byte(txid >> 8)
	hdr[5] = byte(txid)
	hdr[6] = byte(flags)
	t.buf.Write(hdr[:])
	return t
}

func (t *OutgoingTransaction) WriteUint8(v uint8) *OutgoingTransaction {
	t.buf.WriteByte(v)
	return t
}

func (t *OutgoingTransaction) WriteUint16(v uint16) *OutgoingTransaction {
	t.buf.Write([]byte{byte(v >> 8), byte(v)})
	return t
}

func (t *OutgoingTransaction) WriteUint32(v uint32) *OutgoingTransaction {
	t.buf.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	return t
}

func (t *OutgoingTransaction) WriteUint64(v uint64) *OutgoingTransaction {
	t.buf.Write([]byte{
		byte(v >> 56), byte(v >> 48), byte(v >> 40), byte(v >> 32),
		byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v),
	})
	return t
}

func (t *OutgoingTransaction) WriteBool(v bool) *OutgoingTransaction {
	if v {
		return t.WriteUint8(1)
	}
	return t.WriteUint8(0)
}

func (t *OutgoingTransaction) WriteBytes(b []byte) *OutgoingTransaction {
	t.buf.Write(b)
	return t
}

func (t *OutgoingTransaction) WriteCString(s string) *OutgoingTransaction {
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	return t
}

func (t *OutgoingTransaction) WriteGUID(g GUID) *OutgoingTransaction {
	t.WriteUint32(g.Data1)
	t.WriteUint16(g.Data2)
	t.WriteUint16(g.Data3)
	t.buf.Write(g.Data4[:])
	return t
}

// WithResponseCode patches the response code byte at offset 7 of the
// command payload (the byte right after the command header). It is only
// meaningful for transactions built with cmd == CmdResponse, where that
// byte is the response's status code.
func (t *OutgoingTransaction) WithResponseCode(code ResponseCode) *OutgoingTransaction {
	b := t.buf.Bytes()
	if len(b) > responseBodyOffset {
		b[responseBodyOffset] = byte(code)
	}
	return t
}

// ToPacket finalizes the transaction into a sealed wire packet from src to
// dst, with no CRC.
func (t *OutgoingTransaction) ToPacket(src, dst uint16) *Packet {
	return t.toPacket(src, dst, FlagNone)
}

// ToPacketWithFlags is ToPacket but lets the caller request CRC/RAW framing.
func (t *OutgoingTransaction) ToPacketWithFlags(src, dst uint16, flags Flags) *Packet {
	return t.toPacket(src, dst, flags)
}

func (t *OutgoingTransaction) toPacket(src, dst uint16, flags Flags) *Packet {
	body := t.buf.Bytes()
	p := NewPacket(uint32(len(body)), flags, src, dst)
	p.WriteRaw(body)
	p.Seal()
	return p
}

// Response is the demultiplexed view of an inbound CmdResponse command: the
// response's status code, the id of the command it answers, and a read
// cursor positioned at the response body for further typed reads.
type Response struct {
	Code        ResponseCode
	OriginalCmd Command
	incoming    *IncomingTransaction
}

// NewResponse parses the CmdResponse body: code:u8 | originalCmd:u16 |
// body...
func NewResponse(incoming *IncomingTransaction) *Response {
	return &Response{
		Code:        ResponseCode(incoming.ReadUint8()),
		OriginalCmd: Command(incoming.ReadUint16()),
		incoming:    incoming,
	}
}

// TransactionID is the txid of the underlying CmdResponse command, which
// correlates to the original request's txid.
func (r *Response) TransactionID() uint32 { return r.incoming.TransactionID() }

// Source is the address that sent the response.
func (r *Response) Source() uint16 { return r.incoming.Source() }

// Transaction exposes the underlying cursor for reading response-specific
// body fields.
func (r *Response) Transaction() *IncomingTransaction { return r.incoming }
