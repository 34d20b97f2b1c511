package idp

import (
	"encoding/binary"

	"github.com/rs/zerolog"
)

// ParseObserver receives framing-error counts, for optional metrics wiring
// (see pkg/idp/metrics); a parser with no observer set just skips the
// calls.
type ParseObserver interface {
	Resync()
	CRCFailure()
}

type parserState int8

const (
	stateWaitingForStx parserState = iota
	stateReadingLength
	stateReadingFlags
	stateReadingSource
	stateReadingDestination
	stateWaitingForPayload
	stateWaitingForEtx
	stateReadingCRC
	stateValidating
)

// PacketParser reconstructs framed Packets from an unreliable,
// arbitrarily-chunked byte stream. It is a single-threaded, cooperatively
// scheduled state machine (spec §4.2): each call to Parse consumes only
// what the stream currently has to offer and returns control once it can't
// make further progress, to be resumed by the next timer tick or
// data-ready notification.
type PacketParser struct {
	stream Stream
	state  parserState

	scratch       [4]byte
	scratchFilled int8

	length uint32
	hasCRC bool
	flags  Flags
	source uint16

	pkt            *Packet
	payloadWritten uint32

	// OnDataReceived is invoked with each fully validated packet. It is
	// set directly rather than via a subscriber list since in practice a
	// parser has exactly one consumer (its owning adaptor).
	OnDataReceived func(*Packet)

	logger   zerolog.Logger
	observer ParseObserver
}

// NewPacketParser creates a parser reading from stream.
func NewPacketParser(stream Stream) *PacketParser {
	return &PacketParser{stream: stream, state: stateWaitingForStx, logger: zerolog.Nop()}
}

// SetLogger points this parser's resync/CRC-failure trace output at logger.
func (p *PacketParser) SetLogger(logger zerolog.Logger) { p.logger = logger }

// SetObserver wires p to report framing-error counts to observer.
func (p *PacketParser) SetObserver(observer ParseObserver) { p.observer = observer }

// SetStream rebinds the parser to a new stream and resets its state.
func (p *PacketParser) SetStream(stream Stream) {
	p.stream = stream
	p.reset()
}

// Parse drains as much of the stream as is currently available, emitting
// OnDataReceived for each packet reconstructed along the way. If the
// stream is no longer valid, the parser resets and does nothing further.
func (p *PacketParser) Parse() {
	if p.stream == nil || !p.stream.IsValid() {
		p.reset()
		return
	}
	for p.step() {
	}
}

func (p *PacketParser) reset() {
	p.pkt = nil
	p.hasCRC = false
	p.length = 0
	p.payloadWritten = 0
	p.scratchFilled = 0
	p.state = stateWaitingForStx
}

// readExact accumulates n bytes into the scratch buffer across however
// many Read calls it takes, returning true once all n bytes are in hand.
// The caller is responsible for resetting scratchFilled once it has
// consumed the bytes.
func (p *PacketParser) readExact(n int8) bool {
	if p.scratchFilled < n {
		got := p.stream.Read(p.scratch[p.scratchFilled:n])
		if got <= 0 {
			return false
		}
		p.scratchFilled += int8(got)
	}
	return p.scratchFilled >= n
}

func (p *PacketParser) step() bool {
	switch p.state {
	case stateWaitingForStx:
		return p.waitingForStx()
	case stateReadingLength:
		return p.readingLength()
	case stateReadingFlags:
		return p.readingFlags()
	case stateReadingSource:
		return p.readingSource()
	case stateReadingDestination:
		return p.readingDestination()
	case stateWaitingForPayload:
		return p.waitingForPayload()
	case stateWaitingForEtx:
		return p.waitingForEtx()
	case stateReadingCRC:
		return p.readingCRC()
	case stateValidating:
		return p.validating()
	default:
		return false
	}
}

func (p *PacketParser) waitingForStx() bool {
	if !p.readExact(1) {
		return false
	}
	b := p.scratch[0]
	p.scratchFilled = 0
	if b == stx {
		p.state = stateReadingLength
	}
	// byte != STX: stay in WaitingForStx and keep scanning forward.
	return true
}

func (p *PacketParser) readingLength() bool {
	if !p.readExact(4) {
		return false
	}
	length := binary.BigEndian.Uint32(p.scratch[:4])
	p.scratchFilled = 0
	if length > MaxPayloadLen {
		p.reset()
		return true
	}
	p.length = length
	p.state = stateReadingFlags
	return true
}

func (p *PacketParser) readingFlags() bool {
	if !p.readExact(1) {
		return false
	}
	p.flags = Flags(p.scratch[0])
	p.scratchFilled = 0
	p.hasCRC = p.flags.HasCRC()
	p.state = stateReadingSource
	return true
}

func (p *PacketParser) readingSource() bool {
	if !p.readExact(2) {
		return false
	}
	p.source = binary.BigEndian.Uint16(p.scratch[:2])
	p.scratchFilled = 0
	p.state = stateReadingDestination
	return true
}

func (p *PacketParser) readingDestination() bool {
	if !p.readExact(2) {
		return false
	}
	dst := binary.BigEndian.Uint16(p.scratch[:2])
	p.scratchFilled = 0

	minFrame := uint32(fixedFrameSize)
	if p.hasCRC {
		minFrame += crcSize
	}
	if p.length < minFrame {
		// malformed: length too small to even hold the framing overhead
		p.reset()
		return true
	}

	payloadLen := p.length - minFrame
	p.pkt = NewPacket(payloadLen, p.flags, p.source, dst)
	p.payloadWritten = 0
	p.state = stateWaitingForPayload
	return true
}

func (p *PacketParser) waitingForPayload() bool {
	need := p.pkt.PayloadLength() - p.payloadWritten
	if need == 0 {
		p.state = stateWaitingForEtx
		return true
	}
	buf := make([]byte, need)
	n := p.stream.Read(buf)
	if n <= 0 {
		return false
	}
	p.pkt.WriteRaw(buf[:n])
	p.payloadWritten += uint32(n)
	if p.payloadWritten >= p.pkt.PayloadLength() {
		p.state = stateWaitingForEtx
	}
	return true
}

func (p *PacketParser) waitingForEtx() bool {
	if !p.readExact(1) {
		return false
	}
	b := p.scratch[0]
	p.scratchFilled = 0
	if b == etx {
		p.pkt.writeUint8(etx)
		if p.hasCRC {
			p.state = stateReadingCRC
		} else {
			p.state = stateValidating
		}
		return true
	}
	// resync: drop the partial packet and look for the next STX.
	p.logger.Warn().Uint8("got", b).Msg("expected ETX, resyncing")
	if p.observer != nil {
		p.observer.Resync()
	}
	p.reset()
	return true
}

func (p *PacketParser) readingCRC() bool {
	if !p.readExact(4) {
		return false
	}
	crc := binary.BigEndian.Uint32(p.scratch[:4])
	p.scratchFilled = 0
	p.pkt.writeUint32(crc)
	p.state = stateValidating
	return true
}

func (p *PacketParser) validating() bool {
	valid := true
	if p.hasCRC {
		valid = p.pkt.ValidateCRC()
	}
	if valid {
		p.pkt.sealed = true
		if p.OnDataReceived != nil {
			p.OnDataReceived(p.pkt)
		}
	} else {
		p.logger.Warn().Msg("CRC validation failed, dropping packet")
		if p.observer != nil {
			p.observer.CRCFailure()
		}
	}
	p.reset()
	return true
}
