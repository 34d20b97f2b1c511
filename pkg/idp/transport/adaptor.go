package transport

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/idpnet/idp/pkg/idp"
)

// maxTransmitRetries bounds the transmit retry loop (spec §5: "the
// transmit path may perform a bounded retry loop (≤100 iterations)
// against a stream that accepts zero bytes; beyond that, transmit
// fails").
const maxTransmitRetries = 100

// StreamAdaptor is an idp.Adaptor backed by any idp.Stream: it parses
// inbound bytes into packets with a PacketParser and writes outbound
// packets straight to the stream. It is what Router.AddAdaptor expects for
// any non-local link (TCP, serial, Pipe).
type StreamAdaptor struct {
	stream idp.Stream
	parser *idp.PacketParser

	// OnPacket is invoked with each reconstructed inbound packet. Set
	// this to the owning Router's Receive(adaptorID, packet) (with
	// adaptorID closed over) before the adaptor starts seeing traffic.
	OnPacket func(*idp.Packet)

	lastErr error
}

// NewStreamAdaptor wraps stream, ready to have OnPacket assigned once the
// caller knows what adaptor id the owning Router gave it.
func NewStreamAdaptor(stream idp.Stream) *StreamAdaptor {
	a := &StreamAdaptor{stream: stream}
	a.parser = idp.NewPacketParser(stream)
	a.parser.OnDataReceived = func(p *idp.Packet) {
		if a.OnPacket != nil {
			a.OnPacket(p)
		}
	}
	return a
}

// SetLogger points this adaptor's underlying parser's trace output at
// logger.
func (a *StreamAdaptor) SetLogger(logger zerolog.Logger) { a.parser.SetLogger(logger) }

// SetParseObserver wires this adaptor's underlying parser to report
// resync/CRC-failure counts to observer.
func (a *StreamAdaptor) SetParseObserver(observer idp.ParseObserver) { a.parser.SetObserver(observer) }

// Pump drains whatever bytes are currently available on the stream,
// emitting OnPacket for each full packet found. Call this from a
// scheduler tick or a dedicated read goroutine.
func (a *StreamAdaptor) Pump() {
	a.parser.Parse()
}

// Tick satisfies sched.Tickable so a StreamAdaptor can be registered
// directly with a Dispatcher alongside the Router/Master it feeds.
func (a *StreamAdaptor) Tick(_ uint64) {
	a.Pump()
}

// Transmit writes a sealed packet's wire bytes to the stream. A write that
// accepts zero bytes is retried up to maxTransmitRetries times before the
// packet is dropped and the failure recorded in LastTransmitError; a
// negative Write result (stream closed) fails immediately. Either way
// Transmit never blocks the router waiting on a dead adaptor, matching the
// protocol's general tolerance for packet loss (spec §1).
func (a *StreamAdaptor) Transmit(packet *idp.Packet) {
	data := packet.Data()
	written, retries := 0, 0
	for written < len(data) {
		n := a.stream.Write(data[written:])
		switch {
		case n < 0:
			a.lastErr = errors.New("stream closed during transmit")
			return
		case n == 0:
			retries++
			if retries > maxTransmitRetries {
				a.lastErr = errors.Errorf("transmit: stream accepted zero bytes after %d retries", maxTransmitRetries)
				return
			}
		default:
			retries = 0
			written += int(n)
		}
	}
	a.lastErr = nil
}

// LastTransmitError returns the error from the most recent Transmit call
// that failed, or nil if the last Transmit succeeded (or none has run yet).
func (a *StreamAdaptor) LastTransmitError() error { return a.lastErr }

// Close releases the underlying stream.
func (a *StreamAdaptor) Close() {
	a.stream.Close()
}
