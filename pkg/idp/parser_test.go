package idp

import "testing"

// chunkStream is a test-only Stream that serves pre-loaded bytes, at most
// maxPerRead at a time, to exercise the parser's tolerance for arbitrary
// chunking.
type chunkStream struct {
	data       []byte
	pos        int
	maxPerRead int
	valid      bool
}

func newChunkStream(data []byte, maxPerRead int) *chunkStream {
	return &chunkStream{data: data, maxPerRead: maxPerRead, valid: true}
}

func (s *chunkStream) IsValid() bool        { return s.valid }
func (s *chunkStream) BytesReceived() int32 { return int32(len(s.data) - s.pos) }
func (s *chunkStream) Write(buf []byte) int32 { return int32(len(buf)) }
func (s *chunkStream) Close()                 { s.valid = false }

func (s *chunkStream) Read(buf []byte) int32 {
	remaining := len(s.data) - s.pos
	if remaining <= 0 {
		return 0
	}
	n := len(buf)
	if n > remaining {
		n = remaining
	}
	if s.maxPerRead > 0 && n > s.maxPerRead {
		n = s.maxPerRead
	}
	copy(buf, s.data[s.pos:s.pos+n])
	s.pos += n
	return int32(n)
}

func buildTestPacket(t *testing.T, src, dst uint16, flags Flags, body string) *Packet {
	t.Helper()
	p := NewPacket(uint32(len(body)), flags, src, dst)
	p.WriteRaw([]byte(body))
	p.Seal()
	return p
}

func TestParserWholePacketAtOnce(t *testing.T) {
	want := buildTestPacket(t, 2, 3, FlagNone, "ping")
	stream := newChunkStream(want.Data(), 0)

	var got *Packet
	parser := NewPacketParser(stream)
	parser.OnDataReceived = func(p *Packet) { got = p }
	parser.Parse()

	if got == nil {
		t.Fatal("expected a packet to be parsed")
	}
	if string(got.Payload()) != "ping" {
		t.Errorf("Payload() = %q, want %q", got.Payload(), "ping")
	}
}

func TestParserByteAtATime(t *testing.T) {
	want := buildTestPacket(t, 2, 3, FlagCRC, "chunked payload")
	stream := newChunkStream(want.Data(), 1)

	var count int
	parser := NewPacketParser(stream)
	parser.OnDataReceived = func(p *Packet) { count++ }

	for stream.pos < len(stream.data) {
		parser.Parse()
	}

	if count != 1 {
		t.Fatalf("expected exactly one packet, got %d", count)
	}
}

func TestParserResyncsAfterGarbage(t *testing.T) {
	want := buildTestPacket(t, 1, 1, FlagNone, "ok")
	// A stray STX followed by an oversized length field, then the real
	// packet: the parser must reset on the bad length and resync onto the
	// real STX.
	garbage := append([]byte{0x99, 0x01, stx, 0xFF, 0xFF, 0xFF, 0xFF}, want.Data()...)
	stream := newChunkStream(garbage, 0)

	var got *Packet
	parser := NewPacketParser(stream)
	parser.OnDataReceived = func(p *Packet) { got = p }
	parser.Parse()

	if got == nil {
		t.Fatal("expected parser to recover and find the real packet")
	}
	if string(got.Payload()) != "ok" {
		t.Errorf("Payload() = %q, want %q", got.Payload(), "ok")
	}
}

func TestParserRejectsBadEtx(t *testing.T) {
	good := buildTestPacket(t, 1, 1, FlagNone, "x")
	data := append([]byte(nil), good.Data()...)
	data[len(data)-1] = 0x00 // corrupt ETX

	stream := newChunkStream(data, 0)
	var got *Packet
	parser := NewPacketParser(stream)
	parser.OnDataReceived = func(p *Packet) { got = p }
	parser.Parse()

	if got != nil {
		t.Fatal("expected corrupted-ETX packet to be dropped")
	}
}
