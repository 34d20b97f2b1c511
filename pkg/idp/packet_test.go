package idp

import "testing"

func TestPacketRoundTrip(t *testing.T) {
	body := []byte("hello idp")
	p := NewPacket(uint32(len(body)), FlagNone, 0x0002, 0x0003)
	p.WriteRaw(body)
	p.Seal()

	if !p.Sealed() {
		t.Fatal("expected packet to be sealed")
	}
	if got := p.Source(); got != 0x0002 {
		t.Errorf("Source() = %#x, want 0x0002", got)
	}
	if got := p.Destination(); got != 0x0003 {
		t.Errorf("Destination() = %#x, want 0x0003", got)
	}
	if got := string(p.Payload()); got != string(body) {
		t.Errorf("Payload() = %q, want %q", got, body)
	}
	wantLen := uint32(fixedFrameSize) + uint32(len(body))
	if got := p.Length(); got != wantLen {
		t.Errorf("Length() = %d, want %d", got, wantLen)
	}
}

func TestPacketCRC(t *testing.T) {
	body := []byte("crc me")
	p := NewPacket(uint32(len(body)), FlagCRC, 1, 2)
	p.WriteRaw(body)
	p.Seal()

	if !p.ValidateCRC() {
		t.Fatal("expected CRC to validate")
	}

	// Corrupt a payload byte and confirm validation now fails.
	p.Data()[headerSize] ^= 0xFF
	if p.ValidateCRC() {
		t.Fatal("expected CRC to fail after corruption")
	}
}

func TestPacketSetSourceAfterSeal(t *testing.T) {
	p := NewPacket(0, FlagNone, 5, 6)
	p.Seal()
	p.SetSource(9)
	if got := p.Source(); got != 9 {
		t.Errorf("Source() = %d, want 9", got)
	}
}

func TestPacketWriteAfterSealIsNoOp(t *testing.T) {
	p := NewPacket(4, FlagNone, 1, 2)
	p.WriteRaw([]byte{1, 2, 3, 4})
	p.Seal()
	before := append([]byte(nil), p.Data()...)
	p.WriteUint8(0xAA)
	if string(p.Data()) != string(before) {
		t.Error("write after seal should be a no-op")
	}
}

func TestCStringRoundTrip(t *testing.T) {
	p := NewPacket(0, FlagNone, 0, 0)
	// payload length was fixed at construction (0), so grow manually by
	// writing raw bytes beyond what NewPacket pre-sized: rebuild with the
	// right length instead.
	s := "router-7"
	p = NewPacket(uint32(len(s)+1), FlagNone, 0, 0)
	p.WriteCString(s)
	p.Seal()
	p.ResetReadToPayload()
	if got := p.ReadCString(); got != s {
		t.Errorf("ReadCString() = %q, want %q", got, s)
	}
}

func TestGUIDRoundTrip(t *testing.T) {
	p := NewPacket(16, FlagNone, 0, 0)
	p.WriteGUID(RouterGuid)
	p.Seal()
	p.ResetReadToPayload()
	if got := p.ReadGUID(); got != RouterGuid {
		t.Errorf("ReadGUID() = %v, want %v", got, RouterGuid)
	}
}
