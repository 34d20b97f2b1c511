package transport

import (
	"testing"

	"github.com/idpnet/idp/pkg/idp"
)

func TestPipePairDeliversBothDirections(t *testing.T) {
	a, b := NewPipePair()

	if n := a.Write([]byte("ping")); n != 4 {
		t.Fatalf("a.Write = %d, want 4", n)
	}
	buf := make([]byte, 16)
	n := b.Read(buf)
	if string(buf[:n]) != "ping" {
		t.Errorf("b.Read = %q, want %q", buf[:n], "ping")
	}

	if n := b.Write([]byte("pong")); n != 4 {
		t.Fatalf("b.Write = %d, want 4", n)
	}
	n = a.Read(buf)
	if string(buf[:n]) != "pong" {
		t.Errorf("a.Read = %q, want %q", buf[:n], "pong")
	}
}

func TestPipeClosedRejectsIO(t *testing.T) {
	a, _ := NewPipePair()
	a.Close()
	if a.IsValid() {
		t.Error("expected a closed Pipe to report invalid")
	}
	if n := a.Write([]byte("x")); n != -1 {
		t.Errorf("Write on closed pipe = %d, want -1", n)
	}
	if n := a.Read(make([]byte, 1)); n != -1 {
		t.Errorf("Read on closed pipe = %d, want -1", n)
	}
}

func TestStreamAdaptorRoundTripsPackets(t *testing.T) {
	a, b := NewPipePair()
	sideA := NewStreamAdaptor(a)
	sideB := NewStreamAdaptor(b)

	var got *idp.Packet
	sideB.OnPacket = func(p *idp.Packet) { got = p }

	out := idp.NewOutgoingTransaction(idp.CmdPing, 1, idp.CmdFlagNone)
	sideA.Transmit(out.ToPacket(9, 5))

	sideB.Pump()

	if got == nil {
		t.Fatal("expected sideB to reconstruct a packet")
	}
	in := idp.NewIncomingTransaction(got)
	if in.Command() != idp.CmdPing {
		t.Errorf("Command = %v, want CmdPing", in.Command())
	}
	if got.Source() != 9 || got.Destination() != 5 {
		t.Errorf("Source/Destination = %d/%d, want 9/5", got.Source(), got.Destination())
	}
}

func TestStreamAdaptorSplitWritesStillParse(t *testing.T) {
	a, b := NewPipePair()
	sideB := NewStreamAdaptor(b)

	var got *idp.Packet
	sideB.OnPacket = func(p *idp.Packet) { got = p }

	out := idp.NewOutgoingTransaction(idp.CmdPing, 2, idp.CmdFlagResponseExpected)
	data := out.ToPacket(1, 2).Data()

	for _, bb := range data {
		a.Write([]byte{bb})
		sideB.Pump()
	}

	if got == nil {
		t.Fatal("expected sideB to reconstruct a packet written one byte at a time")
	}
}
