package idp

import (
	"testing"

	"github.com/idpnet/idp/pkg/idp/sched"
)

func TestMasterGetFreeAddressPrefersFreedOverBumping(t *testing.T) {
	clock := sched.NewFakeClock()
	m := NewMaster(clock)

	a := m.GetFreeAddress()
	b := m.GetFreeAddress()
	if a == b {
		t.Fatal("expected distinct addresses")
	}
	m.freeAddress(a)
	c := m.GetFreeAddress()
	if c != a {
		t.Errorf("GetFreeAddress() = %d, want freed address %d", c, a)
	}
}

func TestMasterInvalidateNodesReapsStaleEntries(t *testing.T) {
	clock := sched.NewFakeClock()
	m := NewMaster(clock)
	m.SetNodeTimeout(1000)

	h := m.addChild(rootHandle, 5, MasterGuid, "leaf", false)
	m.arena[h].LastSeen = 0

	clock.Advance(1500)
	m.InvalidateNodes()

	if m.HasNode(5) {
		t.Fatal("expected stale node to be removed")
	}
	if len(m.freeAddresses) != 1 || m.freeAddresses[0] != 5 {
		t.Errorf("expected address 5 to be freed, got %v", m.freeAddresses)
	}
}

func TestMasterHandlePollResponseUpdatesLastSeen(t *testing.T) {
	clock := sched.NewFakeClock()
	m := NewMaster(clock)
	h := m.addChild(rootHandle, 5, MasterGuid, "leaf", false)
	m.arena[h].LastSeen = 0

	clock.Advance(200)
	if !m.HandlePollResponse(5) {
		t.Fatal("expected HandlePollResponse to find the node")
	}
	if m.arena[h].LastSeen != 200 {
		t.Errorf("LastSeen = %d, want 200", m.arena[h].LastSeen)
	}
}

func TestMasterHandlePollResponseIgnoresSelf(t *testing.T) {
	clock := sched.NewFakeClock()
	m := NewMaster(clock)
	if m.HandlePollResponse(m.Address()) {
		t.Fatal("expected HandlePollResponse to ignore the master's own address")
	}
}

// loopbackTransmitter feeds whatever the Master sends straight into a
// caller-supplied responder, synchronously, so an enumeration round can
// be driven to completion inside a single test without any real
// transport.
type loopbackTransmitter struct {
	respond func(p *Packet) *Packet
	deliver func(reply *Packet)
}

func (l *loopbackTransmitter) Transmit(p *Packet) {
	if reply := l.respond(p); reply != nil && l.deliver != nil {
		l.deliver(reply)
	}
}

func TestMasterDetectRouterAddsDirectlyAttachedNode(t *testing.T) {
	clock := sched.NewFakeClock()
	m := NewMaster(clock)

	// Simulate a single directly attached, freshly detected leaf node: it
	// answers RouterDetect with nodeEnumerated=true, then GetNodeInfo with
	// its own identity. Replies are delivered straight back into the
	// Master's own Receive, which demultiplexes purely by transaction id,
	// so the reply's framing addresses don't need to match anything.
	lt := &loopbackTransmitter{}
	lt.respond = func(p *Packet) *Packet {
		in := NewIncomingTransaction(p)
		switch in.Command() {
		case CmdRouterDetect:
			out := NewOutgoingTransaction(CmdResponse, in.TransactionID(), CmdFlagNone).
				WriteUint8(uint8(ResponseOK)).WriteUint16(uint16(CmdRouterDetect)).
				WriteBool(true)
			return out.ToPacket(0, 0)
		case CmdGetNodeInfo:
			out := NewOutgoingTransaction(CmdResponse, in.TransactionID(), CmdFlagNone).
				WriteUint8(uint8(ResponseOK)).WriteUint16(uint16(CmdGetNodeInfo)).
				WriteGUID(MasterGuid).WriteCString("leaf")
			return out.ToPacket(0, 0)
		}
		return nil
	}
	lt.deliver = func(reply *Packet) { m.Receive(reply) }
	m.SetTransmitter(lt)

	m.EnumerateNetwork()

	const leafAddr = MinNodeAddress
	if !m.HasNode(leafAddr) {
		t.Fatalf("expected node at address %d to be added", leafAddr)
	}
	info, _ := m.GetNodeInfo(leafAddr)
	if info.Name != "leaf" {
		t.Errorf("Name = %q, want %q", info.Name, "leaf")
	}
	if info.EnumerationState != EnumIdle {
		t.Errorf("EnumerationState = %v, want Idle for a non-router leaf", info.EnumerationState)
	}
}

// TestMasterEnumeratesRouterWithTwoChildren wires a real Master to a real
// Router carrying two unenumerated children and drives one full
// EnumerateNetwork pass, with no stand-in for either side's protocol
// handling. It exercises the same broadcast RouterDetect → per-node
// RouterEnumerateNode handshake a production gateway.go assembly relies on.
func TestMasterEnumeratesRouterWithTwoChildren(t *testing.T) {
	clock := sched.NewFakeClock()

	router := NewRouter(clock, RouterGuid, "r")
	master := NewMaster(clock)
	master.SetTransmitter(router)
	router.AddNode(master.Node)

	childGuid := GUID{Data1: 0x11223344}
	child1 := NewNode(clock, router, childGuid, "Child.Node.1")
	child2 := NewNode(clock, router, childGuid, "Child.Node.2")
	router.AddNode(child1)
	router.AddNode(child2)

	master.EnumerateNetwork()

	if router.Address() != MinNodeAddress {
		t.Fatalf("router.Address() = %d, want %d", router.Address(), MinNodeAddress)
	}
	if !master.HasNode(router.Address()) {
		t.Fatalf("expected master to know about the router at %d", router.Address())
	}
	routerInfo, _ := master.GetNodeInfo(router.Address())
	if routerInfo.GUID != RouterGuid {
		t.Errorf("router GUID = %v, want RouterGuid", routerInfo.GUID)
	}

	if child1.Address() == AddrUnassigned || child2.Address() == AddrUnassigned {
		t.Fatalf("expected both children to receive addresses, got %d and %d", child1.Address(), child2.Address())
	}
	if child1.Address() == child2.Address() {
		t.Fatalf("expected distinct addresses, both got %d", child1.Address())
	}

	for _, want := range []struct {
		addr uint16
		name string
	}{
		{child1.Address(), "Child.Node.1"},
		{child2.Address(), "Child.Node.2"},
	} {
		info, ok := master.GetNodeInfo(want.addr)
		if !ok {
			t.Fatalf("master has no NodeInfo for address %d", want.addr)
		}
		if info.GUID != childGuid || info.Name != want.name {
			t.Errorf("NodeInfo(%d) = {guid:%v name:%q}, want {guid:%v name:%q}", want.addr, info.GUID, info.Name, childGuid, want.name)
		}
		if n, ok := router.FindNode(want.addr); !ok || n.Name() != want.name {
			t.Errorf("router.FindNode(%d) did not return %q", want.addr, want.name)
		}
	}
}
