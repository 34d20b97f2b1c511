package idp

import (
	"testing"

	"github.com/idpnet/idp/pkg/idp/sched"
)

type captureAdaptor struct {
	sent []*Packet
}

func (a *captureAdaptor) Transmit(p *Packet) { a.sent = append(a.sent, p) }

func TestRouterUnicastToLocalNode(t *testing.T) {
	clock := sched.NewFakeClock()
	router := NewRouter(clock, RouterGuid, "r")

	leaf := NewNode(clock, router, MasterGuid, "leaf")
	leaf.SetAddress(5)
	router.AddNode(leaf)

	// Learn a route back to address 9 first, so the reply to our request
	// has somewhere to go and we can observe it.
	origin := &captureAdaptor{}
	id := router.AddAdaptor(origin)
	router.Receive(id, NewOutgoingTransaction(CmdPing, 0, CmdFlagNone).ToPacket(9, router.Address()))

	req := NewOutgoingTransaction(CmdPing, 1, CmdFlagResponseExpected)
	router.Route(AdaptorNone, req.ToPacket(9, 5))

	if len(origin.sent) != 1 {
		t.Fatalf("got %d replies forwarded to the learned origin, want 1", len(origin.sent))
	}
	resp := NewResponse(NewIncomingTransaction(origin.sent[0]))
	if resp.Code != ResponseOK {
		t.Errorf("Code = %v, want OK", resp.Code)
	}
}

func TestRouterBroadcastReachesAdaptorsExceptOrigin(t *testing.T) {
	clock := sched.NewFakeClock()
	router := NewRouter(clock, RouterGuid, "r")

	a1 := &captureAdaptor{}
	a2 := &captureAdaptor{}
	id1 := router.AddAdaptor(a1)
	_ = router.AddAdaptor(a2)

	out := NewOutgoingTransaction(CmdPing, 1, CmdFlagNone)
	pkt := out.ToPacket(9, AddrBroadcast)

	router.Route(id1, pkt)

	if len(a1.sent) != 0 {
		t.Error("origin adaptor should not receive its own broadcast back")
	}
	if len(a2.sent) != 1 {
		t.Errorf("other adaptor got %d packets, want 1", len(a2.sent))
	}
}

func TestRouterLearnsRouteAndForwardsUnicast(t *testing.T) {
	clock := sched.NewFakeClock()
	router := NewRouter(clock, RouterGuid, "r")

	remote := &captureAdaptor{}
	id := router.AddAdaptor(remote)

	// A packet arrives from address 42 via this adaptor...
	hello := NewOutgoingTransaction(CmdPing, 1, CmdFlagNone).ToPacket(42, router.Address())
	router.Receive(id, hello)

	// ...so a later unicast addressed to 42 should be forwarded back out
	// the same adaptor, without needing a broadcast.
	reply := NewOutgoingTransaction(CmdPing, 2, CmdFlagNone).ToPacket(router.Address(), 42)
	router.Route(AdaptorNone, reply)

	if len(remote.sent) != 1 {
		t.Fatalf("got %d packets sent to the learned route, want 1", len(remote.sent))
	}
}

func TestRouterDetectAdoptsAddressAndRepliesFromIt(t *testing.T) {
	clock := sched.NewFakeClock()
	router := NewRouter(clock, RouterGuid, "r")

	origin := &captureAdaptor{}
	id := router.AddAdaptor(origin)

	// Learn a route back to the master (address 1) the same way a real
	// Ping/poll exchange would, before the detect broadcast arrives.
	router.Receive(id, NewOutgoingTransaction(CmdPing, 0, CmdFlagNone).ToPacket(1, router.Address()))

	const newAddr = 7
	req := NewOutgoingTransaction(CmdRouterDetect, 1, CmdFlagResponseExpected)
	req.WriteUint16(newAddr)
	router.Receive(id, req.ToPacket(1, AddrBroadcast))

	if router.Address() != newAddr {
		t.Fatalf("Address() = %d, want %d", router.Address(), newAddr)
	}
	if len(origin.sent) != 1 {
		t.Fatalf("got %d replies routed back toward the master, want 1", len(origin.sent))
	}
	resp := NewResponse(NewIncomingTransaction(origin.sent[0]))
	if resp.Code != ResponseOK {
		t.Errorf("Code = %v, want OK", resp.Code)
	}
	if resp.OriginalCmd != CmdRouterDetect {
		t.Errorf("OriginalCmd = %v, want CmdRouterDetect", resp.OriginalCmd)
	}
	if got := resp.Transaction().ReadBool(); !got {
		t.Error("expected RouterDetect to report the address was adopted")
	}
}

func TestRouterDetectDeclinesWhenAlreadyAddressed(t *testing.T) {
	clock := sched.NewFakeClock()
	router := NewRouter(clock, RouterGuid, "r")
	router.SetAddress(2)

	req := NewOutgoingTransaction(CmdRouterDetect, 1, CmdFlagResponseExpected)
	req.WriteUint16(9)
	reply := router.Receive2(req.ToPacket(1, AddrBroadcast))
	if reply == nil {
		t.Fatal("expected a synchronous reply")
	}
	resp := NewResponse(NewIncomingTransaction(reply))
	if resp.Code != ResponseOK {
		t.Fatalf("Code = %v, want OK", resp.Code)
	}
	if router.Address() != 2 {
		t.Errorf("Address() = %d, want unchanged 2", router.Address())
	}
	if got := resp.Transaction().ReadBool(); got {
		t.Error("expected RouterDetect to decline when already addressed")
	}
}

func TestRouterEnumerateNodeHandlesMultipleUnenumeratedChildren(t *testing.T) {
	clock := sched.NewFakeClock()
	router := NewRouter(clock, RouterGuid, "r")

	first := NewNode(clock, router, MasterGuid, "Child.Node.1")
	second := NewNode(clock, router, MasterGuid, "Child.Node.2")
	router.AddNode(first)
	router.AddNode(second)

	enumerate := func(addr uint16) (string, bool) {
		req := NewOutgoingTransaction(CmdRouterEnumerateNode, 1, CmdFlagResponseExpected)
		req.WriteUint16(addr)
		reply := router.Receive2(req.ToPacket(1, router.Address()))
		if reply == nil {
			return "", false
		}
		resp := NewResponse(NewIncomingTransaction(reply))
		if resp.Code != ResponseOK {
			return "", false
		}
		resp.Transaction().ReadGUID()
		return resp.Transaction().ReadCString(), true
	}

	name1, ok1 := enumerate(3)
	name2, ok2 := enumerate(4)
	if !ok1 || !ok2 {
		t.Fatal("expected both children to be enumerated, got a second map collision on AddrUnassigned")
	}
	if name1 != "Child.Node.1" || name2 != "Child.Node.2" {
		t.Errorf("enumerated in wrong order: got %q then %q", name1, name2)
	}
	if first.Address() != 3 || second.Address() != 4 {
		t.Errorf("addresses = %d, %d, want 3, 4", first.Address(), second.Address())
	}
	if n, ok := router.FindNode(3); !ok || n != first {
		t.Error("expected first child reachable at its new address")
	}
	if n, ok := router.FindNode(4); !ok || n != second {
		t.Error("expected second child reachable at its new address")
	}
}
