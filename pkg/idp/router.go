package idp

// RouteObserver receives routing-decision counts, for optional metrics
// wiring (see pkg/idp/metrics); a Router with no observer set just skips
// the calls.
type RouteObserver interface {
	Routed(broadcast bool)
	Dropped()
}

// Router joins a set of local nodes and adaptors into one addressable
// network segment (spec §4.6). It composes a Node rather than inheriting
// from one: the router itself is addressable and answers the enumeration
// protocol, while the Nodes and Adaptors it owns are routed to/from by
// address or by adaptor of origin.
type Router struct {
	*Node

	// unenumeratedNodes holds locally hosted nodes the Master hasn't yet
	// walked, in arrival order (spec §4.7): push-front on AddNode, pop-back
	// on RouterEnumerateNode, so the oldest-attached node is offered first.
	// enumeratedNodes holds the rest, keyed by their assigned address. A
	// node is in exactly one of the two, never both.
	unenumeratedNodes []*Node
	enumeratedNodes   map[uint16]*Node
	adaptors          map[uint16]*adaptorEntry
	nextAdaptorID     uint16

	// routingTable maps a learned source address to the adaptor it was
	// last seen arriving from, so unicast replies don't have to be
	// broadcast. Address 1 (the conventional master address) is sticky:
	// once learned it is never relearned from a different adaptor, since
	// re-learning it would let a misbehaving leaf node hijack master
	// traffic.
	routingTable map[uint16]uint16

	currentlyEnumeratingAdaptor uint16

	observer RouteObserver
}

// SetObserver wires r to report routing-decision counts to observer.
func (r *Router) SetObserver(observer RouteObserver) { r.observer = observer }

// NewRouter creates a Router addressable as guid/name once enumerated.
// Its own outbound traffic (enumeration responses, etc.) is routed like
// anything else: Router supplies itself as its embedded Node's
// Transmitter.
func NewRouter(clock Clock, guid GUID, name string) *Router {
	r := &Router{
		enumeratedNodes: make(map[uint16]*Node),
		adaptors:        make(map[uint16]*adaptorEntry),
		routingTable:    make(map[uint16]uint16),
	}
	r.Node = NewNode(clock, r, guid, name)
	r.registerRouterCommands()
	return r
}

func (r *Router) registerRouterCommands() {
	cm := r.CommandManager()
	cm.RegisterCommand(CmdRouterDetect, r.handleRouterDetect)
	cm.RegisterCommand(CmdRouterEnumerateNode, r.handleRouterEnumerateNode)
	cm.RegisterCommand(CmdRouterPrepareToEnumerateAdaptors, r.handlePrepareToEnumerateAdaptors)
	cm.RegisterCommand(CmdRouterEnumerateAdaptor, r.handleRouterEnumerateAdaptor)
	cm.RegisterCommand(CmdMarkAdaptorConnected, r.handleMarkAdaptorConnected)
}

// OnReset clears all enumeration progress: every adaptor goes back to
// unenumerated, as if freshly attached.
func (r *Router) OnReset() {
	for _, a := range r.adaptors {
		a.MarkUnenumerated()
	}
	r.currentlyEnumeratingAdaptor = 0
}

// AddNode attaches a locally hosted node to this router. A node that
// already carries a real address (e.g. the Master's own embedded Node, or
// one restored after a reset) goes straight into enumeratedNodes; anything
// still AddrUnassigned joins the front of unenumeratedNodes to await
// RouterEnumerateNode (spec §4.7).
func (r *Router) AddNode(n *Node) {
	if n.Address() != AddrUnassigned {
		r.enumeratedNodes[n.Address()] = n
		return
	}
	r.unenumeratedNodes = append([]*Node{n}, r.unenumeratedNodes...)
}

// RemoveNode detaches a locally hosted, already-enumerated node.
func (r *Router) RemoveNode(addr uint16) {
	delete(r.enumeratedNodes, addr)
}

// FindNode returns a locally hosted, already-enumerated node by address.
func (r *Router) FindNode(addr uint16) (*Node, bool) {
	n, ok := r.enumeratedNodes[addr]
	return n, ok
}

// popUnenumeratedNode removes and returns the oldest-attached pending
// node, if any (pop-back of the push-front stack).
func (r *Router) popUnenumeratedNode() (*Node, bool) {
	n := len(r.unenumeratedNodes)
	if n == 0 {
		return nil, false
	}
	node := r.unenumeratedNodes[n-1]
	r.unenumeratedNodes = r.unenumeratedNodes[:n-1]
	return node, true
}

// AddAdaptor attaches a new adaptor (e.g. a freshly accepted connection)
// and returns the id it's now known by. New adaptors start active and
// unenumerated.
func (r *Router) AddAdaptor(impl Adaptor) uint16 {
	r.nextAdaptorID++
	id := r.nextAdaptorID
	r.adaptors[id] = &adaptorEntry{id: id, impl: impl, isActive: true}
	r.logger.Info().Uint16("adaptor", id).Msg("adaptor attached")
	return id
}

// RemoveAdaptor detaches an adaptor, e.g. on disconnect.
func (r *Router) RemoveAdaptor(id uint16) {
	delete(r.adaptors, id)
	for addr, via := range r.routingTable {
		if via == id {
			delete(r.routingTable, addr)
		}
	}
	r.logger.Info().Uint16("adaptor", id).Msg("adaptor detached")
}

// GetNextUnenumeratedAdaptor returns the first active adaptor the Master
// hasn't walked yet. If reenumeration is true, re-activated adaptors
// (isReEnumerated) are considered again even if previously enumerated.
func (r *Router) GetNextUnenumeratedAdaptor(reenumeration bool) (uint16, bool) {
	for id, a := range r.adaptors {
		if !a.isActive {
			continue
		}
		if !a.isEnumerated || (reenumeration && a.isReEnumerated) {
			return id, true
		}
	}
	return 0, false
}

// Transmit sends a packet with no adaptor of origin to exclude: used for
// traffic the router itself originates (command replies, forwarded
// broadcasts with no upstream adaptor).
func (r *Router) Transmit(packet *Packet) {
	r.TransmitFrom(AdaptorNone, packet)
}

// TransmitFrom routes packet, excluding originAdaptor from any broadcast
// fan-out (it's where the packet came from, so echoing it back is
// pointless).
func (r *Router) TransmitFrom(originAdaptor uint16, packet *Packet) {
	r.Route(originAdaptor, packet)
}

// Receive is called by an adaptor (or the router's own transport glue)
// when a packet arrives on originAdaptor. It learns the routing table
// entry for the packet's source, then routes it onward.
func (r *Router) Receive(originAdaptor uint16, packet *Packet) {
	r.learnRoute(packet.Source(), originAdaptor)
	r.Route(originAdaptor, packet)
}

func (r *Router) learnRoute(addr, viaAdaptor uint16) {
	if addr == AddrUnassigned || addr == AddrBroadcast {
		return
	}
	if addr == 1 {
		if _, known := r.routingTable[addr]; known {
			return
		}
	}
	r.routingTable[addr] = viaAdaptor
}

// Route is the forwarding decision for a single packet (spec §4.6):
// broadcast packets fan out to every adaptor but the one they arrived on
// plus every enumerated local node and the router itself; unicast packets
// go to the router itself, a local node, or whatever adaptor the routing
// table last saw that address arrive from. Packets addressed to
// AddrUnassigned are never forwarded — that address names a node that
// hasn't been given a real one yet.
func (r *Router) Route(originAdaptor uint16, packet *Packet) {
	dst := packet.Destination()
	if dst == AddrUnassigned {
		return
	}

	if dst == AddrBroadcast {
		if r.observer != nil {
			r.observer.Routed(true)
		}
		r.broadcast(originAdaptor, packet)
		return
	}

	if dst == r.Address() {
		if r.observer != nil {
			r.observer.Routed(false)
		}
		if reply := r.Receive2(packet); reply != nil {
			r.Route(AdaptorNone, reply)
		}
		return
	}
	if n, ok := r.enumeratedNodes[dst]; ok {
		if r.observer != nil {
			r.observer.Routed(false)
		}
		if reply := n.Receive(packet); reply != nil {
			r.Route(AdaptorNone, reply)
		}
		return
	}
	if via, ok := r.routingTable[dst]; ok {
		if a, ok := r.adaptors[via]; ok && via != originAdaptor {
			if r.observer != nil {
				r.observer.Routed(false)
			}
			a.impl.Transmit(packet)
			return
		}
	}
	// Unknown route: nothing left to do but drop it.
	if r.observer != nil {
		r.observer.Dropped()
	}
	r.logger.Debug().Uint16("destination", dst).Msg("no route, dropping packet")
}

// Receive2 is the router's own packet intake (named to avoid colliding
// with the Receive(originAdaptor, packet) adaptor-facing entry point): it
// hands the packet to the router's embedded Node command dispatch.
func (r *Router) Receive2(packet *Packet) *Packet {
	return r.Node.Receive(packet)
}

func (r *Router) broadcast(originAdaptor uint16, packet *Packet) {
	for id, a := range r.adaptors {
		if id == originAdaptor || !a.isActive {
			continue
		}
		a.impl.Transmit(packet)
	}
	for _, n := range r.enumeratedNodes {
		if n.Address() == packet.Source() {
			continue
		}
		if reply := n.Receive(packet); reply != nil {
			r.Route(AdaptorNone, reply)
		}
	}
	if reply := r.Receive2(packet); reply != nil {
		r.Route(AdaptorNone, reply)
	}
}

// --- enumeration protocol responder (spec §4.6) ---

// handleRouterDetect is how an unaddressed router gets its own address: the
// Master broadcasts RouterDetect carrying a freshly allocated address, and
// whichever router is still AddrUnassigned adopts it and answers from that
// new address itself (spec §4.6). A router that already has an address
// answers synchronously that it's already enumerated.
func (r *Router) handleRouterDetect(in *IncomingTransaction, out *OutgoingTransaction) ResponseCode {
	addr := in.ReadUint16()
	if r.Address() != AddrUnassigned {
		out.WriteBool(false)
		return ResponseOK
	}
	out.WriteBool(true)
	r.SetAddress(addr)
	reply := out.ToPacket(r.Address(), in.Source())
	r.Route(AdaptorNone, reply)
	return ResponseDeferred
}

func (r *Router) handleRouterEnumerateNode(in *IncomingTransaction, out *OutgoingTransaction) ResponseCode {
	addr := in.ReadUint16()
	n, ok := r.popUnenumeratedNode()
	if !ok {
		return ResponseUnknownError
	}
	n.SetAddress(addr)
	r.enumeratedNodes[addr] = n
	out.WriteGUID(n.GUID())
	out.WriteCString(n.Name())
	return ResponseOK
}

func (r *Router) handlePrepareToEnumerateAdaptors(_ *IncomingTransaction, _ *OutgoingTransaction) ResponseCode {
	id, ok := r.GetNextUnenumeratedAdaptor(false)
	if !ok {
		return ResponseNotReady
	}
	r.currentlyEnumeratingAdaptor = id
	return ResponseOK
}

// handleRouterEnumerateAdaptor is the two-transaction proxy technique from
// the original implementation: the immediate reply here only says whether
// an adaptor was available to probe; if one was, the actual RouterDetect
// is forwarded out over that adaptor under a proxy txid the remote side's
// response handler has already been told to expect, so the eventual answer
// can be correlated back without the router having to track extra state
// of its own.
func (r *Router) handleRouterEnumerateAdaptor(in *IncomingTransaction, out *OutgoingTransaction) ResponseCode {
	addr := in.ReadUint16()
	proxyTxID := in.ReadUint32()

	a, ok := r.adaptors[r.currentlyEnumeratingAdaptor]
	if !ok {
		out.WriteBool(false)
		return ResponseNotReady
	}

	out.WriteBool(true)
	out.WriteBool(true) // adaptorProbed: caller should wait for the proxied response

	// Preserve the Master's own address (1) as the source, not this
	// router's, so the remote router's eventual reply routes all the way
	// back up the tree via each hop's learned route to address 1, rather
	// than stopping at this router.
	detect := NewOutgoingTransaction(CmdRouterDetect, proxyTxID, CmdFlagResponseExpected)
	detect.WriteUint16(addr)
	a.impl.Transmit(detect.ToPacket(AddrMaster, AddrBroadcast))
	return ResponseOK
}

func (r *Router) handleMarkAdaptorConnected(_ *IncomingTransaction, _ *OutgoingTransaction) ResponseCode {
	if a, ok := r.adaptors[r.currentlyEnumeratingAdaptor]; ok {
		a.MarkEnumerated()
	}
	r.currentlyEnumeratingAdaptor = 0
	return ResponseOK
}
