package idp

import (
	"github.com/rs/xid"
	"golang.org/x/mod/semver"
)

// EnumObserver receives enumeration-pass and node-lifecycle counts, for
// optional metrics wiring (see pkg/idp/metrics); a Master with no observer
// set just skips the calls.
type EnumObserver interface {
	PassCompleted()
	NodeDiscovered()
	NodeTimedOut()
}

// EnumerationState is a node's position in the Master's enumeration state
// machine (spec §4.7).
type EnumerationState uint8

const (
	EnumIdle EnumerationState = iota
	EnumPending
	EnumDetectingRouter
	EnumEnumeratingNodes
	EnumStartEnumeratingAdaptors
	EnumEnumeratingAdaptors
)

func (s EnumerationState) String() string {
	switch s {
	case EnumIdle:
		return "Idle"
	case EnumPending:
		return "Pending"
	case EnumDetectingRouter:
		return "DetectingRouter"
	case EnumEnumeratingNodes:
		return "EnumeratingNodes"
	case EnumStartEnumeratingAdaptors:
		return "StartEnumeratingAdaptors"
	case EnumEnumeratingAdaptors:
		return "EnumeratingAdaptors"
	default:
		return "Unknown"
	}
}

// nodeHandle indexes into Master's node arena; the zero value means "no
// node" (spec §9: an arena of u16 handles replaces the original's cyclic
// raw NodeInfo* parent/child pointers).
type nodeHandle uint16

// NodeInfo is what the Master remembers about one node in the network
// tree: identity, where it currently stands in the enumeration state
// machine, when it was last seen alive, and its place in the tree.
type NodeInfo struct {
	Address          uint16
	GUID             GUID
	Name             string
	IsRouter         bool
	EnumerationState EnumerationState
	LastSeen         uint64
	Version          string

	parent   nodeHandle
	children []nodeHandle
}

const rootHandle nodeHandle = 1

// Master owns the network's address space and walks every router/node
// through the enumeration handshake (spec §4.7). It composes a Node: the
// master itself is addressable (conventionally as AddrMaster) and answers
// Ping/GetNodeInfo/Reset like anything else, plus RecommendEnumeration.
type Master struct {
	*Node

	arena     []NodeInfo // index 0 unused, 1 is the root
	byAddress map[uint16]nodeHandle

	freeAddresses []uint16
	nextAddress   uint16

	isEnumerating          bool
	nodesChanged           bool
	currentEnumerationNode nodeHandle

	nodeTimeoutMillis uint64
	connected         bool

	msSincePoll  uint64
	pollInterval uint64
	proxyTxIDSeq uint32

	transmitOverride Transmitter

	// minNodeVersion, if set, is the oldest node firmware/protocol
	// version (semver) this master expects to see reported in
	// GetNodeInfo. It is purely observational: an older node is still
	// enumerated normally, just logged about.
	minNodeVersion string

	// enumPassID correlates every log line emitted during one
	// EnumerateNetwork pass, the same short-id-per-request-or-session
	// role rs/xid plays for the teacher's HTTP handlers.
	enumPassID xid.ID

	observer EnumObserver
}

// SetObserver wires m to report enumeration-pass and node-lifecycle
// counts to observer.
func (m *Master) SetObserver(observer EnumObserver) { m.observer = observer }

// NewMaster creates a Master at AddrMaster with one root NodeInfo
// representing the master itself.
func NewMaster(clock Clock) *Master {
	m := &Master{
		arena:             make([]NodeInfo, 2), // index 0 unused, 1 is root
		byAddress:         make(map[uint16]nodeHandle),
		nextAddress:       MinNodeAddress,
		nodeTimeoutMillis: 5000,
		connected:         true,
		pollInterval:      1000,
	}
	m.arena[rootHandle] = NodeInfo{Address: AddrMaster, GUID: MasterGuid, Name: "master", EnumerationState: EnumIdle}
	m.byAddress[AddrMaster] = rootHandle

	m.Node = NewNode(clock, m, MasterGuid, "master")
	m.Node.SetAddress(AddrMaster)
	m.registerMasterCommands()
	return m
}

func (m *Master) registerMasterCommands() {
	cm := m.CommandManager()
	cm.RegisterCommand(CmdRecommendEnumeration, m.handleRecommendEnumeration)
	// A node's self-liveness Ping to the master is answered OK like on any
	// node, and also refreshes that node's LastSeen.
	cm.RegisterCommand(CmdPing, func(in *IncomingTransaction, _ *OutgoingTransaction) ResponseCode {
		m.HandlePollResponse(in.Source())
		return ResponseOK
	})
	cm.RegisterResponseHandler(CmdPing, m.handlePollResponseHandler)
}

// Transmit satisfies Transmitter for the Master's own embedded Node. A
// bare Master has nowhere to send packets by itself; an embedding Router
// (the common deployment, spec §4.7) supplies the real transport by
// overriding this via composition at the call site — SetTransmitter lets
// that wiring happen without the Master needing to know about adaptors.
func (m *Master) Transmit(packet *Packet) {
	if m.transmitOverride != nil {
		m.transmitOverride.Transmit(packet)
	}
}

var _ Transmitter = (*Master)(nil)

// SetTransmitter points the Master's outbound command traffic (enumeration
// requests, polls) at a real Transmitter, typically a Router.
func (m *Master) SetTransmitter(t Transmitter) { m.transmitOverride = t }

// Connected reports whether the master currently has a live path to the
// rest of the network. EnumerateNetwork is a no-op while this is false.
func (m *Master) Connected() bool   { return m.connected }
func (m *Master) SetConnected(v bool) { m.connected = v }

func (m *Master) node(h nodeHandle) *NodeInfo {
	if h == 0 || int(h) >= len(m.arena) {
		return nil
	}
	return &m.arena[h]
}

// FindNode returns the handle for address, if known.
func (m *Master) FindNode(address uint16) (nodeHandle, bool) {
	h, ok := m.byAddress[address]
	return h, ok
}

// GetNodeInfo returns a copy of the NodeInfo for address.
func (m *Master) GetNodeInfo(address uint16) (NodeInfo, bool) {
	h, ok := m.byAddress[address]
	if !ok {
		return NodeInfo{}, false
	}
	return m.arena[h], true
}

func (m *Master) HasNode(address uint16) bool {
	_, ok := m.byAddress[address]
	return ok
}

// GetFreeAddress allocates the next node address, preferring one recently
// freed by InvalidateNodes over bumping the high-water mark.
func (m *Master) GetFreeAddress() uint16 {
	if n := len(m.freeAddresses); n > 0 {
		addr := m.freeAddresses[n-1]
		m.freeAddresses = m.freeAddresses[:n-1]
		return addr
	}
	addr := m.nextAddress
	m.nextAddress++
	return addr
}

func (m *Master) freeAddress(addr uint16) {
	m.freeAddresses = append(m.freeAddresses, addr)
}

// VisitNodes walks the tree pre-order starting at root, stopping as soon
// as visit returns true, and returns the handle it stopped on.
func (m *Master) VisitNodes(visit func(h nodeHandle, n *NodeInfo) bool) (nodeHandle, bool) {
	var walk func(h nodeHandle) (nodeHandle, bool)
	walk = func(h nodeHandle) (nodeHandle, bool) {
		n := m.node(h)
		if n == nil {
			return 0, false
		}
		if visit(h, n) {
			return h, true
		}
		for _, c := range n.children {
			if found, ok := walk(c); ok {
				return found, true
			}
		}
		return 0, false
	}
	return walk(rootHandle)
}

// GetNextEnumerationNode returns the first node anywhere in the tree that
// isn't Idle, i.e. whose enumeration the state machine hasn't finished.
func (m *Master) GetNextEnumerationNode() (nodeHandle, bool) {
	return m.VisitNodes(func(h nodeHandle, n *NodeInfo) bool {
		return n.EnumerationState != EnumIdle
	})
}

func (m *Master) handlePollResponseHandler(resp *Response) {
	if resp == nil {
		return
	}
	m.HandlePollResponse(resp.Source())
}

// HandlePollResponse records that address answered a liveness ping just
// now. It returns false if address isn't a node Master knows about (the
// master's own address is intentionally excluded: it doesn't poll itself).
func (m *Master) HandlePollResponse(address uint16) bool {
	h, ok := m.byAddress[address]
	if !ok || address == m.Address() {
		return false
	}
	m.node(h).LastSeen = m.Node.clockNow()
	return true
}

func (m *Master) handleRecommendEnumeration(_ *IncomingTransaction, _ *OutgoingTransaction) ResponseCode {
	m.EnumerateNetwork()
	return ResponseOK
}

// EnumerateNetwork kicks off a fresh enumeration pass: every router goes
// to Pending (needs re-walking), every ordinary node goes to Idle
// (nothing to do until a router discovers it again), and the root itself
// goes Pending only if it currently has no children (first run).
func (m *Master) EnumerateNetwork() {
	if !m.connected || m.isEnumerating {
		return
	}
	m.isEnumerating = true
	m.enumPassID = xid.New()
	m.logger.Debug().Str("pass", m.enumPassID.String()).Msg("enumeration pass starting")
	for i := range m.arena {
		n := &m.arena[i]
		if n.Address == 0 && i != int(rootHandle) {
			continue
		}
		if nodeHandle(i) == rootHandle {
			if len(n.children) == 0 {
				n.EnumerationState = EnumPending
			}
			continue
		}
		if n.IsRouter {
			n.EnumerationState = EnumPending
		} else {
			n.EnumerationState = EnumIdle
		}
	}
	m.OnEnumerate()
}

// OnEnumerate advances the state machine by exactly one step, driven by
// whatever node GetNextEnumerationNode currently points at (spec §4.7).
func (m *Master) OnEnumerate() {
	h, found := m.GetNextEnumerationNode()
	if !found {
		if m.currentEnumerationNode != 0 {
			m.currentEnumerationNode = 0
			m.isEnumerating = false
			m.logger.Debug().Str("pass", m.enumPassID.String()).Int("nodes", len(m.arena)-2).Msg("enumeration pass finished")
			if m.observer != nil {
				m.observer.PassCompleted()
			}
			m.PollNetwork()
			if m.nodesChanged {
				m.nodesChanged = false
			}
			m.msSincePoll = 0
		}
		return
	}
	m.currentEnumerationNode = h
	n := m.node(h)

	switch {
	case h == rootHandle && n.EnumerationState == EnumPending:
		m.DetectRouter()
	case n.IsRouter && (n.EnumerationState == EnumPending || n.EnumerationState == EnumEnumeratingNodes):
		n.EnumerationState = EnumEnumeratingNodes
		m.EnumerateRouterNode(n.Address)
	case n.IsRouter && n.EnumerationState == EnumStartEnumeratingAdaptors:
		m.StartEnumerateRouterAdaptors(n.Address)
	case n.IsRouter && n.EnumerationState == EnumEnumeratingAdaptors:
		m.EnumerateRouterAdaptor(n.Address)
	}
}

// DetectRouter probes for a new router attached directly to the root: it
// allocates a provisional address and broadcasts RouterDetect, since a
// freshly attached router doesn't have an address yet to send to
// directly.
func (m *Master) DetectRouter() {
	addr := m.GetFreeAddress()
	m.SendRequest(AddrBroadcast, CmdRouterDetect, func(out *OutgoingTransaction) {
		out.WriteUint16(addr)
	}, func(resp *Response) {
		if resp == nil || resp.Code != ResponseOK {
			m.freeAddress(addr)
			m.setRootState(EnumIdle)
			m.OnEnumerate()
			return
		}
		nodeEnumerated := resp.Transaction().ReadBool()
		if nodeEnumerated {
			m.setRootState(EnumIdle)
			m.OnNodeAdded(m.Address(), addr)
			return
		}
		m.freeAddress(addr)
		m.setRootState(EnumIdle)
		m.OnEnumerate()
	})
}

func (m *Master) setRootState(s EnumerationState) {
	m.arena[rootHandle].EnumerationState = s
}

// EnumerateRouterNode asks a known router whether it has a next
// unenumerated local node to introduce.
func (m *Master) EnumerateRouterNode(routerAddress uint16) {
	addr := m.GetFreeAddress()
	h := m.byAddress[routerAddress]
	m.SendRequest(routerAddress, CmdRouterEnumerateNode, func(out *OutgoingTransaction) {
		out.WriteUint16(addr)
	}, func(resp *Response) {
		if resp == nil || resp.Code != ResponseOK {
			m.node(h).EnumerationState = EnumStartEnumeratingAdaptors
			m.freeAddress(addr)
			m.OnEnumerate()
			return
		}
		guid := resp.Transaction().ReadGUID()
		name := resp.Transaction().ReadCString()
		m.addChild(h, addr, guid, name, false)
		m.OnEnumerate()
	})
}

// StartEnumerateRouterAdaptors asks the router to begin walking its
// adaptors one at a time.
func (m *Master) StartEnumerateRouterAdaptors(routerAddress uint16) {
	h := m.byAddress[routerAddress]
	m.SendRequest(routerAddress, CmdRouterPrepareToEnumerateAdaptors, nil, func(resp *Response) {
		if resp != nil && resp.Code == ResponseOK {
			m.node(h).EnumerationState = EnumEnumeratingAdaptors
		} else {
			m.node(h).EnumerationState = EnumIdle
		}
		m.OnEnumerate()
	})
}

// EnumerateRouterAdaptor walks a single adaptor of routerAddress. It uses
// the two-transaction proxy technique: the immediate reply says whether an
// adaptor was available and probed; if so, a second one-time handler
// (keyed by a proxy txid we mint and hand to the router up front) catches
// the eventual RouterDetect reply the router forwards across that
// adaptor.
func (m *Master) EnumerateRouterAdaptor(routerAddress uint16) {
	addr := m.GetFreeAddress()
	h := m.byAddress[routerAddress]
	m.proxyTxIDSeq++
	proxyTxID := m.proxyTxIDSeq

	done := func() {
		m.freeAddress(addr)
		m.OnEnumerate()
	}

	m.CommandManager().RegisterOneTimeResponseHandler(proxyTxID, func(resp *Response) {
		if resp == nil || resp.Code != ResponseOK {
			m.node(h).EnumerationState = EnumIdle
			done()
			return
		}
		nodeEnumerated := resp.Transaction().ReadBool()
		if nodeEnumerated {
			m.OnNodeAdded(routerAddress, addr)
			m.SendNotification(addr, CmdMarkAdaptorConnected, nil)
		} else {
			m.node(h).EnumerationState = EnumIdle
		}
		done()
	}, DefaultResponseTimeoutMillis)

	m.SendRequest(routerAddress, CmdRouterEnumerateAdaptor, func(out *OutgoingTransaction) {
		out.WriteUint16(addr)
		out.WriteUint32(proxyTxID)
	}, func(resp *Response) {
		if resp == nil || resp.Code != ResponseOK {
			m.CommandManager().UnregisterOneTimeResponseHandler(proxyTxID)
			m.node(h).EnumerationState = EnumIdle
			done()
			return
		}
		adaptorEnumerated := resp.Transaction().ReadBool()
		if !adaptorEnumerated {
			m.CommandManager().UnregisterOneTimeResponseHandler(proxyTxID)
			m.node(h).EnumerationState = EnumIdle
			done()
			return
		}
		adaptorProbed := resp.Transaction().ReadBool()
		if adaptorProbed {
			// Wait for the proxied RouterDetect response registered above.
			return
		}
		m.CommandManager().UnregisterOneTimeResponseHandler(proxyTxID)
		done()
	})
}

// addChild attaches a new NodeInfo under parent, grows the arena, and
// returns its handle.
func (m *Master) addChild(parent nodeHandle, addr uint16, guid GUID, name string, isRouter bool) nodeHandle {
	m.arena = append(m.arena, NodeInfo{
		Address:          addr,
		GUID:             guid,
		Name:             name,
		IsRouter:         isRouter,
		EnumerationState: EnumIdle,
		LastSeen:         m.Node.clockNow(),
		parent:           parent,
	})
	h := nodeHandle(len(m.arena) - 1)
	m.arena[parent].children = append(m.arena[parent].children, h)
	m.byAddress[addr] = h
	return h
}

// OnNodeAdded records a newly discovered node under parentAddress at
// address, fetches its identity, and marks it Pending (if it turns out to
// be a router, so its own children get walked next) or Idle (a leaf node,
// nothing further to enumerate).
func (m *Master) OnNodeAdded(parentAddress, address uint16) {
	m.nodesChanged = true
	parent := m.byAddress[parentAddress]
	h := m.addChild(parent, address, GUID{}, "", false)

	m.SendRequest(address, CmdGetNodeInfo, nil, func(resp *Response) {
		n := m.node(h)
		if resp == nil {
			n.EnumerationState = EnumIdle
			m.OnEnumerate()
			return
		}
		n.GUID = resp.Transaction().ReadGUID()
		n.Name = resp.Transaction().ReadCString()
		n.IsRouter = n.GUID == RouterGuid
		if in := resp.Transaction(); in.BytesRemaining() > 0 {
			in.ReadBool() // enabled, unused by the master
			n.Version = in.ReadCString()
		}
		if m.minNodeVersion != "" && n.Version != "" && semver.IsValid(n.Version) && semver.Compare(n.Version, m.minNodeVersion) < 0 {
			m.logger.Warn().Uint16("address", address).Str("version", n.Version).Str("minimum", m.minNodeVersion).Msg("node reports outdated version")
		}
		if n.IsRouter {
			n.EnumerationState = EnumPending
		} else {
			n.EnumerationState = EnumIdle
		}
		m.logger.Info().Uint16("address", address).Str("name", n.Name).Bool("router", n.IsRouter).Msg("node added")
		if m.observer != nil {
			m.observer.NodeDiscovered()
		}
		m.OnEnumerate()
	})
}

// PollNetwork reaps nodes that have gone silent past NodeTimeout.
func (m *Master) PollNetwork() {
	m.InvalidateNodes()
}

// InvalidateNodes drops any non-root node that hasn't been seen within
// NodeTimeout, detaching it (and its subtree pointers, though not its
// descendants' own entries — a timed-out router's children time out on
// their own next pass) from its parent and freeing its address.
func (m *Master) InvalidateNodes() {
	now := m.Node.clockNow()
	var stale []nodeHandle
	for i := 2; i < len(m.arena); i++ {
		n := &m.arena[i]
		if n.Address == 0 {
			continue
		}
		if now >= n.LastSeen+m.nodeTimeoutMillis {
			stale = append(stale, nodeHandle(i))
		}
	}
	for _, h := range stale {
		n := m.node(h)
		m.logger.Info().Uint16("address", n.Address).Str("name", n.Name).Msg("node timed out, reaping")
		if m.observer != nil {
			m.observer.NodeTimedOut()
		}
		if parent := m.node(n.parent); parent != nil {
			parent.children = removeHandle(parent.children, h)
		}
		delete(m.byAddress, n.Address)
		m.freeAddress(n.Address)
		*n = NodeInfo{}
		m.nodesChanged = true
	}
}

func removeHandle(hs []nodeHandle, target nodeHandle) []nodeHandle {
	out := hs[:0]
	for _, h := range hs {
		if h != target {
			out = append(out, h)
		}
	}
	return out
}

// NodeTimeout returns the current liveness timeout.
func (m *Master) NodeTimeout() uint64 { return m.nodeTimeoutMillis }

// SetNodeTimeout changes the liveness timeout used by InvalidateNodes.
func (m *Master) SetNodeTimeout(ms uint64) { m.nodeTimeoutMillis = ms }

// SetMinNodeVersion sets the minimum node firmware/protocol version
// (semver, "v"-prefixed) this master expects; an empty string (the
// default) disables the check entirely.
func (m *Master) SetMinNodeVersion(v string) { m.minNodeVersion = v }

// Tick drives the master's own poll timer in addition to the embedded
// Node's ping/timeout ticking: once connected and idle, a fresh
// enumeration pass is kicked off every pollInterval.
func (m *Master) Tick(elapsedMillis uint64) {
	m.Node.Tick(elapsedMillis)
	m.msSincePoll += elapsedMillis
	if m.msSincePoll >= m.pollInterval && !m.isEnumerating {
		m.msSincePoll = 0
		m.EnumerateNetwork()
	}
}

// Nodes returns a pre-order snapshot of every live node in the tree,
// including the root, for callers outside this package that need to walk
// the tree without depending on its internal handle type (e.g. export).
func (m *Master) Nodes() []NodeInfo {
	var out []NodeInfo
	m.VisitNodes(func(_ nodeHandle, n *NodeInfo) bool {
		out = append(out, *n)
		return false
	})
	return out
}

// TraceNetworkTree renders the current node tree as an indented string,
// primarily for debug logging.
func (m *Master) TraceNetworkTree() string {
	var b []byte
	var walk func(h nodeHandle, depth int)
	walk = func(h nodeHandle, depth int) {
		n := m.node(h)
		if n == nil {
			return
		}
		for i := 0; i < depth; i++ {
			b = append(b, ' ', ' ')
		}
		b = append(b, []byte(n.Name)...)
		b = append(b, ' ')
		b = append(b, []byte(n.EnumerationState.String())...)
		b = append(b, '\n')
		for _, c := range n.children {
			walk(c, depth+1)
		}
	}
	walk(rootHandle, 0)
	return string(b)
}
