package idp

import "github.com/rs/zerolog"

const (
	pingIntervalMillis       uint64 = 1000
	pingTimeoutMillis        uint64 = 4000
	invalidateIntervalMillis uint64 = 10
)

// EnumerationTarget names what a command is being asked to enumerate, kept
// around purely as a documentation aid for the Router/Master enumeration
// handshake (spec §4.5); nothing in the core switches on it directly.
type EnumerationTarget uint8

const (
	EnumerationTargetNode EnumerationTarget = iota
	EnumerationTargetAdaptor
)

// Transmitter sends a fully framed packet towards its destination. Node
// never knows how: a bare Node hands this off to whatever owns it (a
// Router's adaptor set, a point-to-point Stream, ...).
type Transmitter interface {
	Transmit(packet *Packet)
}

// Node is the minimal addressable participant in an IDP network (spec
// §4.4): it owns identity (address/guid/name), the command dispatch table,
// and the built-in Ping/GetNodeInfo/QueryInterface/Reset commands every
// node answers. Router and Master embed a Node rather than inheriting from
// one, and supply their own Transmitter and extra command registrations.
type Node struct {
	clock      Clock
	transmit   Transmitter
	cmdManager *CommandManager

	address uint16
	guid    GUID
	name    string
	enabled bool

	nextTxID uint32

	lastPingSent   uint64
	lastPingReply  uint64
	pingOutstanding bool

	msSinceInvalidate uint64

	logger zerolog.Logger
}

// NewNode constructs a Node with address AddrUnassigned; callers assign
// a real address once one has been allocated (by Master's enumeration or a
// static configuration).
func NewNode(clock Clock, transmit Transmitter, guid GUID, name string) *Node {
	n := &Node{
		clock:    clock,
		transmit: transmit,
		address:  AddrUnassigned,
		guid:     guid,
		name:     name,
		enabled:  true,
		logger:   zerolog.Nop(),
	}
	n.cmdManager = NewCommandManager(clock)
	n.registerBuiltins()
	return n
}

func (n *Node) registerBuiltins() {
	n.cmdManager.RegisterCommand(CmdPing, n.handlePing)
	n.cmdManager.RegisterCommand(CmdGetNodeInfo, n.handleGetNodeInfo)
	n.cmdManager.RegisterCommand(CmdQueryInterface, n.handleQueryInterface)
	n.cmdManager.RegisterCommand(CmdReset, n.handleReset)
}

// SetLogger points this node's trace output at logger. The default is a
// no-op logger, so a Node works perfectly well without one configured.
func (n *Node) SetLogger(logger zerolog.Logger) { n.logger = logger }

func (n *Node) Address() uint16     { return n.address }
func (n *Node) GUID() GUID          { return n.guid }
func (n *Node) Name() string        { return n.name }
func (n *Node) Enabled() bool       { return n.enabled }
func (n *Node) CommandManager() *CommandManager { return n.cmdManager }

// SetAddress is called once by whatever enumerates this node (spec
// §4.6/§4.7). It does not notify anyone; OnAddressAssigned is the hook for
// subtypes that need to react.
func (n *Node) SetAddress(addr uint16) {
	n.logger.Debug().Uint16("address", addr).Str("name", n.name).Msg("address assigned")
	n.address = addr
	n.OnAddressAssigned(addr)
}

// OnAddressAssigned is a no-op. SetAddress always calls this method on the
// Node itself, so a method of the same name on an embedding type is not
// called from there.
func (n *Node) OnAddressAssigned(addr uint16) {}

// OnReset is called when this node processes a Reset command, or when its
// own self-liveness ping gives up on the master (spec §4.5, §7). It clears
// the address back to AddrUnassigned. Both of those paths call this Node
// method directly: Router's own OnReset (which clears adaptor enumeration
// state) is not reached from them, and Master defines no OnReset, so a
// reset router keeps its enumerated nodes and adaptor flags.
func (n *Node) OnReset() {
	n.address = AddrUnassigned
	n.pingOutstanding = false
}

func (n *Node) clockNow() uint64 { return n.clock.NowMillis() }

func (n *Node) nextTransactionID() uint32 {
	n.nextTxID++
	return n.nextTxID
}

// SendRequest builds and transmits a request to dst, registering a
// one-time handler for whatever response comes back. Returns the
// transaction id the caller can use to cancel the wait early via
// CancelRequest.
func (n *Node) SendRequest(dst uint16, cmd Command, build func(*OutgoingTransaction), onResponse ResponseHandler) uint32 {
	txid := n.nextTransactionID()
	out := NewOutgoingTransaction(cmd, txid, CmdFlagResponseExpected)
	if build != nil {
		build(out)
	}
	n.cmdManager.RegisterOneTimeResponseHandler(txid, onResponse, DefaultResponseTimeoutMillis)
	n.transmit.Transmit(out.ToPacket(n.address, dst))
	return txid
}

// SendNotification is SendRequest without expecting a reply: fire and
// forget, no handler registered.
func (n *Node) SendNotification(dst uint16, cmd Command, build func(*OutgoingTransaction)) {
	txid := n.nextTransactionID()
	out := NewOutgoingTransaction(cmd, txid, CmdFlagNone)
	if build != nil {
		build(out)
	}
	n.transmit.Transmit(out.ToPacket(n.address, dst))
}

// CancelRequest cancels a pending one-time response handler registered by
// SendRequest, e.g. when the caller gives up waiting early.
func (n *Node) CancelRequest(txid uint32) {
	n.cmdManager.UnregisterOneTimeResponseHandler(txid)
}

// Receive hands an inbound packet addressed to this node to the command
// manager and returns whatever reply packet (if any) should be transmitted
// back to the sender.
func (n *Node) Receive(packet *Packet) *Packet {
	return n.cmdManager.ProcessPayload(n.address, packet)
}

// Tick drives the node's own timers: a 1Hz liveness ping to address 1 (the
// master, skipped for address 1 itself, since it has nothing above it to
// ping) and periodic response-timeout reaping (spec §4.4, §9 "no implicit
// global timers" — the owner calls this from its own scheduler loop).
func (n *Node) Tick(elapsedMillis uint64) {
	n.msSinceInvalidate += elapsedMillis
	if n.msSinceInvalidate >= invalidateIntervalMillis {
		n.msSinceInvalidate = 0
		n.cmdManager.InvalidateTimeouts()
	}

	if n.address == AddrUnassigned || n.address == 1 {
		return
	}

	now := n.clock.NowMillis()
	if n.pingOutstanding && now-n.lastPingSent >= pingTimeoutMillis {
		n.pingOutstanding = false
		n.logger.Warn().Uint16("address", n.address).Msg("self-liveness ping timed out")
		n.OnReset()
		return
	}
	if !n.pingOutstanding && now-n.lastPingSent >= pingIntervalMillis {
		n.lastPingSent = now
		n.pingOutstanding = true
		n.SendRequest(1, CmdPing, nil, func(r *Response) {
			n.pingOutstanding = false
			if r == nil {
				n.OnReset()
				return
			}
			n.lastPingReply = n.clock.NowMillis()
		})
	}
}

func (n *Node) handlePing(_ *IncomingTransaction, _ *OutgoingTransaction) ResponseCode {
	return ResponseOK
}

func (n *Node) handleGetNodeInfo(_ *IncomingTransaction, out *OutgoingTransaction) ResponseCode {
	out.WriteGUID(n.guid)
	out.WriteCString(n.name)
	out.WriteBool(n.enabled)
	out.WriteCString(ProtocolVersionString)
	return ResponseOK
}

func (n *Node) handleQueryInterface(in *IncomingTransaction, out *OutgoingTransaction) ResponseCode {
	want := in.ReadGUID()
	supported := want == n.guid
	out.WriteBool(supported)
	if !supported {
		return ResponseNotReady
	}
	return ResponseOK
}

func (n *Node) handleReset(_ *IncomingTransaction, _ *OutgoingTransaction) ResponseCode {
	n.OnReset()
	return ResponseOK
}
