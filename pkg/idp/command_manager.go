package idp

// DefaultResponseTimeoutMillis is how long a one-time response handler
// waits before it is reaped by InvalidateTimeouts (spec §4.3).
const DefaultResponseTimeoutMillis uint64 = 1750

// CommandHandler processes an inbound command and fills in the reply body
// on outgoing, returning the status code that should be reported back if
// the caller asked for a reply. Returning ResponseDeferred suppresses the
// automatic reply: the handler takes ownership of answering later (spec
// §4.3 "Deferred" semantics).
type CommandHandler func(incoming *IncomingTransaction, outgoing *OutgoingTransaction) ResponseCode

// ResponseHandler processes an inbound Response command that didn't match
// any pending one-time transaction handler, keyed by the command the
// response answers.
type ResponseHandler func(resp *Response)

type oneTimeHandler struct {
	handler ResponseHandler
	expiry  uint64
}

// CommandManager is the per-node command/response dispatch table (spec
// §4.3): it owns the mapping from command id to handler, demultiplexes
// inbound CmdResponse payloads to whichever handler is waiting for them,
// and reaps one-time handlers that never got an answer.
type CommandManager struct {
	clock Clock

	commandHandlers     map[Command]CommandHandler
	responseHandlers    map[Command]ResponseHandler
	transactionHandlers map[uint32]oneTimeHandler
}

// NewCommandManager creates an empty dispatch table driven by clock. The
// CmdResponse opcode is pre-registered to demultiplex inbound responses,
// exactly like any other command.
func NewCommandManager(clock Clock) *CommandManager {
	cm := &CommandManager{
		clock:               clock,
		commandHandlers:     make(map[Command]CommandHandler),
		responseHandlers:    make(map[Command]ResponseHandler),
		transactionHandlers: make(map[uint32]oneTimeHandler),
	}
	cm.commandHandlers[CmdResponse] = cm.handleResponse
	return cm
}

// RegisterCommand installs the handler for cmd, replacing any prior one.
func (cm *CommandManager) RegisterCommand(cmd Command, handler CommandHandler) {
	cm.commandHandlers[cmd] = handler
}

// RegisterResponseHandler installs the fallback handler invoked for an
// inbound response to cmd when no one-time transaction handler is waiting
// for that particular txid.
func (cm *CommandManager) RegisterResponseHandler(cmd Command, handler ResponseHandler) {
	cm.responseHandlers[cmd] = handler
}

// RegisterOneTimeResponseHandler waits for exactly one response carrying
// txid, then forgets about it. If no response arrives within timeoutMs,
// InvalidateTimeouts reaps it and invokes it once with a nil response.
func (cm *CommandManager) RegisterOneTimeResponseHandler(txid uint32, handler ResponseHandler, timeoutMs uint64) {
	cm.transactionHandlers[txid] = oneTimeHandler{
		handler: handler,
		expiry:  cm.clock.NowMillis() + timeoutMs,
	}
}

// UnregisterOneTimeResponseHandler cancels a still-pending one-time
// handler. It is a no-op if txid has already fired or expired.
func (cm *CommandManager) UnregisterOneTimeResponseHandler(txid uint32) {
	delete(cm.transactionHandlers, txid)
}

// InvalidateTimeouts drops any one-time response handler whose deadline
// has passed and invokes it with a nil response, signalling timeout. It is
// driven by the owning Node's poll timer, not a timer of its own (spec §9:
// no implicit scheduling inside core types).
func (cm *CommandManager) InvalidateTimeouts() {
	now := cm.clock.NowMillis()
	var expired []oneTimeHandler
	for txid, h := range cm.transactionHandlers {
		if now >= h.expiry {
			expired = append(expired, h)
			delete(cm.transactionHandlers, txid)
		}
	}
	for _, h := range expired {
		h.handler(nil)
	}
}

// ProcessPayload runs the full command ingress algorithm (spec §4.3) over
// an inbound packet addressed to localAddr: parse the command header,
// dispatch to the registered handler (if any), and build the reply packet
// the caller should transmit back — or nil if no reply is warranted.
func (cm *CommandManager) ProcessPayload(localAddr uint16, packet *Packet) *Packet {
	incoming := NewIncomingTransaction(packet)
	outgoing := NewOutgoingTransaction(CmdResponse, incoming.TransactionID(), CmdFlagNone)

	handler, ok := cm.commandHandlers[incoming.Command()]
	if !ok {
		outgoing.WriteUint8(uint8(ResponseUnknownCommand)).WriteUint16(uint16(incoming.Command()))
		return outgoing.ToPacket(localAddr, incoming.Source())
	}

	outgoing.WriteUint8(uint8(ResponseOK)).WriteUint16(uint16(incoming.Command()))
	code := handler(incoming, outgoing)

	if !incoming.Flags().ResponseExpected() || code == ResponseDeferred {
		return nil
	}
	outgoing.WithResponseCode(code)
	return outgoing.ToPacket(localAddr, incoming.Source())
}

// handleResponse demultiplexes an inbound CmdResponse: a matching one-time
// handler (registered by SendRequest) takes priority over the general
// per-command responseHandlers fallback. Response commands never carry
// CmdFlagResponseExpected, so this never produces a reply of its own
// regardless of the code returned here.
func (cm *CommandManager) handleResponse(incoming *IncomingTransaction, _ *OutgoingTransaction) ResponseCode {
	resp := NewResponse(incoming)

	if h, found := cm.transactionHandlers[resp.TransactionID()]; found {
		delete(cm.transactionHandlers, resp.TransactionID())
		h.handler(resp)
		return ResponseOK
	}

	if h, found := cm.responseHandlers[resp.OriginalCmd]; found {
		h(resp)
	}
	return ResponseOK
}
