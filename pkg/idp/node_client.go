package idp

// ClientNode supplements the core protocol with a fixed, conservative
// resolution of the Connect/Disconnect opcodes (0xD000/0xD001), which the
// distilled protocol reserves for application use but leaves undefined
// (spec §4.5 Open Question). ClientNode only ever issues these as plain
// requests to whatever it's paired with; it registers no server-side
// handler of its own, so embedding ClientNode doesn't commit a node to
// answering them — that's left to whatever application-specific node
// actually owns the session.
type ClientNode struct {
	*Node
}

// NewClientNode wraps n so it can issue Connect/Disconnect requests.
func NewClientNode(n *Node) *ClientNode {
	return &ClientNode{Node: n}
}

// Connect sends a Connect request to dst and reports whether it was
// accepted.
func (c *ClientNode) Connect(dst uint16, onResult func(accepted bool)) {
	c.SendRequest(dst, CmdConnect, nil, func(resp *Response) {
		onResult(resp != nil && resp.Code == ResponseOK)
	})
}

// Disconnect notifies dst that this client is going away. It expects no
// reply.
func (c *ClientNode) Disconnect(dst uint16) {
	c.SendNotification(dst, CmdDisconnect, nil)
}
