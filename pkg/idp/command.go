package idp

// ProtocolVersionString is the firmware/protocol version this build of the
// node stack reports in GetNodeInfo, as "v"-prefixed semver (see
// golang.org/x/mod/semver, used to validate a configured minimum).
const ProtocolVersionString = "v1.0.0"

// Command is a 16-bit opcode identifying a command payload.
type Command uint16

// Built-in node/router/master commands.
const (
	CmdResponse                          Command = 0xA000
	CmdPing                               Command = 0xA001
	CmdGetNodeInfo                        Command = 0xA002
	CmdQueryInterface                     Command = 0xA003
	CmdReset                              Command = 0xA004
	CmdRecommendEnumeration              Command = 0xA005
	CmdRouterDetect                       Command = 0xA006
	CmdRouterEnumerateNode                Command = 0xA007
	CmdRouterPrepareToEnumerateAdaptors   Command = 0xA008
	CmdRouterEnumerateAdaptor             Command = 0xA009
	CmdMarkAdaptorConnected               Command = 0xA00A
	CmdRouterPoll                         Command = 0xA00B
)

// Client commands, reserved by the data model and given fixed semantics by
// ClientNode (see node_client.go).
const (
	CmdConnect    Command = 0xD000
	CmdDisconnect Command = 0xD001
)

// CommandFlags are the flag bits carried in a command payload's cmdFlags
// byte.
type CommandFlags uint8

const (
	CmdFlagNone             CommandFlags = 0
	CmdFlagResponseExpected CommandFlags = 0x01
)

func (f CommandFlags) ResponseExpected() bool { return f&CmdFlagResponseExpected != 0 }

// ResponseCode is the first byte of a response command's body.
type ResponseCode uint8

const (
	ResponseOK ResponseCode = iota
	ResponseUnknownCommand
	ResponseInvalidParameters
	ResponseUnknownError
	ResponseNotReady
	ResponseDeferred
	ResponseInternal
)

func (c ResponseCode) String() string {
	switch c {
	case ResponseOK:
		return "OK"
	case ResponseUnknownCommand:
		return "UnknownCommand"
	case ResponseInvalidParameters:
		return "InvalidParameters"
	case ResponseUnknownError:
		return "UnknownError"
	case ResponseNotReady:
		return "NotReady"
	case ResponseDeferred:
		return "Deferred"
	case ResponseInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// CommandName returns a short human-readable name for a command id, for use
// in trace output. Unrecognized ids are rendered as a hex literal.
func CommandName(cmd Command) string {
	switch cmd {
	case CmdResponse:
		return "Response"
	case CmdPing:
		return "Ping"
	case CmdGetNodeInfo:
		return "GetNodeInfo"
	case CmdQueryInterface:
		return "QueryInterface"
	case CmdReset:
		return "Reset"
	case CmdRecommendEnumeration:
		return "RecommendEnumeration"
	case CmdRouterDetect:
		return "RouterDetect"
	case CmdRouterEnumerateNode:
		return "RouterEnumerateNode"
	case CmdRouterPrepareToEnumerateAdaptors:
		return "RouterPrepareToEnumerateAdaptors"
	case CmdRouterEnumerateAdaptor:
		return "RouterEnumerateAdaptor"
	case CmdMarkAdaptorConnected:
		return "MarkAdaptorConnected"
	case CmdRouterPoll:
		return "RouterPoll"
	case CmdConnect:
		return "Connect"
	case CmdDisconnect:
		return "Disconnect"
	default:
		return fmt16(cmd)
	}
}

func fmt16(cmd Command) string {
	const hex = "0123456789ABCDEF"
	b := [6]byte{'0', 'x', hex[cmd>>12&0xF], hex[cmd>>8&0xF], hex[cmd>>4&0xF], hex[cmd&0xF]}
	return string(b[:])
}
