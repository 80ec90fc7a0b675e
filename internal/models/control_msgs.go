package models

// Commands accepted from control subscribers.
const (
	CmdInquire     = "inquire"
	CmdAutoconnect = "autoconnect"
	CmdConnect     = "connect"
	CmdWrite       = "write"
	CmdDisconnect  = "disconnect"
)

// Replies that are never broadcast.
const (
	MsgFormatError = "formaterror"
	MsgError       = "error"
)

// HTTP payload types.
const (
	MsgHealthCheck = "health_check"
	MsgPaired      = "paired"
)

// BridgePrefix tags every event in bridge mode, where only the client link
// is exposed.
const BridgePrefix = "bt"
