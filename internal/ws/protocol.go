package ws

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/models"
)

// ProtocolFormatError is a frame that does not decode to a valid command.
// Msg is sent back verbatim in a formaterror reply.
type ProtocolFormatError struct {
	Msg string
}

func (e *ProtocolFormatError) Error() string { return "control frame: " + e.Msg }

func formatErr(msg string) *ProtocolFormatError { return &ProtocolFormatError{Msg: msg} }

// Command is a validated inbound frame.
type Command struct {
	Type    string
	Query   string
	Address string
	// Channel is nil when the frame carried none.
	Channel *int
	Data    string
}

// Decode parses and validates one inbound frame.
func Decode(raw []byte) (Command, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Command{}, formatErr("invalid json")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return Command{}, formatErr("expected json object")
	}
	typ, ok := obj["type"].(string)
	if !ok {
		return Command{}, formatErr(`expected string key named "type"`)
	}
	cmd := Command{Type: typ}

	switch typ {
	case models.CmdInquire, models.CmdDisconnect:
	case models.CmdAutoconnect:
		q, ok := optionalString(obj, "query")
		if !ok {
			return Command{}, formatErr(`expected key named "query" to be string or undefined`)
		}
		cmd.Query = q
	case models.CmdConnect:
		addr, ok := optionalString(obj, "address")
		if !ok {
			return Command{}, formatErr(`expected key named "address" to be string or undefined`)
		}
		cmd.Address = addr
		ch, err := channelField(obj)
		if err != nil {
			return Command{}, err
		}
		cmd.Channel = ch
	case models.CmdWrite:
		data, ok := obj["data"].(string)
		if !ok {
			return Command{}, formatErr(`expected string key named "data"`)
		}
		cmd.Data = data
	default:
		return Command{}, formatErr("message type not recognized")
	}
	return cmd, nil
}

// optionalString treats a missing key and JSON null alike.
func optionalString(obj map[string]any, key string) (string, bool) {
	v, present := obj[key]
	if !present || v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

func channelField(obj map[string]any) (*int, error) {
	v, present := obj["channel"]
	if !present || v == nil {
		return nil, nil
	}
	switch c := v.(type) {
	case float64:
		if c != math.Trunc(c) || c < math.MinInt32 || c > math.MaxInt32 {
			return nil, formatErr(`expected key named "channel" to be a whole number`)
		}
		n := int(c)
		return &n, nil
	case string:
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, nil
		}
		n, err := strconv.Atoi(c)
		if err != nil {
			return nil, formatErr(`expected key named "channel" to be a whole number`)
		}
		return &n, nil
	default:
		return nil, formatErr(`expected key named "channel" to be string, number, or undefined`)
	}
}
