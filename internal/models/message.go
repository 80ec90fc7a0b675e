package models

import "encoding/json"

// Message is one control frame: a "type" tag plus flat fields, e.g.
// {"type":"client.data","data":"ATZ\\r"}.
type Message map[string]any

func NewMessage(msgType string) Message {
	return Message{"type": msgType}
}

// With sets a field and returns m for chaining.
func (m Message) With(key string, value any) Message {
	m[key] = value
	return m
}

func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

func (m Message) String() string {
	b, err := json.Marshal(m)
	if err != nil {
		return m.Type()
	}
	return string(b)
}

// FormatError is sent only to a subscriber whose frame could not be decoded.
func FormatError(msg string) Message {
	return NewMessage(MsgFormatError).With("msg", msg)
}

// Error reports a failed command back to the subscriber that issued it.
func Error(err error) Message {
	return NewMessage(MsgError).With("error", err.Error())
}
