package ws

import (
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/models"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/relay"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/escape"
)

// EventMessage renders an engine event as a "<prefix>.<condition>" frame.
// Payload bytes are escaped so the frame stays printable text.
func EventMessage(prefix string, ev relay.Event) models.Message {
	msg := models.NewMessage(prefix + "." + ev.Condition.String())
	switch ev.Condition {
	case relay.CondData:
		msg.With("data", escape.Bytes(ev.Data))
	case relay.CondFound, relay.CondConnected:
		msg.With("address", ev.Peer.Address).With("name", ev.Peer.Name)
	case relay.CondNewClient:
		msg.With("address", ev.Peer.Address)
	case relay.CondDebug:
		if ev.Detail != "" {
			msg.With("detail", ev.Detail)
		}
	}
	if ev.Err != nil {
		msg.With("error", ev.Err.Error())
	}
	return msg
}
