package ws

import (
	"errors"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/models"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/relay"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/escape"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

// ProcessMessage decodes one frame from s and runs it. Format errors and
// command failures are reported to s alone.
func (h *Hub) ProcessMessage(s *Subscriber, raw []byte) {
	cmd, err := Decode(raw)
	if err != nil {
		var ferr *ProtocolFormatError
		if errors.As(err, &ferr) {
			logger.Log.Warn("Rejected control frame", "id", s.ID, "reason", ferr.Msg, "frame", escape.Bytes(raw))
			h.Send(s, models.FormatError(ferr.Msg))
		}
		return
	}

	switch cmd.Type {
	case models.CmdWrite:
		logger.Log.Info("Injecting data into client link", "id", s.ID, "data", escape.Bytes([]byte(cmd.Data)))
		h.reply(s, cmd, h.engine.Write(relay.Client, []byte(cmd.Data)))
	case models.CmdDisconnect:
		h.engine.Close()
	default:
		// Discovery and connects block until the radio answers, so they must
		// not hold up later frames such as write or disconnect.
		go h.runBlocking(s, cmd)
	}
}

func (h *Hub) runBlocking(s *Subscriber, cmd Command) {
	var err error
	switch cmd.Type {
	case models.CmdInquire:
		_, err = h.engine.Inquire(h.ctx)
	case models.CmdAutoconnect:
		err = h.engine.Autoconnect(h.ctx, cmd.Query)
	case models.CmdConnect:
		err = h.engine.Connect(h.ctx, cmd.Address, cmd.Channel)
	}
	h.reply(s, cmd, err)
}

func (h *Hub) reply(s *Subscriber, cmd Command, err error) {
	if err == nil {
		return
	}
	logger.Log.Error("❌ Command failed", "id", s.ID, "type", cmd.Type, "err", err)
	h.Send(s, models.Error(err))
}
