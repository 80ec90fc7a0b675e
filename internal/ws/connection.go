package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/models"
)

const (
	sendBufferSize     = 256
	incomingBufferSize = 64
)

// Subscriber is one control connection. It is Open from Connect until
// Disconnect, and never reopens.
type Subscriber struct {
	ID           string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	SendCh       chan models.Message
	IncomingCh   chan []byte
	DisconnectCh chan struct{}

	// closed is guarded by Hub.Mutex.
	closed bool
}

func NewSubscriber(conn *websocket.Conn) *Subscriber {
	return &Subscriber{
		ID:           uuid.NewString(),
		Conn:         conn,
		ConnectedAt:  time.Now(),
		SendCh:       make(chan models.Message, sendBufferSize),
		IncomingCh:   make(chan []byte, incomingBufferSize),
		DisconnectCh: make(chan struct{}),
	}
}
