// Package ws is the control hub. Every subscriber sees every relay event as
// a tagged JSON frame and may send commands that drive the engine.
package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/models"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/relay"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

// Controller is the part of the relay engine the hub drives.
type Controller interface {
	Inquire(ctx context.Context) ([]transport.Peer, error)
	Autoconnect(ctx context.Context, query string) error
	Connect(ctx context.Context, address string, channel *int) error
	Write(link relay.LinkID, data []byte) error
	Close()
	Observe(o relay.Observer)
}

type Mode int

const (
	// ModeProxy exposes both links, tagged "client" and "server".
	ModeProxy Mode = iota
	// ModeBridge exposes only the client link, tagged "bt".
	ModeBridge
)

func (m Mode) String() string {
	if m == ModeBridge {
		return "bridge"
	}
	return "proxy"
}

type Hub struct {
	engine Controller
	mode   Mode
	ctx    context.Context

	Mutex       sync.RWMutex
	Subscribers map[string]*Subscriber
}

// NewHub subscribes the hub to engine. Commands run under ctx.
func NewHub(ctx context.Context, engine Controller, mode Mode) *Hub {
	h := &Hub{
		engine:      engine,
		mode:        mode,
		ctx:         ctx,
		Subscribers: make(map[string]*Subscriber),
	}
	engine.Observe(h)
	return h
}

func (h *Hub) Mode() Mode { return h.mode }

// Connect registers a freshly upgraded connection and starts its pumps.
func (h *Hub) Connect(conn *websocket.Conn) *Subscriber {
	s := NewSubscriber(conn)
	h.Mutex.Lock()
	h.Subscribers[s.ID] = s
	count := len(h.Subscribers)
	h.Mutex.Unlock()
	logger.Log.Info("Subscriber connected", "id", s.ID, "remote", conn.RemoteAddr().String(), "subscribers", count)

	go h.ReadPump(s)
	go h.WritePump(s)
	go h.ProcessorPump(s)
	return s
}

// Disconnect removes s. Safe to call more than once and concurrently with
// Broadcast.
func (h *Hub) Disconnect(s *Subscriber) {
	h.Mutex.Lock()
	if s.closed {
		h.Mutex.Unlock()
		return
	}
	s.closed = true
	delete(h.Subscribers, s.ID)
	close(s.SendCh)
	close(s.DisconnectCh)
	h.Mutex.Unlock()
	logger.Log.Info("Subscriber disconnected", "id", s.ID)
}

// Count returns the number of open subscribers.
func (h *Hub) Count() int {
	h.Mutex.RLock()
	defer h.Mutex.RUnlock()
	return len(h.Subscribers)
}

// Broadcast queues msg for every open subscriber. A subscriber whose buffer
// is full misses the message.
func (h *Hub) Broadcast(msg models.Message) {
	h.Mutex.RLock()
	defer h.Mutex.RUnlock()
	for _, s := range h.Subscribers {
		h.enqueue(s, msg)
	}
}

// Send queues msg for one subscriber only.
func (h *Hub) Send(s *Subscriber, msg models.Message) {
	h.Mutex.RLock()
	defer h.Mutex.RUnlock()
	h.enqueue(s, msg)
}

// enqueue must run under h.Mutex so SendCh cannot be closed mid-send.
func (h *Hub) enqueue(s *Subscriber, msg models.Message) {
	if s.closed {
		return
	}
	select {
	case s.SendCh <- msg:
	default:
		logger.Log.Warn("⚠️ Send buffer full, dropping message", "id", s.ID, "type", msg.Type())
	}
}

// OnEvent forwards engine events to every subscriber.
func (h *Hub) OnEvent(ev relay.Event) {
	prefix := ev.Link.String()
	if h.mode == ModeBridge {
		if ev.Link != relay.Client {
			return
		}
		prefix = models.BridgePrefix
	}
	h.Broadcast(EventMessage(prefix, ev))
}
