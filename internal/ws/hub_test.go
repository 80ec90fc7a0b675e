package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/relay"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport/memory"
)

type fixture struct {
	hub    *Hub
	engine *relay.Engine
	driver *memory.Driver
	url    string
}

func newFixture(t *testing.T, mode Mode) *fixture {
	t.Helper()
	driver := memory.New()
	engine := relay.New(driver)
	hub := NewHub(context.Background(), engine, mode)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Connect(conn)
	}))
	t.Cleanup(func() {
		engine.Close()
		srv.Close()
	})
	return &fixture{hub: hub, engine: engine, driver: driver, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	before := f.hub.Count()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return f.hub.Count() > before }, time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

// readType skips frames until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg["type"] == typ {
			return msg
		}
	}
}

// assertSilent leaves conn unusable: gorilla read errors are permanent, so
// call it last on each connection.
func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	_, raw, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected frame %s", raw)
}

func TestMalformedFrameRepliesOnlyToSender(t *testing.T) {
	f := newFixture(t, ModeProxy)
	sender := f.dial(t)
	other := f.dial(t)

	send(t, sender, `"hello"`)
	msg := read(t, sender)
	assert.Equal(t, "formaterror", msg["type"])
	assert.Equal(t, "expected json object", msg["msg"])

	send(t, sender, `{"name":"x"}`)
	msg = read(t, sender)
	assert.Equal(t, "formaterror", msg["type"])
	assert.Equal(t, `expected string key named "type"`, msg["msg"])

	assertSilent(t, sender)
	assertSilent(t, other)
}

func TestWriteReachesClientLink(t *testing.T) {
	f := newFixture(t, ModeProxy)
	dev := f.driver.AddRemote("AA:BB", "OBD2-Reader", 1)
	ctx := context.Background()
	require.NoError(t, f.engine.Connect(ctx, "AA:BB", nil))
	far, err := dev.Accept(ctx)
	require.NoError(t, err)

	sub := f.dial(t)
	watcher := f.dial(t)
	send(t, sub, `{"type":"write","data":"ATZ\r"}`)

	buf := make([]byte, 4)
	_, err = io.ReadFull(far, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x41, 0x54, 0x5A, 0x0D}, buf)

	_, err = far.Write(buf)
	require.NoError(t, err)
	for _, conn := range []*websocket.Conn{sub, watcher} {
		msg := readType(t, conn, "client.data")
		assert.Equal(t, `ATZ\r`, msg["data"])
	}
}

func TestWriteWithoutLinkReportsError(t *testing.T) {
	f := newFixture(t, ModeProxy)
	sender := f.dial(t)
	other := f.dial(t)

	send(t, sender, `{"type":"write","data":"x"}`)
	msg := read(t, sender)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["error"], "link not open")
	assertSilent(t, other)
}

func TestAutoconnectBroadcastsDiscovery(t *testing.T) {
	f := newFixture(t, ModeProxy)
	f.driver.AddRemote("AA:BB", "OBD2-Reader", 1)
	f.driver.AddRemote("CC:DD", "Printer", 2)
	sender := f.dial(t)
	other := f.dial(t)

	send(t, sender, `{"type":"autoconnect","query":"printer"}`)
	for _, conn := range []*websocket.Conn{sender, other} {
		found := readType(t, conn, "client.found")
		assert.Equal(t, "AA:BB", found["address"])
		assert.Equal(t, "OBD2-Reader", found["name"])
		connected := readType(t, conn, "client.connected")
		assert.Equal(t, "CC:DD", connected["address"])
	}
	assert.Equal(t, []string{"CC:DD"}, f.driver.Dials())
}

func TestAutoconnectNoMatchErrorGoesToSender(t *testing.T) {
	f := newFixture(t, ModeProxy)
	f.driver.AddRemote("CC:DD", "Printer", 2)
	sender := f.dial(t)

	send(t, sender, `{"type":"autoconnect","query":"obd"}`)
	readType(t, sender, "client.finished")
	msg := readType(t, sender, "error")
	assert.Contains(t, msg["error"], "no matching devices")
}

func TestConnectAndDisconnect(t *testing.T) {
	f := newFixture(t, ModeProxy)
	f.driver.AddRemote("AA:BB", "OBD2-Reader", 4)
	sub := f.dial(t)

	send(t, sub, `{"type":"connect","address":"AA:BB","channel":"4"}`)
	readType(t, sub, "client.connected")
	assert.Equal(t, relay.Open, f.engine.LinkState(relay.Client))

	send(t, sub, `{"type":"disconnect"}`)
	readType(t, sub, "client.closed")
	assert.Equal(t, relay.Idle, f.engine.LinkState(relay.Client))
}

func TestBridgeModeTagsClientEvents(t *testing.T) {
	f := newFixture(t, ModeBridge)
	f.driver.AddRemote("AA:BB", "OBD2-Reader", 1)
	sub := f.dial(t)

	send(t, sub, `{"type":"inquire"}`)
	found := read(t, sub)
	assert.Equal(t, "bt.found", found["type"])
	assert.Equal(t, "bt.finished", read(t, sub)["type"])

	f.hub.OnEvent(relay.Event{Link: relay.Server, Condition: relay.CondClosed})
	assertSilent(t, sub)
}

func TestDisconnectDuringBroadcast(t *testing.T) {
	f := newFixture(t, ModeProxy)
	conn := f.dial(t)

	f.hub.Mutex.RLock()
	var s *Subscriber
	for _, sub := range f.hub.Subscribers {
		s = sub
	}
	f.hub.Mutex.RUnlock()
	require.NotNil(t, s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			f.hub.OnEvent(relay.Event{Condition: relay.CondDebug})
		}
	}()
	f.hub.Disconnect(s)
	f.hub.Disconnect(s)
	<-done
	conn.Close()
	assert.Equal(t, 0, f.hub.Count())
}
