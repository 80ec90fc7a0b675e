package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/config"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/relay"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport/memory"
)

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	cfg := config.New(filepath.Join(t.TempDir(), "missing.env"))
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse(append([]string{"--log-file", ""}, args...)))
	require.NoError(t, cfg.Validate())
	return cfg
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runApp(t *testing.T, app *Application) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("application did not stop")
		}
	})
	return cancel
}

func TestProxyModeRelaysMasterToDevice(t *testing.T) {
	d := memory.New()
	d.AddRemote("CC:DD", "Printer", 2)
	dev := d.AddRemote("AA:BB", "OBD2-Reader", 1)
	out := &syncBuffer{}
	app := NewApplication(testConfig(t, "--mode", "proxy", "--driver", "memory", "-q", "obd"), d, out)
	app.console.DisableColor()
	runApp(t, app)

	require.Eventually(t, func() bool {
		_, ok := d.Listening()
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"AA:BB"}, d.Dials())

	far, err := dev.Accept(context.Background())
	require.NoError(t, err)
	master, err := d.ConnectInbound("11:22")
	require.NoError(t, err)

	_, err = master.Write([]byte("010C\r"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(far, buf)
	require.NoError(t, err)
	assert.Equal(t, "010C\r", string(buf))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `slave: 010C\r`)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, out.String(), "New connection: 11:22")
}

func TestProxyModeRelistensAfterMasterLeaves(t *testing.T) {
	d := memory.New()
	d.AddRemote("AA:BB", "OBD2-Reader", 1)
	app := NewApplication(testConfig(t, "--driver", "memory"), d, io.Discard)
	runApp(t, app)

	listening := func() bool {
		_, ok := d.Listening()
		return ok
	}
	require.Eventually(t, listening, 2*time.Second, 5*time.Millisecond)
	master, err := d.ConnectInbound("11:22")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return app.Engine().LinkState(relay.Server) == relay.Open }, 2*time.Second, 5*time.Millisecond)

	master.Close()
	require.Eventually(t, listening, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, relay.Open, app.Engine().LinkState(relay.Client))
	assert.Len(t, d.Dials(), 1)
}

func TestProxyModeRetriesAutoconnect(t *testing.T) {
	d := memory.New()
	app := NewApplication(testConfig(t, "--driver", "memory", "-q", "obd"), d, io.Discard)
	app.retryDelay = 10 * time.Millisecond
	runApp(t, app)

	require.Eventually(t, func() bool { return d.Discoveries() >= 2 }, 2*time.Second, 5*time.Millisecond)
	d.AddRemote("AA:BB", "OBD2-Reader", 1)
	require.Eventually(t, func() bool { return app.Engine().LinkState(relay.Client) == relay.Open }, 2*time.Second, 5*time.Millisecond)
}

func TestBridgeModeServesControlHub(t *testing.T) {
	d := memory.New()
	d.AddRemote("AA:BB", "OBD2-Reader", 1)
	app := NewApplication(testConfig(t, "--mode", "bridge", "--driver", "memory", "--host", "127.0.0.1", "--port", "0"), d, io.Discard)
	runApp(t, app)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	addr, err := app.ControlAddr(ctx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "health_check", health["type"])

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"autoconnect","query":"obd"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == "bt.connected" {
			assert.Equal(t, "AA:BB", msg["address"])
			break
		}
	}
	assert.Equal(t, []string{"AA:BB"}, d.Dials())
}

func TestApplyRuntime(t *testing.T) {
	app := NewApplication(testConfig(t, "--driver", "memory"), memory.New(), io.Discard)
	app.ApplyRuntime(config.Runtime{DataLog: false})
	assert.False(t, app.console.DataLog())
	app.ApplyRuntime(config.Runtime{DataLog: true})
	assert.True(t, app.console.DataLog())
}

func TestBridgeModeDoesNotForwardClientData(t *testing.T) {
	d := memory.New()
	dev := d.AddRemote("AA:BB", "OBD2-Reader", 1)
	app := NewApplication(testConfig(t, "--mode", "bridge", "--driver", "memory"), d, io.Discard)
	defer app.Engine().Close()

	events := make(chan relay.Event, 16)
	app.Engine().Observe(relay.ObserverFunc(func(ev relay.Event) {
		if ev.Condition == relay.CondData || ev.Link == relay.Server {
			events <- ev
		}
	}))

	ctx := context.Background()
	require.NoError(t, app.Engine().Connect(ctx, "AA:BB", nil))
	far, err := dev.Accept(ctx)
	require.NoError(t, err)
	for _, chunk := range []string{"ATZ\r", ">"} {
		_, err = far.Write([]byte(chunk))
		require.NoError(t, err)
		select {
		case ev := <-events:
			assert.Equal(t, "client.data", ev.Type())
			assert.Equal(t, []byte(chunk), ev.Data)
		case <-time.After(2 * time.Second):
			t.Fatal("no data event")
		}
	}
	assert.Empty(t, events)
}
