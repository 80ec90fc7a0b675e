package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/api/handlers"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/api/routers"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/config"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/console"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/relay"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/service"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/watcher"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/ws"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

const (
	defaultRetryDelay = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

type Application struct {
	config  *config.Config
	engine  *relay.Engine
	console *console.Console
	hub     *ws.Hub
	server  *http.Server

	retryDelay time.Duration
	// teardown is signalled whenever a link disconnects.
	teardown chan struct{}
	// ready receives the bound HTTP address once the control server listens.
	ready chan string
}

func NewApplication(cfg *config.Config, driver transport.Driver, out io.Writer) *Application {
	app := &Application{
		config:     cfg,
		engine:     relay.New(driver),
		retryDelay: defaultRetryDelay,
		teardown:   make(chan struct{}, 1),
		ready:      make(chan string, 1),
	}
	if cfg.Mode() == config.ModeProxy {
		app.console = console.New(out, cfg.DataLog())
		app.engine.Observe(app.console)
	} else {
		// Bridge mode never opens the server link.
		app.engine.SetClientOnly(true)
	}
	app.engine.Observe(relay.ObserverFunc(func(ev relay.Event) {
		if ev.Condition != relay.CondDisconnect {
			return
		}
		select {
		case app.teardown <- struct{}{}:
		default:
		}
	}))
	return app
}

func (app *Application) Engine() *relay.Engine {
	return app.engine
}

// Hub is nil until Run starts the control server.
func (app *Application) Hub() *ws.Hub {
	return app.hub
}

// ControlAddr waits for the control server to listen and returns its
// address.
func (app *Application) ControlAddr(ctx context.Context) (string, error) {
	select {
	case addr := <-app.ready:
		app.ready <- addr
		return addr, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run blocks until ctx ends.
func (app *Application) Run(ctx context.Context) error {
	logger.Log.Info("✅ Relay starting", "mode", app.config.Mode(), "driver", app.config.Driver())
	defer app.Shutdown()

	app.startReloader(ctx)

	errCh := make(chan error, 1)
	if app.config.Control() {
		if err := app.startControlServer(ctx, errCh); err != nil {
			return err
		}
	}
	if app.config.Mode() == config.ModeProxy {
		go app.superviseProxy(ctx)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (app *Application) Shutdown() {
	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.server.Shutdown(ctx); err != nil {
			logger.Log.Error("Error shutting down control server", "err", err)
		}
		app.server = nil
	}
	app.engine.Close()
	logger.Log.Info("Relay stopped")
}

// ApplyRuntime changes the log level and data logging while running.
func (app *Application) ApplyRuntime(rt config.Runtime) {
	logger.Level.Set(rt.LogLevel)
	if app.console != nil {
		app.console.SetDataLog(rt.DataLog)
	}
}

func (app *Application) startReloader(ctx context.Context) {
	if _, err := os.Stat(app.config.EnvFile()); err != nil {
		return
	}
	r, err := watcher.NewConfigReloader(app.config.EnvFile(), app.config.Runtime(), app.ApplyRuntime)
	if err != nil {
		logger.Log.Warn("Failed to create config watcher", "err", err)
		return
	}
	go func() {
		if err := r.Run(ctx); err != nil {
			logger.Log.Warn("Config watcher stopped", "err", err)
		}
	}()
}

func (app *Application) startControlServer(ctx context.Context, errCh chan<- error) error {
	mode := ws.ModeProxy
	if app.config.Mode() == config.ModeBridge {
		mode = ws.ModeBridge
	}
	app.hub = ws.NewHub(ctx, app.engine, mode)
	svc := service.NewService(app.engine, app.hub, mode.String())

	gin.SetMode(gin.ReleaseMode)
	router := routers.NewRouter(handlers.NewHandler(svc), handlers.NewWebSocketHandler(app.hub)).SetupRouter()

	ln, err := net.Listen("tcp", app.config.Addr())
	if err != nil {
		return err
	}
	app.server = &http.Server{Handler: router}
	app.ready <- ln.Addr().String()
	logger.Log.Info("Control server listening", "addr", ln.Addr().String(), "mode", mode.String())
	go func() {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return nil
}

// superviseProxy keeps both links up: autoconnect the client link, wait for
// a master on the server link, and start over for any link that drops.
func (app *Application) superviseProxy(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if app.engine.LinkState(relay.Client) != relay.Open {
			if err := app.engine.Autoconnect(ctx, app.config.Query()); err != nil {
				logger.Log.Error("❌ Autoconnect failed", "query", app.config.Query(), "err", err)
				if !app.sleep(ctx) {
					return
				}
				continue
			}
		}
		if app.engine.LinkState(relay.Server) != relay.Open {
			addr, err := app.engine.Listen(ctx, app.config.ListenOptions())
			if err != nil {
				if errors.Is(err, relay.ErrClosed) && ctx.Err() != nil {
					return
				}
				logger.Log.Error("❌ Listen failed", "err", err)
				if !app.sleep(ctx) {
					return
				}
				continue
			}
			logger.Log.Info("Relay established", "master", addr)
		}
		select {
		case <-app.teardown:
		case <-ctx.Done():
			return
		}
	}
}

func (app *Application) sleep(ctx context.Context) bool {
	select {
	case <-time.After(app.retryDelay):
		return true
	case <-ctx.Done():
		return false
	}
}
