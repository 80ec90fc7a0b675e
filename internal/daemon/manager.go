package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	kardianos "github.com/kardianos/service"
	"github.com/spf13/pflag"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/config"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

const stopTimeout = 10 * time.Second

// Actions accepted by Control besides "run".
var Actions = []string{"install", "uninstall", "start", "stop", "restart", "status"}

// Runner is the long-running part of the process.
type Runner interface {
	Run(ctx context.Context) error
}

// DaemonManager adapts a Runner to the OS service manager.
type DaemonManager struct {
	cfg  *config.Config
	app  Runner
	args []string

	cancel context.CancelFunc
	done   chan error
}

// NewDaemonManager wraps app as an OS service. args are passed to the
// installed service after the "run" subcommand.
func NewDaemonManager(cfg *config.Config, app Runner, args []string) *DaemonManager {
	return &DaemonManager{cfg: cfg, app: app, args: args}
}

// ServiceArgs renders every flag set on fs as --name=value so the
// installed service starts with the same settings. Positional arguments
// are left out.
func ServiceArgs(fs *pflag.FlagSet) []string {
	args := []string{}
	fs.Visit(func(f *pflag.Flag) {
		args = append(args, "--"+f.Name+"="+f.Value.String())
	})
	return args
}

func (m *DaemonManager) serviceConfig() *kardianos.Config {
	return &kardianos.Config{
		Name:        m.cfg.ServiceName(),
		DisplayName: m.cfg.ServiceDisplayName(),
		Description: m.cfg.ServiceDescription(),
		Arguments:   append([]string{"run"}, m.args...),
		Option: kardianos.KeyValue{
			// systemd
			"Restart": "on-failure",
			// Windows service recovery
			"OnFailure":              "restart",
			"OnFailureDelayDuration": "5s",
			// launchd
			"KeepAlive": true,
			"RunAtLoad": true,
		},
	}
}

func (m *DaemonManager) newService() (kardianos.Service, error) {
	if m.app == nil {
		return nil, errors.New("daemon: application cannot be nil")
	}
	return kardianos.New(m, m.serviceConfig())
}

// Start implements kardianos.Interface. It must not block.
func (m *DaemonManager) Start(s kardianos.Service) error {
	logger.Log.Info("Kardianos starting service", "service", s.String(), "platform", s.Platform())
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan error, 1)
	go func() {
		m.done <- m.app.Run(ctx)
	}()
	return nil
}

// Stop implements kardianos.Interface and waits for Run to return.
func (m *DaemonManager) Stop(s kardianos.Service) error {
	logger.Log.Info("Kardianos stopping service", "service", s.String())
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case err := <-m.done:
		return err
	case <-time.After(stopTimeout):
		return fmt.Errorf("service did not stop within %s", stopTimeout)
	}
}

// RunDaemon runs in the foreground, or under the service manager when
// started by it, until stopped.
func (m *DaemonManager) RunDaemon() error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	return s.Run()
}

// Control performs one of Actions against the installed service.
func (m *DaemonManager) Control(action string) error {
	s, err := m.newService()
	if err != nil {
		return err
	}
	switch action {
	case "status":
		st, err := s.Status()
		if err != nil {
			return fmt.Errorf("failed to query service: %w", err)
		}
		logger.Log.Info("Service status", "service", m.cfg.ServiceName(), "status", statusName(st))
		return nil
	case "uninstall":
		// A service that is not running still uninstalls.
		if err := s.Stop(); err != nil {
			logger.Log.Warn("⚠️ Service was not running", "err", err)
		}
	}
	if err := kardianos.Control(s, action); err != nil {
		if action == "install" && runtime.GOOS == "windows" {
			return fmt.Errorf("failed to install Windows service (requires administrator privileges): %w", err)
		}
		return err
	}
	return nil
}

func statusName(st kardianos.Status) string {
	switch st {
	case kardianos.StatusRunning:
		return "running"
	case kardianos.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
