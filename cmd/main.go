package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/pflag"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/config"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/daemon"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

const usage = `Usage: rfcomm-mitm [run|install|uninstall|start|stop|restart|status] [flags]

Relays a serial link between a master device and a slave device and shows
everything that crosses it.

Flags:
`

// envFileFromArgs finds --env-file before the full flag set exists, since
// the env file supplies the flag defaults.
func envFileFromArgs(args []string) string {
	fs := pflag.NewFlagSet("env", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	path := fs.String("env-file", config.DefaultEnvFile, "")
	_ = fs.Parse(args)
	return *path
}

func main() {
	args := os.Args[1:]
	cfg := config.New(envFileFromArgs(args))

	fs := pflag.NewFlagSet("rfcomm-mitm", pflag.ContinueOnError)
	fs.String("env-file", config.DefaultEnvFile, "env file with RELAY_* settings")
	cfg.BindFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}
	logger.Init(cfg.LogFile(), cfg.LogLevel())

	command := "run"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	driver, err := daemon.NewDriver(appCtx, cfg)
	if err != nil {
		logger.Log.Error("❌ Failed to create driver", "err", err)
		os.Exit(1)
	}
	app := daemon.NewApplication(cfg, driver, os.Stdout)
	manager := daemon.NewDaemonManager(cfg, app, daemon.ServiceArgs(fs))

	if command == "run" {
		if err := manager.RunDaemon(); err != nil {
			logger.Log.Error("❌ Service failed", "err", err)
			os.Exit(1)
		}
		return
	}
	if !slices.Contains(daemon.Actions, command) {
		fs.Usage()
		os.Exit(2)
	}
	if err := manager.Control(command); err != nil {
		logger.Log.Error("❌ Service control failed", "action", command, "err", err)
		os.Exit(1)
	}
	logger.Log.Info("✅ Service control done", "action", command)
}
