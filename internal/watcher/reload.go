package watcher

import (
	"context"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/config"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

// ConfigReloader re-applies runtime settings whenever the env file changes.
type ConfigReloader struct {
	current config.Runtime
	apply   func(config.Runtime)
	watcher *Watcher
}

// NewConfigReloader watches envFile. apply runs on the Run goroutine after
// every change that alters the runtime settings.
func NewConfigReloader(envFile string, current config.Runtime, apply func(config.Runtime)) (*ConfigReloader, error) {
	w, err := New(envFile)
	if err != nil {
		return nil, err
	}
	return &ConfigReloader{current: current, apply: apply, watcher: w}, nil
}

func (r *ConfigReloader) Watcher() *Watcher {
	return r.watcher
}

// Run watches until ctx ends.
func (r *ConfigReloader) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- r.watcher.Run(ctx) }()
	for change := range r.watcher.Changes() {
		if change.Gone() {
			continue
		}
		r.reload()
	}
	return <-errCh
}

func (r *ConfigReloader) reload() {
	path := r.watcher.Path()
	rt, err := config.ReadRuntime(path, r.current)
	if err != nil {
		logger.Log.Warn("Failed to reload config", "path", path, "err", err)
		return
	}
	if rt == r.current {
		return
	}
	logger.Log.Info("Config reloaded", "log_level", rt.LogLevel.String(), "data_log", rt.DataLog)
	r.current = rt
	r.apply(rt)
}
