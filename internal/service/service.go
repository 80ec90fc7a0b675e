package service

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/models"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/relay"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
)

// StateSource reports the relay's link states and the host's paired
// devices.
type StateSource interface {
	State() relay.Snapshot
	PairedDevices(ctx context.Context) ([]transport.Peer, error)
}

// SubscriberCounter reports how many control subscribers are open.
type SubscriberCounter interface {
	Count() int
}

type Service struct {
	relay       StateSource
	subscribers SubscriberCounter
	mode        string
	startTime   time.Time
}

// NewService builds the status service. subscribers may be nil when no
// control hub runs.
func NewService(states StateSource, subscribers SubscriberCounter, mode string) *Service {
	return &Service{
		relay:       states,
		subscribers: subscribers,
		mode:        mode,
		startTime:   time.Now(),
	}
}

func (s *Service) Uptime() int64 {
	return int64(time.Since(s.startTime).Seconds())
}

func (s *Service) GetHostMetrics() models.HostMetrics {
	var m models.HostMetrics
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		m.CPUUsage = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsage = memStat.UsedPercent
	}
	if hostInfo, err := host.Info(); err == nil {
		m.Hostname = hostInfo.Hostname
		m.OS = hostInfo.OS
		m.Uptime = hostInfo.Uptime
	}
	return m
}

func (s *Service) Health() models.HealthCheck {
	hc := models.HealthCheck{
		Status: "Healthy",
		Uptime: s.Uptime(),
		Mode:   s.mode,
		Relay:  s.relay.State(),
		Host:   s.GetHostMetrics(),
	}
	if s.subscribers != nil {
		hc.Subscribers = s.subscribers.Count()
	}
	return hc
}

func (s *Service) PairedDevices(ctx context.Context) ([]transport.Peer, error) {
	return s.relay.PairedDevices(ctx)
}
