package daemon

import (
	"context"
	"fmt"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/config"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport/memory"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport/rfcomm"
	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport/tcp"
)

// NewDriver builds the transport named by cfg. The memory driver turns the
// peer table into echoing simulated devices that live as long as ctx.
func NewDriver(ctx context.Context, cfg *config.Config) (transport.Driver, error) {
	switch cfg.Driver() {
	case config.DriverRFCOMM:
		return &rfcomm.Driver{Peers: cfg.Peers()}, nil
	case config.DriverTCP:
		return &tcp.Driver{Peers: cfg.Peers(), ListenHost: cfg.Host()}, nil
	case config.DriverMemory:
		d := memory.New()
		for _, p := range cfg.Peers() {
			d.AddRemote(p.Address, p.Name, p.Channel).Echo(ctx)
			d.Pair(p.Peer)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver())
	}
}
