// Package rfcomm drives Bluetooth RFCOMM sockets directly. Radio inquiry
// and SDP lookup need the host Bluetooth daemon, so discovery replays the
// configured peer table (usually the paired devices) and channels come
// from the same table.
package rfcomm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
)

var (
	_ transport.Driver       = (*Driver)(nil)
	_ transport.PairedLister = (*Driver)(nil)
)

// RFCOMM channels are 1..30.
const maxChannel = 30

var ErrInvalidChannel = errors.New("rfcomm: invalid channel")

func checkChannel(channel int) error {
	if channel <= 0 || channel > maxChannel {
		return fmt.Errorf("%w %d", ErrInvalidChannel, channel)
	}
	return nil
}

type Driver struct {
	Peers transport.PeerTable
}

func (d *Driver) Discover(ctx context.Context) (*transport.Discovery, error) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	disc := transport.NewDiscovery(cancel)
	transport.Announce(ctx, disc, d.Peers.Peers())
	return disc, nil
}

func (d *Driver) ResolveChannel(_ context.Context, address string) (int, error) {
	return d.Peers.Channel(address)
}

// PairedDevices reports the peer table.
func (d *Driver) PairedDevices(context.Context) ([]transport.Peer, error) {
	return d.Peers.Peers(), nil
}

// parseAddress converts "AA:BB:CC:DD:EE:FF" into the little-endian bdaddr
// layout the kernel expects.
func parseAddress(s string) ([6]uint8, error) {
	var addr [6]uint8
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return addr, fmt.Errorf("rfcomm: invalid address %q", s)
	}
	for i, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("rfcomm: invalid address %q", s)
		}
		addr[5-i] = uint8(b)
	}
	return addr, nil
}

func formatAddress(addr [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[5], addr[4], addr[3], addr[2], addr[1], addr[0])
}
