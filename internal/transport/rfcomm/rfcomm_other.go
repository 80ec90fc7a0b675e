//go:build !linux

package rfcomm

import (
	"context"
	"fmt"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
)

var errUnsupported = fmt.Errorf("rfcomm: sockets need linux: %w", transport.ErrUnsupported)

func (d *Driver) Dial(_ context.Context, _ string, channel int) (transport.Conn, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	return nil, errUnsupported
}

func (d *Driver) Listen(_ context.Context, opts transport.ListenOptions) (transport.Listener, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if opts.Channel != 0 {
		if err := checkChannel(opts.Channel); err != nil {
			return nil, err
		}
	}
	return nil, errUnsupported
}
