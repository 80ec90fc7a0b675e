// Package transport defines the capability the relay consumes from a serial
// transport stack: peer discovery, channel lookup, outbound connections and
// a single-connection inbound listener.
//
// The relay never talks to a radio directly. Concrete drivers live in the
// subpackages: memory (in-process, scripted), tcp (a TCP stand-in for
// RFCOMM) and rfcomm (Linux Bluetooth sockets).
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// DefaultServiceUUID is the Serial Port Profile service class.
const DefaultServiceUUID = "00001101-0000-1000-8000-00805F9B34FB"

var (
	// ErrNotFound is returned by ResolveChannel when the peer exposes no
	// serial port channel.
	ErrNotFound = errors.New("serial port channel not found")

	// ErrListenerClosed is returned by Accept once the listener is closed.
	ErrListenerClosed = errors.New("listener closed")

	// ErrAmbiguousListen rejects ListenOptions carrying both a channel and
	// a service UUID.
	ErrAmbiguousListen = errors.New("listen options set both channel and uuid")

	// ErrUnsupported is returned for optional capabilities a driver lacks.
	ErrUnsupported = errors.New("not supported by transport driver")
)

// Peer is a remote endpoint reported by discovery.
type Peer struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Conn is one established serial connection.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddress() string
}

// Listener accepts a single inbound connection.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

// Driver is implemented by every transport stack.
type Driver interface {
	// Discover starts an inquiry. The returned handle is live before the
	// driver issues the first radio command, so no peer can be missed.
	Discover(ctx context.Context) (*Discovery, error)
	ResolveChannel(ctx context.Context, address string) (int, error)
	Dial(ctx context.Context, address string, channel int) (Conn, error)
	Listen(ctx context.Context, opts ListenOptions) (Listener, error)
}

// PairedLister is implemented by drivers that know which devices the host
// is paired with. Listing never starts an inquiry.
type PairedLister interface {
	PairedDevices(ctx context.Context) ([]Peer, error)
}

// ListenOptions selects the inbound binding. Exactly one of Channel and
// UUID may be set; with neither, the Serial Port Profile UUID is used.
type ListenOptions struct {
	Channel int    `json:"channel,omitempty"`
	UUID    string `json:"uuid,omitempty"`
}

// Normalize validates the options and fills in the default service UUID.
func (o ListenOptions) Normalize() (ListenOptions, error) {
	if o.Channel < 0 {
		return o, fmt.Errorf("invalid listen channel %d", o.Channel)
	}
	if o.Channel != 0 && o.UUID != "" {
		return o, ErrAmbiguousListen
	}
	if o.Channel == 0 && o.UUID == "" {
		o.UUID = DefaultServiceUUID
	}
	return o, nil
}

func (o ListenOptions) String() string {
	if o.Channel != 0 {
		return fmt.Sprintf("channel %d", o.Channel)
	}
	return "uuid " + o.UUID
}
