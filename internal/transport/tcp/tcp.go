// Package tcp stands in for RFCOMM over plain TCP. A peer address is a host,
// a channel is a TCP port, and discovery replays the configured peer table.
package tcp

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
)

var (
	_ transport.Driver       = (*Driver)(nil)
	_ transport.PairedLister = (*Driver)(nil)
)

type Driver struct {
	// Peers is replayed by Discover and consulted by ResolveChannel.
	Peers transport.PeerTable
	// ListenHost is the interface inbound listeners bind to.
	ListenHost string
	// DialTimeout bounds each outbound connection attempt. Zero leaves
	// only the context deadline.
	DialTimeout time.Duration
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

func (d *Driver) Dial(ctx context.Context, address string, channel int) (transport.Conn, error) {
	dialer := &net.Dialer{Timeout: d.DialTimeout}
	c, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(channel)))
	if err != nil {
		return nil, err
	}
	return &conn{Conn: c, address: address}, nil
}

// Listen binds the fixed channel as a port, or an ephemeral port when the
// options carry a service UUID.
func (d *Driver) Listen(_ context.Context, opts transport.ListenOptions) (transport.Listener, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", net.JoinHostPort(d.ListenHost, strconv.Itoa(opts.Channel)))
	if err != nil {
		return nil, err
	}
	return &Listener{listener: l}, nil
}

// Listener wraps a TCP listener that hands out one connection at a time.
type Listener struct {
	listener net.Listener
	once     sync.Once
	closed   bool
	mu       sync.Mutex
}

// Channel returns the bound port.
func (l *Listener) Channel() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	c, err := l.listener.Accept()
	if err != nil {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if closed || errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrListenerClosed
		}
		return nil, err
	}
	host, _, splitErr := net.SplitHostPort(c.RemoteAddr().String())
	if splitErr != nil {
		host = c.RemoteAddr().String()
	}
	return &conn{Conn: c, address: host}, nil
}

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		err = l.listener.Close()
	})
	return err
}

type conn struct {
	net.Conn
	address string
}

func (c *conn) RemoteAddress() string { return c.address }
