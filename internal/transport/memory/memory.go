// Package memory is an in-process transport driver. Remote devices are
// registered up front and every connection is a net.Pipe, so tests and the
// simulate mode can drive both ends of a relay without a radio.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
)

var (
	_ transport.Driver       = (*Driver)(nil)
	_ transport.PairedLister = (*Driver)(nil)
)

// ErrNoListener is returned by ConnectInbound when nothing is listening.
var ErrNoListener = errors.New("memory: no active listener")

// Remote is a registered device that accepts outbound connections.
type Remote struct {
	Address string
	Name    string
	Channel int

	conns chan net.Conn
}

// Accept returns the device side of the next connection dialed to it.
func (r *Remote) Accept(ctx context.Context) (net.Conn, error) {
	select {
	case c := <-r.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Echo serves every future connection by writing back whatever it reads.
func (r *Remote) Echo(ctx context.Context) {
	go func() {
		for {
			c, err := r.Accept(ctx)
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
}

// Driver is safe for concurrent use.
type Driver struct {
	// DiscoverErr, when set, makes Discover fail.
	DiscoverErr error
	// PairedErr, when set, makes PairedDevices fail.
	PairedErr error
	// WriteLimit truncates every write on dialed and accepted connections
	// to at most this many bytes; zero disables truncation.
	WriteLimit int

	mu          sync.Mutex
	script      []transport.Peer
	paired      []transport.Peer
	remotes     map[string]*Remote
	listener    *listener
	dials       []string
	discoveries int
}

func New() *Driver {
	return &Driver{remotes: make(map[string]*Remote)}
}

// AddRemote registers a device and appends it to the discovery script.
// channel zero means the device has no resolvable serial port channel.
func (d *Driver) AddRemote(address, name string, channel int) *Remote {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := &Remote{Address: address, Name: name, Channel: channel, conns: make(chan net.Conn, 4)}
	d.remotes[address] = r
	d.script = append(d.script, transport.Peer{Address: address, Name: name})
	return r
}

// Script replaces the discovery script. Entries need not be registered
// remotes, and duplicates are reported as given.
func (d *Driver) Script(peers ...transport.Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append([]transport.Peer(nil), peers...)
}

// Pair adds peers to the paired device list. Paired peers need not be
// registered remotes.
func (d *Driver) Pair(peers ...transport.Peer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paired = append(d.paired, peers...)
}

func (d *Driver) PairedDevices(ctx context.Context) ([]transport.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PairedErr != nil {
		return nil, d.PairedErr
	}
	return append([]transport.Peer{}, d.paired...), nil
}

// Dials lists every address passed to Dial, in call order.
func (d *Driver) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

// Discoveries counts Discover calls.
func (d *Driver) Discoveries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.discoveries
}

func (d *Driver) Discover(ctx context.Context) (*transport.Discovery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DiscoverErr != nil {
		return nil, d.DiscoverErr
	}
	d.discoveries++
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	disc := transport.NewDiscovery(cancel)
	transport.Announce(ctx, disc, append([]transport.Peer(nil), d.script...))
	return disc, nil
}

func (d *Driver) ResolveChannel(_ context.Context, address string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.remotes[address]
	if !ok || r.Channel == 0 {
		return 0, fmt.Errorf("%s: %w", address, transport.ErrNotFound)
	}
	return r.Channel, nil
}

func (d *Driver) Dial(ctx context.Context, address string, channel int) (transport.Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, address)
	r, ok := d.remotes[address]
	limit := d.WriteLimit
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memory: host %s is down", address)
	}
	if r.Channel != 0 && channel != r.Channel {
		return nil, fmt.Errorf("memory: %s refused channel %d", address, channel)
	}
	local, remote := net.Pipe()
	select {
	case r.conns <- remote:
	case <-ctx.Done():
		local.Close()
		remote.Close()
		return nil, ctx.Err()
	}
	return &conn{Conn: local, address: address, limit: limit}, nil
}

func (d *Driver) Listen(_ context.Context, opts transport.ListenOptions) (transport.Listener, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil && !d.listener.isClosed() {
		return nil, errors.New("memory: address already in use")
	}
	d.listener = &listener{
		opts:    opts,
		pending: make(chan transport.Conn, 1),
		closed:  make(chan struct{}),
		limit:   d.WriteLimit,
	}
	return d.listener, nil
}

// ConnectInbound simulates a master connecting to the active listener from
// address. It returns the master's end of the connection.
func (d *Driver) ConnectInbound(address string) (net.Conn, error) {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()
	if l == nil || l.isClosed() {
		return nil, ErrNoListener
	}
	local, remote := net.Pipe()
	select {
	case l.pending <- &conn{Conn: local, address: address, limit: l.limit}:
		return remote, nil
	case <-l.closed:
		local.Close()
		remote.Close()
		return nil, ErrNoListener
	}
}

// Listening reports whether a listener is open, and its options.
func (d *Driver) Listening() (transport.ListenOptions, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil || d.listener.isClosed() {
		return transport.ListenOptions{}, false
	}
	return d.listener.opts, true
}

type listener struct {
	opts    transport.ListenOptions
	pending chan transport.Conn
	closed  chan struct{}
	once    sync.Once
	limit   int
}

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case c := <-l.pending:
		return c, nil
	case <-l.closed:
		return nil, transport.ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *listener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

type conn struct {
	net.Conn
	address string
	limit   int
}

func (c *conn) RemoteAddress() string { return c.address }

func (c *conn) Write(p []byte) (int, error) {
	if c.limit > 0 && len(p) > c.limit {
		return c.Conn.Write(p[:c.limit])
	}
	return c.Conn.Write(p)
}
