// Package relay is the man-in-the-middle engine. It owns one outbound link
// (client, towards the slave device) and one inbound link (server, where the
// master connects) and copies every byte read on one link to the other.
//
// All link state lives behind the engine mutex. Each open link has exactly
// one read loop; a chunk read on a link is published and forwarded before
// the next read, so relayed data keeps arrival order and never interleaves.
// At most one discovery and one connect attempt per link run at a time;
// extra callers get ErrBusy instead of queueing.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

const readBufferSize = 4096

type link struct {
	id       LinkID
	state    State
	peer     string
	channel  int
	conn     transport.Conn
	listener transport.Listener
	// busy is set while a connect or listen call owns the link.
	busy bool
	// gen changes on every reset so stale goroutines can tell they lost
	// the link.
	gen     uint64
	writeMu sync.Mutex
}

// LinkStatus is a read-only view of one link.
type LinkStatus struct {
	State   string `json:"state"`
	Peer    string `json:"peer,omitempty"`
	Channel int    `json:"channel,omitempty"`
}

// Snapshot is a read-only view of the engine.
type Snapshot struct {
	Client      LinkStatus `json:"client"`
	Server      LinkStatus `json:"server"`
	Discovering bool       `json:"discovering"`
}

type Engine struct {
	driver transport.Driver

	mu           sync.Mutex
	client       *link
	server       *link
	discovering  bool
	discoverySeq uint64
	lastAddress  string
	lastChannel  int
	// session is cancelled by Close so pending operations give up.
	session       context.Context
	cancelSession context.CancelFunc
	// clientOnly disables forwarding for engines that never open the
	// server link.
	clientOnly atomic.Bool

	observersMu sync.RWMutex
	observers   []Observer
}

func New(driver transport.Driver) *Engine {
	e := &Engine{
		driver: driver,
		client: &link{id: Client},
		server: &link{id: Server},
	}
	e.session, e.cancelSession = context.WithCancel(context.Background())
	return e
}

// SetClientOnly stops data read on the client link from being forwarded.
// Data events are still emitted.
func (e *Engine) SetClientOnly(on bool) {
	e.clientOnly.Store(on)
}

// Observe registers o for every future event.
func (e *Engine) Observe(o Observer) {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) emit(ev Event) {
	e.observersMu.RLock()
	observers := e.observers
	e.observersMu.RUnlock()
	for _, o := range observers {
		o.OnEvent(ev)
	}
}

func (e *Engine) debugf(id LinkID, format string, args ...any) {
	detail := fmt.Sprintf(format, args...)
	logger.Log.Debug(detail, "link", id.String())
	e.emit(Event{Link: id, Condition: CondDebug, Detail: detail})
}

func (e *Engine) link(id LinkID) *link {
	if id == Server {
		return e.server
	}
	return e.client
}

// State returns a snapshot of both links.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := func(l *link) LinkStatus {
		return LinkStatus{State: l.state.String(), Peer: l.peer, Channel: l.channel}
	}
	return Snapshot{Client: status(e.client), Server: status(e.server), Discovering: e.discovering}
}

// LinkState returns the current state of one link.
func (e *Engine) LinkState(id LinkID) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.link(id).state
}

// withSession derives a context that also ends when the engine is reset.
// Callers must hold e.mu.
func (e *Engine) withSession(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.session, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// resetErr maps a cancellation caused by Close to ErrClosed.
func (e *Engine) resetErr(session context.Context, err error) error {
	if session.Err() != nil && errors.Is(err, context.Canceled) {
		return ErrClosed
	}
	return err
}

func (e *Engine) beginDiscovery() (uint64, error) {
	if e.discovering {
		return 0, fmt.Errorf("discovery: %w", ErrBusy)
	}
	e.discovering = true
	e.discoverySeq++
	return e.discoverySeq, nil
}

func (e *Engine) endDiscovery(seq uint64) {
	if e.discoverySeq == seq {
		e.discovering = false
		if e.client.state == Discovering {
			e.client.state = Idle
		}
	}
}

// Inquire runs one discovery round and returns every peer reported, in
// arrival order, duplicates included.
func (e *Engine) Inquire(ctx context.Context) ([]transport.Peer, error) {
	e.mu.Lock()
	seq, err := e.beginDiscovery()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if e.client.state == Idle || e.client.state == Closed {
		e.client.state = Discovering
	}
	session := e.session
	ctx, cancel := e.withSession(ctx)
	e.mu.Unlock()
	defer cancel()
	defer func() {
		e.mu.Lock()
		e.endDiscovery(seq)
		e.mu.Unlock()
	}()

	disc, err := e.driver.Discover(ctx)
	if err != nil {
		return nil, &TransportError{Op: "inquire", Link: Client, Err: err}
	}
	defer disc.Close()

	peers := []transport.Peer{}
	for {
		select {
		case p, ok := <-disc.Peers():
			if !ok {
				e.emit(Event{Link: Client, Condition: CondFinished})
				logger.Log.Info("Inquiry finished", "peers", len(peers))
				return peers, nil
			}
			peers = append(peers, p)
			e.emit(Event{Link: Client, Condition: CondFound, Peer: p})
		case <-ctx.Done():
			return peers, e.resetErr(session, ctx.Err())
		}
	}
}

// PairedDevices lists the devices the host is paired with. It does not
// touch link state and may run alongside discovery.
func (e *Engine) PairedDevices(ctx context.Context) ([]transport.Peer, error) {
	lister, ok := e.driver.(transport.PairedLister)
	if !ok {
		return nil, transport.ErrUnsupported
	}
	e.mu.Lock()
	ctx, cancel := e.withSession(ctx)
	session := e.session
	e.mu.Unlock()
	defer cancel()

	peers, err := lister.PairedDevices(ctx)
	if err != nil {
		if session.Err() != nil {
			return nil, ErrClosed
		}
		return nil, &TransportError{Op: "list paired devices", Link: Client, Err: err}
	}
	if peers == nil {
		peers = []transport.Peer{}
	}
	return peers, nil
}

// beginConnect claims the client link. Callers must hold e.mu.
func (e *Engine) beginConnect() (uint64, error) {
	l := e.client
	if l.busy {
		return 0, fmt.Errorf("connect: %w", ErrBusy)
	}
	if l.state == Open {
		return 0, fmt.Errorf("connect: %w", ErrLinkOpen)
	}
	l.busy = true
	return l.gen, nil
}

// abortConnect releases the client link after a failed attempt.
func (e *Engine) abortConnect(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.client
	if l.gen != gen {
		return
	}
	l.busy = false
	if l.state == Discovering || l.state == Connecting {
		l.state = Idle
	}
}

// Autoconnect discovers peers and connects to the first one matching
// query. It returns once the client link is open.
func (e *Engine) Autoconnect(ctx context.Context, query string) error {
	e.mu.Lock()
	gen, err := e.beginConnect()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	seq, err := e.beginDiscovery()
	if err != nil {
		e.client.busy = false
		e.mu.Unlock()
		return err
	}
	e.client.state = Discovering
	session := e.session
	ctx, cancel := e.withSession(ctx)
	e.mu.Unlock()
	defer cancel()

	endDiscovery := func() {
		e.mu.Lock()
		e.endDiscovery(seq)
		e.mu.Unlock()
	}

	disc, err := e.driver.Discover(ctx)
	if err != nil {
		endDiscovery()
		e.abortConnect(gen)
		return &TransportError{Op: "autoconnect", Link: Client, Err: err}
	}
	peer, err := FirstMatch(ctx, disc, query, func(p transport.Peer) {
		e.emit(Event{Link: Client, Condition: CondFound, Peer: p})
	})
	endDiscovery()
	if err != nil {
		var noMatch *NoMatchError
		if errors.As(err, &noMatch) {
			e.emit(Event{Link: Client, Condition: CondFinished})
		}
		e.abortConnect(gen)
		return e.resetErr(session, err)
	}
	logger.Log.Info("Autoconnect matched peer", "query", query, "address", peer.Address, "name", peer.Name)

	channel, err := e.resolveChannel(ctx, peer.Address)
	if err != nil {
		e.abortConnect(gen)
		return e.resetErr(session, err)
	}
	return e.dial(ctx, session, gen, peer, channel)
}

// Connect opens the client link to address. A nil channel is looked up via
// the driver first. An empty address reuses the last connected peer.
func (e *Engine) Connect(ctx context.Context, address string, channel *int) error {
	if channel != nil && *channel <= 0 {
		return fmt.Errorf("connect: invalid channel %d", *channel)
	}
	e.mu.Lock()
	if address == "" {
		address = e.lastAddress
		if channel == nil && e.lastChannel > 0 {
			last := e.lastChannel
			channel = &last
		}
	}
	if address == "" {
		e.mu.Unlock()
		return ErrNoAddress
	}
	gen, err := e.beginConnect()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	session := e.session
	ctx, cancel := e.withSession(ctx)
	e.mu.Unlock()
	defer cancel()

	var ch int
	if channel != nil {
		ch = *channel
	} else {
		ch, err = e.resolveChannel(ctx, address)
		if err != nil {
			e.abortConnect(gen)
			return e.resetErr(session, err)
		}
	}
	return e.dial(ctx, session, gen, transport.Peer{Address: address}, ch)
}

func (e *Engine) resolveChannel(ctx context.Context, address string) (int, error) {
	e.debugf(Client, "resolving serial port channel for %s", address)
	channel, err := e.driver.ResolveChannel(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &ChannelResolutionError{Address: address, Err: err}
	}
	e.debugf(Client, "serial port channel for %s is %d", address, channel)
	return channel, nil
}

func (e *Engine) dial(ctx, session context.Context, gen uint64, peer transport.Peer, channel int) error {
	e.mu.Lock()
	if e.client.gen != gen {
		e.mu.Unlock()
		return ErrClosed
	}
	e.client.state = Connecting
	e.mu.Unlock()

	conn, err := e.driver.Dial(ctx, peer.Address, channel)
	if err != nil {
		e.abortConnect(gen)
		err = e.resetErr(session, err)
		if errors.Is(err, ErrClosed) {
			return err
		}
		e.emit(Event{Link: Client, Condition: CondFailure, Err: err})
		return &TransportError{Op: "connect", Link: Client, Err: err}
	}
	if err := e.attach(Client, gen, conn, channel); err != nil {
		return err
	}
	logger.Log.Info("Client link open", "address", peer.Address, "channel", channel)
	e.emit(Event{Link: Client, Condition: CondConnected, Peer: peer})
	return nil
}

// attach installs conn on a link claimed under gen and starts its read
// loop. conn is closed if the link was reset in the meantime.
func (e *Engine) attach(id LinkID, gen uint64, conn transport.Conn, channel int) error {
	e.mu.Lock()
	l := e.link(id)
	if l.gen != gen {
		e.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	l.conn = conn
	l.state = Open
	l.busy = false
	l.peer = conn.RemoteAddress()
	if id == Client {
		l.channel = channel
		e.lastAddress = l.peer
		e.lastChannel = channel
	}
	e.mu.Unlock()
	go e.readLoop(id, gen, conn)
	return nil
}

// Listen waits for a master to connect to the server link and returns its
// address.
func (e *Engine) Listen(ctx context.Context, opts transport.ListenOptions) (string, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	l := e.server
	if l.busy {
		e.mu.Unlock()
		return "", fmt.Errorf("listen: %w", ErrBusy)
	}
	if l.state == Open {
		e.mu.Unlock()
		return "", fmt.Errorf("listen: %w", ErrLinkOpen)
	}
	l.busy = true
	l.state = Connecting
	gen := l.gen
	session := e.session
	ctx, cancel := e.withSession(ctx)
	e.mu.Unlock()
	defer cancel()

	release := func() {
		e.mu.Lock()
		if l.gen == gen {
			l.busy = false
			l.listener = nil
			if l.state == Connecting {
				l.state = Idle
			}
		}
		e.mu.Unlock()
	}

	listener, err := e.driver.Listen(ctx, opts)
	if err != nil {
		release()
		e.emit(Event{Link: Server, Condition: CondFailure, Err: err})
		return "", &TransportError{Op: "listen", Link: Server, Err: err}
	}
	e.mu.Lock()
	if l.gen != gen {
		e.mu.Unlock()
		listener.Close()
		return "", ErrClosed
	}
	l.listener = listener
	e.mu.Unlock()
	if bound, ok := listener.(interface{ Channel() int }); ok {
		e.debugf(Server, "listening on %s, channel %d", opts, bound.Channel())
	} else {
		e.debugf(Server, "listening on %s", opts)
	}

	conn, err := listener.Accept(ctx)
	listener.Close()
	if err != nil {
		release()
		err = e.resetErr(session, err)
		if errors.Is(err, transport.ErrListenerClosed) || errors.Is(err, ErrClosed) {
			return "", ErrClosed
		}
		if ctx.Err() != nil {
			return "", err
		}
		return "", &TransportError{Op: "accept", Link: Server, Err: err}
	}
	e.mu.Lock()
	l.listener = nil
	e.mu.Unlock()
	if err := e.attach(Server, gen, conn, 0); err != nil {
		return "", err
	}
	address := conn.RemoteAddress()
	logger.Log.Info("Master connected to server link", "address", address)
	e.emit(Event{Link: Server, Condition: CondNewClient, Peer: transport.Peer{Address: address}})
	return address, nil
}

// Write sends data on a link. It never changes link state, even on error.
func (e *Engine) Write(id LinkID, data []byte) error {
	e.mu.Lock()
	l := e.link(id)
	conn := l.conn
	open := l.state == Open && conn != nil
	e.mu.Unlock()
	if !open {
		return fmt.Errorf("%s: %w", id, ErrLinkNotOpen)
	}
	l.writeMu.Lock()
	n, err := conn.Write(data)
	l.writeMu.Unlock()
	if n < len(data) && (err == nil || errors.Is(err, io.ErrShortWrite)) {
		return &ShortWriteError{Link: id, Written: n, Expected: len(data)}
	}
	if err != nil {
		return &TransportError{Op: "write", Link: id, Err: err}
	}
	return nil
}

func (e *Engine) readLoop(id LinkID, gen uint64, conn transport.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if !e.current(id, gen) {
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			e.emit(Event{Link: id, Condition: CondData, Data: data})
			e.forward(id, data)
		}
		if err != nil {
			e.teardown(id, gen, err)
			return
		}
	}
}

func (e *Engine) forward(from LinkID, data []byte) {
	if from == Client && e.clientOnly.Load() {
		return
	}
	target := from.Other()
	if err := e.Write(target, data); err != nil {
		logger.Log.Warn("Relay write failed", "from", from.String(), "to", target.String(), "err", err)
		e.emit(Event{Link: target, Condition: CondError, Err: err})
	}
}

func (e *Engine) current(id LinkID, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.link(id).gen == gen
}

// teardown handles the end of a link's connection as reported by the
// driver. A link already reset by Close is left alone.
func (e *Engine) teardown(id LinkID, gen uint64, cause error) {
	e.mu.Lock()
	l := e.link(id)
	if l.gen != gen {
		e.mu.Unlock()
		return
	}
	l.gen++
	l.state = Closed
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	e.mu.Unlock()

	if !isExpectedClose(cause) {
		logger.Log.Error("Link read failed", "link", id.String(), "err", cause)
		e.emit(Event{Link: id, Condition: CondError, Err: &TransportError{Op: "read", Link: id, Err: cause}})
	}
	logger.Log.Info("Link disconnected", "link", id.String())
	e.emit(Event{Link: id, Condition: CondDisconnect})
	e.emit(Event{Link: id, Condition: CondClosed})
}

// reset returns a link to Idle and reports whether it held a connection or
// listener. Callers must hold e.mu.
func (l *link) reset() bool {
	active := l.conn != nil || l.listener != nil
	if active {
		l.state = Closing
	}
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	if l.listener != nil {
		l.listener.Close()
		l.listener = nil
	}
	l.gen++
	l.busy = false
	l.peer = ""
	l.channel = 0
	l.state = Idle
	return active
}

// DisconnectClient closes only the client link.
func (e *Engine) DisconnectClient() {
	e.mu.Lock()
	active := e.client.reset()
	e.mu.Unlock()
	if active {
		e.emit(Event{Link: Client, Condition: CondClosed})
	}
}

// Close tears down both links and any listener and re-arms the engine.
// Pending operations fail with ErrClosed. Calling Close on an idle engine
// is a no-op.
func (e *Engine) Close() {
	e.mu.Lock()
	e.cancelSession()
	e.session, e.cancelSession = context.WithCancel(context.Background())
	e.discovering = false
	e.discoverySeq++
	clientActive := e.client.reset()
	serverActive := e.server.reset()
	e.mu.Unlock()

	if serverActive {
		e.emit(Event{Link: Server, Condition: CondClosed})
	}
	if clientActive {
		e.emit(Event{Link: Client, Condition: CondClosed})
	}
	if clientActive || serverActive {
		logger.Log.Info("Relay reset")
	}
}

func isExpectedClose(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
