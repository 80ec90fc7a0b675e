//go:build linux

package rfcomm

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/logger"
)

func (d *Driver) Dial(ctx context.Context, address string, channel int) (transport.Conn, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	bdaddr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: socket: %w", err)
	}
	// connect(2) blocks; shutting the socket down is the only way to
	// abort it when ctx ends first.
	stop := context.AfterFunc(ctx, func() { unix.Shutdown(fd, unix.SHUT_RDWR) })
	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: bdaddr, Channel: uint8(channel)})
	stop()
	if err != nil {
		unix.Close(fd)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("rfcomm: connect %s channel %d: %w", address, channel, err)
	}
	return newConn(fd, address)
}

// Listen binds BDADDR_ANY. A service UUID binds channel 0, which lets the
// kernel pick a free channel; advertising the UUID over SDP is left to the
// host Bluetooth daemon.
func (d *Driver) Listen(_ context.Context, opts transport.ListenOptions) (transport.Listener, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	// Channel 0 is only used for UUID binding.
	if opts.Channel != 0 {
		if err := checkChannel(opts.Channel); err != nil {
			return nil, err
		}
	}
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("rfcomm: socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: uint8(opts.Channel)}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: bind %s: %w", opts, err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: listen: %w", err)
	}
	if opts.UUID != "" {
		logger.Log.Info("RFCOMM listener bound", "uuid", opts.UUID, "channel", boundChannel(fd))
	}
	return &listener{fd: fd}, nil
}

func boundChannel(fd int) int {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0
	}
	if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
		return int(rc.Channel)
	}
	return 0
}

type listener struct {
	fd     int
	mu     sync.Mutex
	closed bool
}

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	nfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil, transport.ErrListenerClosed
		}
		return nil, fmt.Errorf("rfcomm: accept: %w", err)
	}
	address := ""
	if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
		address = formatAddress(rc.Addr)
	}
	return newConn(nfd, address)
}

func (l *listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	unix.Shutdown(l.fd, unix.SHUT_RDWR)
	return unix.Close(l.fd)
}

type conn struct {
	*os.File
	address string
}

// newConn hands fd to the runtime poller so Close unblocks pending reads.
func newConn(fd int, address string) (*conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm: set nonblock: %w", err)
	}
	return &conn{File: os.NewFile(uintptr(fd), "rfcomm:"+address), address: address}, nil
}

func (c *conn) RemoteAddress() string { return c.address }
