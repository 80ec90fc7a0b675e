package relay

import (
	"errors"
	"fmt"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
)

var (
	ErrBusy            = errors.New("operation already in progress")
	ErrLinkOpen        = errors.New("link already open")
	ErrLinkNotOpen     = errors.New("link not open")
	ErrNoAddress       = errors.New("no address to connect to")
	ErrClosed          = errors.New("relay was reset")
	ErrAmbiguousListen = transport.ErrAmbiguousListen
)

// TransportError is a driver-reported I/O or link failure.
type TransportError struct {
	Op   string
	Link LinkID
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Link, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ChannelResolutionError means no serial port channel could be found for
// Address. The connect attempt is abandoned.
type ChannelResolutionError struct {
	Address string
	Err     error
}

func (e *ChannelResolutionError) Error() string {
	return fmt.Sprintf("unable to find serial port channel for %s: %v", e.Address, e.Err)
}

func (e *ChannelResolutionError) Unwrap() error { return e.Err }

// NoMatchError is returned by Autoconnect when discovery finished without
// a peer matching Query.
type NoMatchError struct {
	Query string
}

func (e *NoMatchError) Error() string {
	if e.Query == "" {
		return "no devices found to autoconnect to"
	}
	return fmt.Sprintf("no matching devices found to autoconnect to (query %q)", e.Query)
}

// ShortWriteError reports a write the transport only partly accepted. The
// link stays open.
type ShortWriteError struct {
	Link     LinkID
	Written  int
	Expected int
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("unable to write full message to %s: wrote %d of %d bytes", e.Link, e.Written, e.Expected)
}
