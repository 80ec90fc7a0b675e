package transport

import (
	"context"
	"sync"
)

// Discovery is the handle for one inquiry round. Peers arrive on Peers in
// the order the radio reports them; the channel is closed when the inquiry
// finishes, which is the only terminal signal. Close releases the handle
// early; after Close the driver stops delivering.
type Discovery struct {
	peers  chan Peer
	done   chan struct{}
	once   sync.Once
	finish sync.Once
	cancel func()
}

// NewDiscovery creates a handle. cancel, when non-nil, is invoked once on
// Close so the driver can abort the radio inquiry.
func NewDiscovery(cancel func()) *Discovery {
	return &Discovery{
		peers:  make(chan Peer),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Peers yields discovered peers until the inquiry finishes.
func (d *Discovery) Peers() <-chan Peer {
	return d.peers
}

// Close stops listening. Safe to call more than once and after Finish.
func (d *Discovery) Close() {
	d.once.Do(func() {
		close(d.done)
		if d.cancel != nil {
			d.cancel()
		}
	})
}

// Found delivers one peer to the consumer. It blocks until the peer is
// received and reports false once the handle was closed or ctx ended.
// Only the driver goroutine that owns the inquiry may call it.
func (d *Discovery) Found(ctx context.Context, p Peer) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.peers <- p:
		return true
	case <-d.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Finish marks the inquiry as complete.
func (d *Discovery) Finish() {
	d.finish.Do(func() { close(d.peers) })
}

// Announce reports a fixed peer list on d from a new goroutine and then
// finishes the inquiry. Drivers without a radio inquiry use it to replay
// their static peer table.
func Announce(ctx context.Context, d *Discovery, peers []Peer) {
	go func() {
		defer d.Finish()
		for _, p := range peers {
			if !d.Found(ctx, p) {
				return
			}
		}
	}()
}
