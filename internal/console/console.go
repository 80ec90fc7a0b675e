// Package console prints the proxy mode diagnostic stream: relayed data,
// connection changes and errors.
package console

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/fatih/color"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/relay"
	"github.com/The-Promised-Neverland/rfcomm-mitm/pkg/escape"
)

// Console is a relay.Observer.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	dataLog atomic.Bool

	host  *color.Color
	slave *color.Color
	info  *color.Color
	fail  *color.Color
}

func New(out io.Writer, dataLog bool) *Console {
	c := &Console{
		out:   out,
		host:  color.New(color.FgCyan),
		slave: color.New(color.FgGreen),
		info:  color.New(color.FgYellow),
		fail:  color.New(color.FgRed, color.Bold),
	}
	c.dataLog.Store(dataLog)
	return c
}

// DisableColor prints plain text regardless of the terminal.
func (c *Console) DisableColor() {
	for _, col := range []*color.Color{c.host, c.slave, c.info, c.fail} {
		col.DisableColor()
	}
}

// SetDataLog turns printing of relayed data on or off.
func (c *Console) SetDataLog(on bool) {
	c.dataLog.Store(on)
}

func (c *Console) DataLog() bool {
	return c.dataLog.Load()
}

func (c *Console) OnEvent(ev relay.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Condition {
	case relay.CondData:
		if !c.dataLog.Load() {
			return
		}
		if ev.Link == relay.Client {
			c.host.Fprintf(c.out, "host : %s\n", escape.Bytes(ev.Data))
		} else {
			c.slave.Fprintf(c.out, "slave: %s\n", escape.Bytes(ev.Data))
		}
	case relay.CondConnected:
		c.info.Fprintf(c.out, "Connected to %s %s\n", ev.Peer.Address, ev.Peer.Name)
	case relay.CondNewClient:
		c.info.Fprintf(c.out, "New connection: %s\n", ev.Peer.Address)
	case relay.CondDisconnect:
		c.info.Fprintf(c.out, "%s disconnected\n", ev.Link)
	case relay.CondError, relay.CondFailure:
		if ev.Err != nil {
			c.fail.Fprintf(c.out, "%s %s: %v\n", ev.Link, ev.Condition, ev.Err)
		} else {
			c.fail.Fprintf(c.out, "%s %s\n", ev.Link, ev.Condition)
		}
	}
}
