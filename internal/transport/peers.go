package transport

import (
	"fmt"
	"strconv"
	"strings"
)

// StaticPeer is an entry in a driver's known-peer table.
type StaticPeer struct {
	Peer
	// Channel is the serial port channel, zero when unknown.
	Channel int
}

// PeerTable is the static peer list used by drivers that cannot run a
// radio inquiry or SDP lookup.
type PeerTable []StaticPeer

// ParsePeerTable parses "address|name|channel" entries separated by commas.
// Name and channel are optional: "AA:BB:CC:DD:EE:FF|OBD2|1,11:22:33:44:55:66".
func ParsePeerTable(s string) (PeerTable, error) {
	var table PeerTable
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) > 3 {
			return nil, fmt.Errorf("peer entry %q: too many fields", entry)
		}
		p := StaticPeer{Peer: Peer{Address: strings.TrimSpace(parts[0])}}
		if p.Address == "" {
			return nil, fmt.Errorf("peer entry %q: empty address", entry)
		}
		if len(parts) > 1 {
			p.Name = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 && strings.TrimSpace(parts[2]) != "" {
			ch, err := strconv.Atoi(strings.TrimSpace(parts[2]))
			if err != nil || ch <= 0 {
				return nil, fmt.Errorf("peer entry %q: invalid channel", entry)
			}
			p.Channel = ch
		}
		table = append(table, p)
	}
	return table, nil
}

// Peers returns the discovery view of the table.
func (t PeerTable) Peers() []Peer {
	peers := make([]Peer, 0, len(t))
	for _, p := range t {
		peers = append(peers, p.Peer)
	}
	return peers
}

// Channel looks up the serial port channel for address.
func (t PeerTable) Channel(address string) (int, error) {
	for _, p := range t {
		if strings.EqualFold(p.Address, address) && p.Channel > 0 {
			return p.Channel, nil
		}
	}
	return 0, fmt.Errorf("%s: %w", address, ErrNotFound)
}
