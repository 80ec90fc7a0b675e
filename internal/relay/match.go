package relay

import (
	"context"
	"strings"
	"unicode"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
)

// Normalize drops every character outside [A-Za-z0-9_] and lowercases the
// rest, so "OBD-II" and "obdii" compare equal.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < unicode.MaxASCII && (r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// Matches reports whether peer satisfies query. An empty query matches
// every peer; otherwise the normalized query must appear in the normalized
// address or name.
func Matches(query string, peer transport.Peer) bool {
	q := Normalize(query)
	if q == "" {
		return true
	}
	return strings.Contains(Normalize(peer.Address), q) || strings.Contains(Normalize(peer.Name), q)
}

// MatchIndex returns the index of the first matching peer, or -1.
func MatchIndex(query string, peers []transport.Peer) int {
	for i, p := range peers {
		if Matches(query, p) {
			return i
		}
	}
	return -1
}

// FirstMatch consumes disc until a peer matches query or the inquiry
// finishes. onFound, if set, sees every peer before it is tested. The
// handle is always closed on return.
func FirstMatch(ctx context.Context, disc *transport.Discovery, query string, onFound func(transport.Peer)) (transport.Peer, error) {
	defer disc.Close()
	for {
		select {
		case p, ok := <-disc.Peers():
			if !ok {
				return transport.Peer{}, &NoMatchError{Query: query}
			}
			if onFound != nil {
				onFound(p)
			}
			if Matches(query, p) {
				return p, nil
			}
		case <-ctx.Done():
			return transport.Peer{}, ctx.Err()
		}
	}
}
