package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenOptionsNormalize(t *testing.T) {
	opts, err := ListenOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceUUID, opts.UUID)

	opts, err = ListenOptions{Channel: 3}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 3, opts.Channel)
	assert.Empty(t, opts.UUID)

	_, err = ListenOptions{Channel: 3, UUID: "1101"}.Normalize()
	assert.ErrorIs(t, err, ErrAmbiguousListen)

	_, err = ListenOptions{Channel: -1}.Normalize()
	assert.Error(t, err)
}

func TestParsePeerTable(t *testing.T) {
	table, err := ParsePeerTable("AA:BB|OBD2-Reader|1, CC:DD|Printer ,EE:FF")
	require.NoError(t, err)
	require.Len(t, table, 3)
	assert.Equal(t, StaticPeer{Peer: Peer{Address: "AA:BB", Name: "OBD2-Reader"}, Channel: 1}, table[0])
	assert.Equal(t, "Printer", table[1].Name)
	assert.Zero(t, table[2].Channel)

	ch, err := table.Channel("aa:bb")
	require.NoError(t, err)
	assert.Equal(t, 1, ch)

	_, err = table.Channel("CC:DD")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ParsePeerTable("AA|x|notanumber")
	assert.Error(t, err)
	_, err = ParsePeerTable("|name")
	assert.Error(t, err)

	empty, err := ParsePeerTable("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestAnnounceDeliversInOrderThenFinishes(t *testing.T) {
	d := NewDiscovery(nil)
	peers := []Peer{{Address: "1"}, {Address: "2"}, {Address: "1"}}
	Announce(context.Background(), d, peers)

	var got []Peer
	for p := range d.Peers() {
		got = append(got, p)
	}
	assert.Equal(t, peers, got)
}

func TestDiscoveryCloseStopsDelivery(t *testing.T) {
	cancelled := make(chan struct{})
	d := NewDiscovery(func() { close(cancelled) })
	Announce(context.Background(), d, []Peer{{Address: "1"}, {Address: "2"}})

	first := <-d.Peers()
	assert.Equal(t, "1", first.Address)
	d.Close()
	d.Close()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("cancel func not invoked")
	}
	assert.False(t, d.Found(context.Background(), Peer{Address: "3"}))
}
