package rfcomm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/The-Promised-Neverland/rfcomm-mitm/internal/transport"
)

func TestParseAddressRoundTrip(t *testing.T) {
	addr, err := parseAddress("00:1D:A5:68:98:8B")
	require.NoError(t, err)
	assert.Equal(t, [6]uint8{0x8b, 0x98, 0x68, 0xa5, 0x1d, 0x00}, addr)
	assert.Equal(t, "00:1D:A5:68:98:8B", formatAddress(addr))
}

func TestParseAddressRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "00:11", "zz:zz:zz:zz:zz:zz", "00:11:22:33:44:555"} {
		_, err := parseAddress(s)
		assert.Error(t, err, s)
	}
}

func TestResolveChannelFromTable(t *testing.T) {
	table, err := transport.ParsePeerTable("00:1D:A5:68:98:8B|OBDII|1")
	require.NoError(t, err)
	d := &Driver{Peers: table}
	ch, err := d.ResolveChannel(context.Background(), "00:1d:a5:68:98:8b")
	require.NoError(t, err)
	assert.Equal(t, 1, ch)
}

func TestDialRejectsBadChannel(t *testing.T) {
	for _, ch := range []int{0, -1, 31, 257} {
		_, err := (&Driver{}).Dial(context.Background(), "00:1D:A5:68:98:8B", ch)
		assert.ErrorIs(t, err, ErrInvalidChannel, "channel %d", ch)
	}
}

func TestListenRejectsOutOfRangeChannel(t *testing.T) {
	// 257 would wrap to channel 1 as a uint8.
	for _, ch := range []int{31, 256, 257} {
		_, err := (&Driver{}).Listen(context.Background(), transport.ListenOptions{Channel: ch})
		assert.ErrorIs(t, err, ErrInvalidChannel, "channel %d", ch)
	}
}

func TestCheckChannelBounds(t *testing.T) {
	assert.NoError(t, checkChannel(1))
	assert.NoError(t, checkChannel(maxChannel))
	assert.Error(t, checkChannel(maxChannel+1))
}

func TestPairedDevicesReportsPeerTable(t *testing.T) {
	d := &Driver{Peers: transport.PeerTable{
		{Peer: transport.Peer{Address: "00:1D:A5:68:98:8B", Name: "OBD2"}, Channel: 1},
	}}
	peers, err := d.PairedDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []transport.Peer{{Address: "00:1D:A5:68:98:8B", Name: "OBD2"}}, peers)
}
