package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFormatErrors(t *testing.T) {
	cases := []struct {
		frame string
		msg   string
	}{
		{`not json`, "invalid json"},
		{`"hello"`, "expected json object"},
		{`[1,2]`, "expected json object"},
		{`{}`, `expected string key named "type"`},
		{`{"type":7}`, `expected string key named "type"`},
		{`{"type":"reboot"}`, "message type not recognized"},
		{`{"type":"autoconnect","query":1}`, `expected key named "query" to be string or undefined`},
		{`{"type":"connect","address":false}`, `expected key named "address" to be string or undefined`},
		{`{"type":"connect","channel":true}`, `expected key named "channel" to be string, number, or undefined`},
		{`{"type":"connect","channel":"one"}`, `expected key named "channel" to be a whole number`},
		{`{"type":"connect","channel":1.5}`, `expected key named "channel" to be a whole number`},
		{`{"type":"write"}`, `expected string key named "data"`},
		{`{"type":"write","data":65}`, `expected string key named "data"`},
	}
	for _, tc := range cases {
		t.Run(tc.frame, func(t *testing.T) {
			_, err := Decode([]byte(tc.frame))
			var ferr *ProtocolFormatError
			require.ErrorAs(t, err, &ferr)
			assert.Equal(t, tc.msg, ferr.Msg)
		})
	}
}

func TestDecodeCommands(t *testing.T) {
	cmd, err := Decode([]byte(`{"type":"inquire"}`))
	require.NoError(t, err)
	assert.Equal(t, "inquire", cmd.Type)

	cmd, err = Decode([]byte(`{"type":"autoconnect"}`))
	require.NoError(t, err)
	assert.Equal(t, "", cmd.Query)

	cmd, err = Decode([]byte(`{"type":"autoconnect","query":"obd"}`))
	require.NoError(t, err)
	assert.Equal(t, "obd", cmd.Query)

	cmd, err = Decode([]byte(`{"type":"connect","address":"AA:BB","channel":"3"}`))
	require.NoError(t, err)
	assert.Equal(t, "AA:BB", cmd.Address)
	require.NotNil(t, cmd.Channel)
	assert.Equal(t, 3, *cmd.Channel)

	cmd, err = Decode([]byte(`{"type":"connect","channel":5}`))
	require.NoError(t, err)
	assert.Equal(t, 5, *cmd.Channel)

	cmd, err = Decode([]byte(`{"type":"connect"}`))
	require.NoError(t, err)
	assert.Nil(t, cmd.Channel)

	cmd, err = Decode([]byte(`{"type":"write","data":"ATZ\r"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x41, 0x54, 0x5A, 0x0D}, []byte(cmd.Data))

	cmd, err = Decode([]byte(`{"type":"disconnect","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, "disconnect", cmd.Type)
}
