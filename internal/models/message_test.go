package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageString(t *testing.T) {
	m := NewMessage("client.data").With("data", `ATZ\r`)
	assert.Equal(t, "client.data", m.Type())
	assert.JSONEq(t, `{"type":"client.data","data":"ATZ\\r"}`, m.String())
}

func TestReplies(t *testing.T) {
	assert.JSONEq(t, `{"type":"formaterror","msg":"invalid json"}`, FormatError("invalid json").String())
	assert.JSONEq(t, `{"type":"error","error":"boom"}`, Error(errors.New("boom")).String())
}
