package logger

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestInitSetsLevel(t *testing.T) {
	Init(filepath.Join(t.TempDir(), "relay.log"), slog.LevelWarn)
	assert.Equal(t, slog.LevelWarn, Level.Level())
	assert.NotNil(t, Log)
	Level.Set(slog.LevelDebug)
	assert.True(t, Log.Enabled(context.Background(), slog.LevelDebug))
}
