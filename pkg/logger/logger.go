package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is usable before Init; it starts as the slog default.
var Log = slog.Default()

// Level can be changed at runtime, e.g. by the config watcher.
var Level = new(slog.LevelVar)

func Init(logFilePath string, level slog.Level) {
	Level.Set(level)
	var writer io.Writer = os.Stdout
	if logFilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    10, // MB
			MaxBackups: 0,  // only one file
			MaxAge:     0,  // ignore age
			Compress:   false,
		}
		writer = io.MultiWriter(os.Stdout, rotator)
	}
	Log = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: Level}))
	slog.SetDefault(Log)
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
