package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogLevelMapping(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for name, want := range cases {
		require.Equal(t, want, logLevel(&Config{LogLevel: name}), name)
	}
	require.Equal(t, slog.LevelInfo, logLevel(nil))
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	quiet := NewLogger(&Config{LogLevel: "error"})
	require.False(t, quiet.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, quiet.Enabled(context.Background(), slog.LevelError))

	chatty := NewLogger(&Config{LogLevel: "debug"})
	require.True(t, chatty.Enabled(context.Background(), slog.LevelDebug))
}
