package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	cfg.writer = output
	l, err := New(&cfg)
	require.NoError(t, err)
	return l, output
}

func TestNew_JSONFormat(t *testing.T) {
	tests := []struct {
		name  string
		level string
		log   func(l *Logger)
		want  map[string]any
		lines int
	}{
		{
			name:  "debug level logs debug",
			level: "debug",
			log:   func(l *Logger) { l.Debug("test debug message", slog.String("key", "value")) },
			want:  map[string]any{"level": "DEBUG", "msg": "test debug message", "key": "value"},
			lines: 1,
		},
		{
			name:  "info level drops debug",
			level: "info",
			log: func(l *Logger) {
				l.Debug("debug message")
				l.Info("info message", slog.String("type", "test"))
			},
			want:  map[string]any{"level": "INFO", "msg": "info message", "type": "test"},
			lines: 1,
		},
		{
			name:  "error level drops warn",
			level: "error",
			log: func(l *Logger) {
				l.Warn("warn message")
				l.Error("error message", slog.String("code", "500"))
			},
			want:  map[string]any{"level": "ERROR", "msg": "error message", "code": "500"},
			lines: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, output := newTestLogger(t, Config{
				Level:      tt.level,
				Format:     "json",
				TimeFormat: time.RFC3339,
			})

			tt.log(l)

			lines := strings.Split(strings.TrimSpace(output.String()), "\n")
			require.Len(t, lines, tt.lines)

			var entry map[string]any
			require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
			for k, v := range tt.want {
				assert.Equal(t, v, entry[k])
			}
			assert.Contains(t, entry, "time")
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	l, output := newTestLogger(t, Config{Level: "info", Format: "console"})

	l.Info("console test")

	// tint renders "INF" rather than "INFO"
	assert.Contains(t, output.String(), "INF")
	assert.Contains(t, output.String(), "console test")
}

func TestNew_WithSource(t *testing.T) {
	l, output := newTestLogger(t, Config{Level: "info", Format: "json", EnableSource: true})

	l.Info("message with source")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Contains(t, entry, "source")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func TestLogger_With(t *testing.T) {
	l, output := newTestLogger(t, Config{Level: "info", Format: "json"})

	l.With(slog.String("service", "api")).Info("operation complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "operation complete", entry["msg"])
}

func TestLogger_WithGroup(t *testing.T) {
	l, output := newTestLogger(t, Config{Level: "info", Format: "json"})

	l.WithGroup("queue").Info("claimed", slog.String("name", "enrichment"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	group, ok := entry["queue"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "enrichment", group["name"])
}

func TestNewDefault(t *testing.T) {
	l := NewDefault()
	require.NotNil(t, l)
	assert.NotNil(t, l.Logger)
}
