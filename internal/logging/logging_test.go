package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePoster struct {
	tags     []string
	messages []map[string]any
}

func (f *fakePoster) Post(tag string, message interface{}) error {
	f.tags = append(f.tags, tag)
	f.messages = append(f.messages, message.(map[string]any))
	return nil
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(Config{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closeFn()

	logger.Info("dropped")
	logger.Warn("kept", "task_id", "T1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "T1", entry["task_id"])
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New(Config{Format: "text"}, &buf)
	require.NoError(t, err)

	logger.Info("server started", "port", 8080)
	assert.Contains(t, buf.String(), "server started")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, _, err := New(Config{Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFluentHandler(t *testing.T) {
	client := &fakePoster{}
	logger := slog.New(NewFluentHandler(client, slog.LevelInfo)).
		With("component", "service").
		WithGroup("req")

	logger.Debug("ignored")
	logger.Error("persist failed", "error", errors.New("disk full"), "task_id", "T1")

	require.Len(t, client.messages, 1)
	assert.Equal(t, "error", client.tags[0])
	msg := client.messages[0]
	assert.Equal(t, "persist failed", msg["message"])
	assert.Equal(t, "service", msg["component"])
	assert.Equal(t, "disk full", msg["req.error"])
	assert.Equal(t, "T1", msg["req.task_id"])
	assert.NotEmpty(t, msg["timestamp"])
}

func TestFanoutRespectsLevels(t *testing.T) {
	var buf bytes.Buffer
	console := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	client := &fakePoster{}
	logger := slog.New(Fanout(console, NewFluentHandler(client, slog.LevelWarn)))

	logger.Debug("debug only to console")
	logger.Warn("to both")

	assert.Len(t, client.messages, 1)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}
