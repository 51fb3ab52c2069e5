// Package logging builds the service *slog.Logger: a console handler
// (tint or JSON) optionally fanned out to Fluent Bit.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/lmittmann/tint"
)

type FluentConfig struct {
	Enabled   bool
	Host      string
	Port      int
	TagPrefix string
}

type Config struct {
	Level  string
	Format string // text or json
	Fluent FluentConfig
}

// ParseLevel maps debug, info, warn and error; anything else is info.
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

// New returns the logger and a function that flushes and closes the
// Fluent connection, if any.
func New(cfg Config, w io.Writer) (*slog.Logger, func() error, error) {
	level := ParseLevel(cfg.Level)

	var console slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		console = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	case "json":
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	closeFn := func() error { return nil }
	if !cfg.Fluent.Enabled {
		return slog.New(console), closeFn, nil
	}

	client, err := fluent.New(fluent.Config{
		FluentHost: cfg.Fluent.Host,
		FluentPort: cfg.Fluent.Port,
		TagPrefix:  cfg.Fluent.TagPrefix,
		Async:      true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create fluent client: %w", err)
	}
	handler := Fanout(console, NewFluentHandler(client, level))
	return slog.New(handler), client.Close, nil
}
