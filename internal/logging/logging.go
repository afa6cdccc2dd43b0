// Package logging configures the process-wide slog handler and carries the
// request ID through contexts.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Setup installs the default logger. format is "text" or "json".
func Setup(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if level = strings.TrimSpace(level); level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}

	logger := slog.New(&requestIDHandler{Handler: h})
	slog.SetDefault(logger)
	return logger, nil
}
