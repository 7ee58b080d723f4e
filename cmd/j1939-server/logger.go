package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/kstaniek/go-j1939-server/internal/logging"
)

// setupLogger installs the global logger. When path is set, output goes to a
// size-rotated file and the returned closer must be closed on exit.
func setupLogger(format, level, path string) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if path != "" {
		fw := logging.NewFileWriter(path, logging.DefaultRotation)
		w, closer = fw, fw
	}
	l := logging.New(format, lvl, w).With("app", "j1939-server")
	logging.Set(l)
	return l, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
