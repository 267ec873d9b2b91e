package logging

import (
	"io"
	"log/slog"
	"os"
)

// Options controls where log records go.
type Options struct {
	Level string
	File  string
	// Interactive drops the stderr writer when a log file is configured so
	// records do not interleave with the terminal prompt.
	Interactive bool
	// Stderr overrides os.Stderr; tests use it to capture output.
	Stderr io.Writer
}

// New creates a *slog.Logger writing JSON records and installs it as the slog
// default. The returned cleanup func closes the log file if one was opened;
// callers must defer it.
func New(opts Options) (*slog.Logger, func(), error) {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	var writers []io.Writer
	cleanup := func() {}

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, f)
		cleanup = func() { _ = f.Close() }
	}
	if !opts.Interactive || len(writers) == 0 {
		writers = append(writers, stderr)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{Level: parseLevel(opts.Level)})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, cleanup, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
