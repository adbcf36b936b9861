package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/jsonbsync/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process logger from the log configuration.
//
// With a log file, records are written as JSON to a lumberjack-rotated
// file. Otherwise they go to stderr through tint, coloured only when
// stderr is a terminal. verbose forces the debug level.
func NewLogger(cfg config.Log, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
	}
	if verbose {
		level = slog.LevelDebug
	}

	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		return slog.New(slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: level})), lj, nil
	}

	if stderr == nil {
		stderr = os.Stderr
	}
	w, noColor := stderr, true
	if f, ok := stderr.(*os.File); ok {
		w = colorable.NewColorable(f)
		noColor = !isatty.IsTerminal(f.Fd())
	}
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    noColor,
	})
	return slog.New(handler), nopCloser{}, nil
}
