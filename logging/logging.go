// Package logging builds the slog handlers used by the picoforge command
// and keeps a bounded in-memory copy of recent entries.
//
// Protocol packages only ever see a *slog.Logger; nothing outside the
// command imports this package.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config selects the level, format and destinations of log output.
type Config struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	// File, when set, receives a copy of every record in addition to stderr.
	File string `toml:"file" yaml:"file"`
	// Quiet drops stderr output; the file and ring still receive records.
	Quiet    bool `toml:"quiet" yaml:"quiet"`
	RingSize int  `toml:"ring_size" yaml:"ring_size"`
}

func DefaultConfig() Config {
	return Config{
		Level:    "warn",
		Format:   FormatText,
		RingSize: DefaultRingSize,
	}
}

// ParseLevel accepts the slog level names in any case.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("invalid log format %q (want %s or %s)", c.Format, FormatText, FormatJSON)
	}
	if c.RingSize < 0 {
		return errors.New("log ring size must not be negative")
	}
	return nil
}

// Logging is the result of Setup.
type Logging struct {
	Logger *slog.Logger
	Ring   *Ring
	file   *os.File
}

// Close closes the log file, if any.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Setup builds a logger writing to stderr, the configured file and a ring
// of cfg.RingSize entries. The ring records every level down to debug.
func Setup(cfg Config, stderr io.Writer) (*Logging, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	l := &Logging{Ring: NewRing(cfg.RingSize)}
	handlers := []slog.Handler{NewRingHandler(l.Ring, slog.LevelDebug)}
	if !cfg.Quiet {
		handlers = append(handlers, newHandler(stderr, cfg.Format, opts))
	}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		handlers = append(handlers, newHandler(f, cfg.Format, opts))
	}
	l.Logger = slog.New(Tee(handlers...))
	return l, nil
}
