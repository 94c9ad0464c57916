// Package log configures the global zerolog logger and draws terminal
// progress for interactive commands.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// New builds a logger writing to out. format is auto, console or json; auto
// means console when tty is true.
func New(level, format string, out io.Writer, tty bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch format {
	case "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: !tty}
	case "json":
	case "", "auto":
		if tty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

// Setup replaces the global logger with one writing to stderr.
func Setup(level, format string) error {
	logger, err := New(level, format, os.Stderr, IsTerminal(os.Stderr))
	if err != nil {
		return err
	}
	log.Logger = logger
	zerolog.SetGlobalLevel(logger.GetLevel())
	return nil
}
