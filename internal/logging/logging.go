// Package logging sets up the zerolog logger shared by every component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/fieldbus/modbus-cli/internal/apperr"
)

type Options struct {
	// log at debug level instead of warn
	Verbose bool
	// mirror JSON lines to this file, if not empty
	File string
	// defaults to os.Stderr
	Stderr io.Writer
}

// Logger is the process logger plus the file it may be mirroring to.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Returns a new logger writing to stderr, in human readable form if stderr
// is a terminal and as JSON lines otherwise.
func New(opts Options) (l *Logger, err error) {
	var console io.Writer
	var level zerolog.Level

	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	console = opts.Stderr
	if isTerminal(opts.Stderr) {
		console = zerolog.ConsoleWriter{
			Out:        opts.Stderr,
			TimeFormat: time.TimeOnly,
		}
	}

	level = zerolog.WarnLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	l = &Logger{}

	if opts.File != "" {
		l.file, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			err = apperr.New(apperr.Config, "open log file", err)
			l = nil
			return
		}

		console = zerolog.MultiLevelWriter(console, l.file)
	}

	l.Logger = zerolog.New(console).Level(level).With().Timestamp().Logger()

	return
}

// Closes the mirror file, if any.
func (l *Logger) Close() (err error) {
	if l.file != nil {
		err = l.file.Close()
		l.file = nil
	}

	return
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)

	return ok && term.IsTerminal(int(f.Fd()))
}
