// Package logging builds the zerolog logger shared by every gnsync component.
//
// Output goes to stderr, rendered with zerolog's console writer when stderr is
// a terminal and as JSON otherwise. When a file is configured, records are
// also written to it through a size-rotated lumberjack writer.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	// Level is a zerolog level name (debug, info, warn, error). Default info.
	Level string
	// File, when set, receives a copy of every record with rotation.
	File string
	// MaxSizeMB is the rotation threshold for File.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// JSON forces JSON output on stderr even when it is a terminal.
	JSON bool
}

// Logger is a configured logger plus the resources it holds open.
type Logger struct {
	zerolog.Logger
	file *lumberjack.Logger
}

// New builds a Logger writing to stderr (and File when set).
func New(opts Options) *Logger {
	return NewWithWriter(os.Stderr, opts)
}

// NewWithWriter is New with an explicit primary writer. Console formatting is
// only used when w is a terminal and JSON is not forced.
func NewWithWriter(w io.Writer, opts Options) *Logger {
	var primary io.Writer = w
	if f, ok := w.(*os.File); ok && !opts.JSON && term.IsTerminal(int(f.Fd())) {
		primary = zerolog.ConsoleWriter{Out: f, TimeFormat: "15:04:05"}
	}

	l := &Logger{}
	writers := []io.Writer{primary}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 10),
			MaxBackups: orDefault(opts.MaxBackups, 3),
			Compress:   true,
		}
		writers = append(writers, l.file)
	}

	var out io.Writer = primary
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	l.Logger = zerolog.New(out).With().Timestamp().Logger()
	SetLevel(opts.Level)
	return l
}

// SetLevel changes the process-wide minimum level. Child loggers created with
// Component follow the change, which is what config hot reload relies on.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.Logger.With().Str("component", name).Logger()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// Nop returns a logger that discards everything. Used by tests and as the
// default for components built without a logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
