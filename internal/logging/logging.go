// Package logging sets up the pipeline daemon's prefixed loggers and the
// optional rotating log file behind them.
package logging

import (
	"io"
	"log"
	"os"
	"strings"
)

// Flags used by every pipeline logger.
const Flags = log.LstdFlags | log.Lmicroseconds

// Options controls where logs go.
type Options struct {
	// File enables a rotating log file next to stdout. Empty disables it.
	File     string
	MaxBytes int64
	// Level is one of debug, info, warn, error.
	Level string
	// Name is used in every prefix, e.g. "pipelined".
	Name string
}

// Logs hands out component loggers sharing one output.
type Logs struct {
	out    io.Writer
	closer io.Closer
	name   string
	level  string
}

// Setup builds the shared output and points the standard logger at it.
func Setup(opts Options) (*Logs, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "pipelined"
	}
	l := &Logs{out: os.Stdout, name: name, level: strings.ToLower(strings.TrimSpace(opts.Level))}
	if l.level == "" {
		l.level = "info"
	}
	if strings.TrimSpace(opts.File) != "" {
		rot, err := NewRotatingWriter(opts.File, opts.MaxBytes)
		if err != nil {
			return nil, err
		}
		l.out = io.MultiWriter(os.Stdout, rot)
		l.closer = rot
	}
	log.SetOutput(l.out)
	log.SetFlags(Flags)
	log.SetPrefix("[" + name + "] ")
	return l, nil
}

// New wraps an arbitrary writer, mainly for tests.
func New(out io.Writer, name, level string) *Logs {
	if level == "" {
		level = "info"
	}
	return &Logs{out: out, name: name, level: strings.ToLower(level)}
}

// Logger returns a logger prefixed "[name/component] ". An empty component
// yields "[name] ".
func (l *Logs) Logger(component string) *log.Logger {
	prefix := "[" + l.name + "] "
	if component != "" {
		prefix = "[" + l.name + "/" + component + "] "
	}
	return log.New(l.out, prefix, Flags)
}

// Debug reports whether debug level output is enabled.
func (l *Logs) Debug() bool {
	return l.level == "debug"
}

// Level returns the configured level.
func (l *Logs) Level() string {
	return l.level
}

// Close releases the log file, if any.
func (l *Logs) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
