// Package logger wraps stdlib structured logging (log/slog) behind a
// small interface so every Lightflow component logs through one sink,
// configurable for format, verbosity, and destination per spec.md §5's
// ambient logging concern.
//
// Log records report the call site of the Logger method the caller
// invoked, not a frame inside this package — callers rely on that to
// jump straight to the logging statement from a log line.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the structured logging surface every component depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

type logger struct {
	handler slog.Handler
	debug   bool
}

type options struct {
	debug  bool
	format string
	writer io.Writer
	quiet  bool
	file   *os.File
}

// Option configures a Logger built by NewLogger.
type Option func(*options)

// WithDebug enables debug-level logging and source-location reporting.
func WithDebug() Option { return func(o *options) { o.debug = true } }

// WithFormat selects "text" (default) or "json" record encoding.
func WithFormat(format string) Option { return func(o *options) { o.format = format } }

// WithWriter sets the primary log destination, overriding the default
// (os.Stdout, or io.Discard when WithQuiet is also set).
func WithWriter(w io.Writer) Option { return func(o *options) { o.writer = w } }

// WithQuiet suppresses the default stdout destination when no explicit
// writer was given via WithWriter.
func WithQuiet() Option { return func(o *options) { o.quiet = true } }

// WithLogFile tees every record to f in addition to the primary writer,
// via slog-multi fan-out.
func WithLogFile(f *os.File) Option { return func(o *options) { o.file = f } }

// NewLogger builds a Logger from the given options.
func NewLogger(opts ...Option) Logger {
	o := options{format: "text", writer: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	w := o.writer
	if o.quiet && o.writer == os.Stdout {
		w = io.Discard
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{AddSource: o.debug, Level: level}

	primary := newHandler(o.format, w, hopts)
	if o.file == nil {
		return &logger{handler: primary, debug: o.debug}
	}
	secondary := newHandler(o.format, o.file, hopts)
	return &logger{handler: slogmulti.Fanout(primary, secondary), debug: o.debug}
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// callerSkip is the number of stack frames between runtime.Callers and
// the Logger method the external caller invoked: Callers itself, log,
// and the Info/Debug/.../f method that calls log directly.
const callerSkip = 3

func (l *logger) log(level slog.Level, msg string, args []any) {
	ctx := context.Background()
	if !l.handler.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(callerSkip, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	if len(args) > 0 {
		r.Add(args...)
	}
	_ = l.handler.Handle(ctx, r)
}

func (l *logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

func (l *logger) Debugf(format string, args ...any) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...), nil)
}
func (l *logger) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...), nil)
}
func (l *logger) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...), nil)
}
func (l *logger) Errorf(format string, args ...any) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...), nil)
}

func (l *logger) With(args ...any) Logger {
	h := slog.New(l.handler).With(args...).Handler()
	return &logger{handler: h, debug: l.debug}
}

func (l *logger) WithGroup(name string) Logger {
	h := slog.New(l.handler).WithGroup(name).Handler()
	return &logger{handler: h, debug: l.debug}
}
