// Package rlog is the logging collaborator treated as external: an
// asynchronous log writer exposing a push(string) operation, with log
// levels and msg-id correlation pulled from the ambient context. Nothing
// in the source pack reaches for a structured logging library anywhere
// (every log call in infra/network/rpc.go, infra/actor/actor.go, and
// every cmd/*/main.go is a bare log.Printf), so this keeps the same
// choice: stdlib log.Logger underneath, async via a single background
// goroutine, matching rocket/common/log.cc's async writer and
// rocket/logger/thread_local_buffer.cc's single buffered sink (one
// logger, no _rpc/_app suffix split).
package rlog

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Level gates which calls reach the sink.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string ("debug"/"info"/"error") to a Level,
// defaulting to LevelInfo for anything unrecognized.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Sink is the external collaborator: something that accepts a fully
// formatted line. A real deployment might rotate files or batch over the
// network; this package only depends on the push(string) contract.
type Sink interface {
	Push(line string)
}

// asyncSink pushes lines through a single background goroutine and
// buffered channel, the Go analogue of the source's async logger thread
// and thread-local buffer.
type asyncSink struct {
	lines  chan string
	logger *log.Logger
}

// NewAsyncSink starts a background goroutine draining a bounded channel
// into dst (os.Stdout if nil). Lines submitted while the channel is full
// are dropped rather than blocking the caller.
func NewAsyncSink(dst *log.Logger) Sink {
	if dst == nil {
		dst = log.New(os.Stdout, "", log.LstdFlags)
	}
	s := &asyncSink{lines: make(chan string, 1024), logger: dst}
	go s.run()
	return s
}

func (s *asyncSink) run() {
	for line := range s.lines {
		s.logger.Println(line)
	}
}

func (s *asyncSink) Push(line string) {
	select {
	case s.lines <- line:
	default:
		// Buffer full: drop rather than stall the caller's hot path,
		// matching the source's "logging is thread-safe, never blocks
		// the RPC path" expectation.
	}
}

// Logger is the level-gated facade every package in this module logs
// through in place of bare log.Printf calls.
type Logger struct {
	level Level
	sink  Sink
}

var std = &Logger{level: LevelInfo, sink: NewAsyncSink(nil)}

// SetLevel adjusts the process-wide minimum level.
func SetLevel(l Level) { std.level = l }

// SetSink replaces the process-wide sink (e.g. to redirect to a file
// once config is loaded).
func SetSink(s Sink) { std.sink = s }

type msgIDKey struct{}

// WithMsgID returns a context carrying the ambient msg-id so log
// statements emitted while handling a request or issuing a nested call
// can be correlated.
func WithMsgID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, msgIDKey{}, msgID)
}

// MsgID returns the ambient msg-id carried by ctx, or "" if none.
func MsgID(ctx context.Context) string {
	v, _ := ctx.Value(msgIDKey{}).(string)
	return v
}

func (lg *Logger) log(ctx context.Context, level Level, format string, args ...interface{}) {
	if level < lg.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if ctx != nil {
		if id := MsgID(ctx); id != "" {
			msg = fmt.Sprintf("%s | %s", id, msg)
		}
	}
	lg.sink.Push(fmt.Sprintf("[%s] %s", level, msg))
}

func Debug(format string, args ...interface{}) { std.log(nil, LevelDebug, format, args...) }
func Info(format string, args ...interface{})  { std.log(nil, LevelInfo, format, args...) }
func Error(format string, args ...interface{}) { std.log(nil, LevelError, format, args...) }

func DebugCtx(ctx context.Context, format string, args ...interface{}) {
	std.log(ctx, LevelDebug, format, args...)
}
func InfoCtx(ctx context.Context, format string, args ...interface{}) {
	std.log(ctx, LevelInfo, format, args...)
}
func ErrorCtx(ctx context.Context, format string, args ...interface{}) {
	std.log(ctx, LevelError, format, args...)
}
