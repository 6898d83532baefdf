// Package diag is the leveled diagnostic sink for catalog discovery.
//
// Discovery reports row counts at debug level and degraded-but-correct
// outcomes (such as foreign keys dropped by filtering) at notice level.
// Nothing logged here is an error; hard failures travel as error returns.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// LevelNotice sits between slog's Info and Warn: noteworthy, not wrong.
const LevelNotice = slog.Level(2)

// Sink accepts leveled diagnostic messages.
type Sink interface {
	Debugf(format string, args ...any)
	Noticef(format string, args ...any)
}

// slogSink adapts a slog.Logger to the Sink interface.
type slogSink struct {
	l *slog.Logger
}

// NewSink returns a Sink writing through l. A nil l uses slog.Default().
func NewSink(l *slog.Logger) Sink {
	if l == nil {
		l = slog.Default()
	}
	return &slogSink{l: l}
}

func (s *slogSink) Debugf(format string, args ...any) {
	s.l.Debug(fmt.Sprintf(format, args...))
}

func (s *slogSink) Noticef(format string, args ...any) {
	s.l.Log(context.Background(), LevelNotice, fmt.Sprintf(format, args...))
}

// discard drops everything.
type discard struct{}

func (discard) Debugf(string, ...any)  {}
func (discard) Noticef(string, ...any) {}

// Discard returns a Sink that drops all messages.
func Discard() Sink { return discard{} }

// Capture records messages for assertions in tests. Safe for concurrent
// use, though discovery itself is single-threaded.
type Capture struct {
	mu      sync.Mutex
	debugs  []string
	notices []string
}

func (c *Capture) Debugf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debugs = append(c.debugs, fmt.Sprintf(format, args...))
}

func (c *Capture) Noticef(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, fmt.Sprintf(format, args...))
}

// Debugs returns the captured debug messages in order.
func (c *Capture) Debugs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.debugs...)
}

// Notices returns the captured notice messages in order.
func (c *Capture) Notices() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notices...)
}
