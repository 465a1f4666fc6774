// Package notify delivers short user-facing messages. Callers fire and
// forget; nothing in the core depends on delivery.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Severity of a notification.
type Severity string

const (
	Info    Severity = "info"
	Success Severity = "success"
	Error   Severity = "error"
)

// Notifier receives user-facing messages.
type Notifier interface {
	Notify(sev Severity, msg string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(Severity, string) {}

// Console prints notifications as single lines, the way the shell shows
// them to the operator.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes to w.
func NewConsole(w io.Writer) *Console { return &Console{w: w} }

func (c *Console) Notify(sev Severity, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := "•"
	switch sev {
	case Success:
		prefix = "✔"
	case Error:
		prefix = "✖"
	}
	fmt.Fprintf(c.w, "%s %s\n", prefix, msg)
}

// Log records notifications through a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(sev Severity, msg string) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if sev == Error {
		level = slog.LevelWarn
	}
	logger.Log(context.Background(), level, "notification", "severity", string(sev), "message", msg)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(sev Severity, msg string) {
	for _, n := range m {
		n.Notify(sev, msg)
	}
}

// Recorder keeps notifications in memory. Tests use it to assert on what
// the user would have seen.
type Recorder struct {
	mu       sync.Mutex
	Messages []Message
}

// Message is one recorded notification.
type Message struct {
	Severity Severity
	Text     string
}

func (r *Recorder) Notify(sev Severity, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, Message{Severity: sev, Text: msg})
}

// Last returns the most recent message, or the zero Message.
func (r *Recorder) Last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Messages) == 0 {
		return Message{}
	}
	return r.Messages[len(r.Messages)-1]
}
