package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gonzalop/ftpd/internal/logging"
)

// Category classifies an audit event.
type Category int

const (
	CategoryConnection Category = iota
	CategoryControl
	CategoryTransfer
	CategoryMisc
)

func (c Category) String() string {
	switch c {
	case CategoryConnection:
		return "connection"
	case CategoryControl:
		return "control"
	case CategoryTransfer:
		return "transfer"
	}
	return "misc"
}

// Level is the severity of an audit event.
type Level int

const (
	LevelNormal Level = iota
	LevelNotice
	LevelWarning
	LevelError
	LevelCritical
)

// SlogLevel maps l onto the slog levels of the logging package.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelNotice:
		return logging.LevelNotice
	case LevelWarning:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return logging.LevelCritical
	}
	return slog.LevelInfo
}

// Event is one audit record.
type Event struct {
	Time      time.Time
	Category  Category
	Level     Level
	SessionID string
	Message   string
	Attrs     []slog.Attr
}

// AuditSink receives audit events from every session.
//
// Record must be safe for concurrent use. The events passed to a single call
// form a group: a sink must write them consecutively, without events from
// other calls in between.
type AuditSink interface {
	Record(events ...Event)
}

// AuditLog is an AuditSink that forwards events to a slog.Logger from a single
// writer goroutine. Callers never touch the logger directly.
type AuditLog struct {
	logger *slog.Logger
	queue  chan []Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAuditLog starts the writer goroutine. Call Close to flush and stop it.
func NewAuditLog(logger *slog.Logger, buffer int) *AuditLog {
	if buffer <= 0 {
		buffer = 256
	}
	a := &AuditLog{
		logger: logger,
		queue:  make(chan []Event, buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Record queues a group of events. It blocks while the queue is full and
// drops the events once the log is closed.
func (a *AuditLog) Record(events ...Event) {
	if len(events) == 0 {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	a.queue <- events
}

// Close stops accepting events and waits until queued ones are written.
func (a *AuditLog) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}

func (a *AuditLog) run() {
	defer close(a.done)
	ctx := context.Background()
	for group := range a.queue {
		for _, ev := range group {
			a.write(ctx, ev)
		}
	}
}

func (a *AuditLog) write(ctx context.Context, ev Event) {
	level := ev.Level.SlogLevel()
	if !a.logger.Enabled(ctx, level) {
		return
	}
	t := ev.Time
	if t.IsZero() {
		t = time.Now()
	}
	r := slog.NewRecord(t, level, ev.Message, 0)
	r.AddAttrs(slog.String("category", ev.Category.String()))
	if ev.SessionID != "" {
		r.AddAttrs(slog.String("session_id", ev.SessionID))
	}
	r.AddAttrs(ev.Attrs...)
	_ = a.logger.Handler().Handle(ctx, r)
}
