// Package eventlog owns the append-only lifecycle log. Every state change
// flows through Append, which assigns the next per-submission version,
// persists the event, and then notifies subscribers synchronously. The log
// is the source of truth; stored submission state is a cache of replaying it.
package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/formbridge/formbridge/internal/application/port"
	"github.com/formbridge/formbridge/internal/domain/event"
)

// Listener processes appended events. Listeners run synchronously in
// registration order; a failing listener is reported and skipped, it never
// blocks the append or the listeners after it.
//
// Listeners run while the submission's append lock is held and therefore
// must not append to the same submission from within the callback; defer
// follow-up appends to another goroutine.
type Listener func(ctx context.Context, evt *event.Event) error

// ListenerInfo contains listener metadata for debugging
type ListenerInfo struct {
	Name     string
	Types    map[event.Type]struct{} // nil means all types
	Listener Listener
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Log is the append-only event log with synchronous fan-out.
type Log struct {
	repo port.EventRepository

	mu        sync.RWMutex
	listeners []ListenerInfo
	logger    Logger

	appendMu sync.Mutex
	inflight map[string]*appendLock
}

// appendLock serializes version assignment per submission so appends from
// different subsystems (lifecycle operations, delivery reports) can never
// collide on a version.
type appendLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures the log
type Option func(*Log)

// WithLogger sets a logger for the log
func WithLogger(logger Logger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// New creates an event log backed by the given repository.
func New(repo port.EventRepository, opts ...Option) *Log {
	l := &Log{
		repo:     repo,
		inflight: make(map[string]*appendLock),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe registers a listener for the given event types. With no types
// the listener receives every event. Registration order is notification
// order; subscriptions happen at startup, before traffic.
func (l *Log) Subscribe(name string, fn Listener, types ...event.Type) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info := ListenerInfo{Name: name, Listener: fn}
	if len(types) > 0 {
		info.Types = make(map[event.Type]struct{}, len(types))
		for _, t := range types {
			info.Types[t] = struct{}{}
		}
	}
	l.listeners = append(l.listeners, info)

	if l.logger != nil {
		l.logger.Info("Listener registered",
			"listener_name", name,
			"type_count", len(types),
		)
	}
}

// Append assigns the next version for the event's submission, persists the
// event, and notifies listeners. Appends are serialized per submission, so
// versions stay gapless no matter which subsystem writes; the repository's
// uniqueness constraint on (submission, version) is the backstop.
//
// A listener failure does not fail the append: the event is already
// durable, so the error is reported and the remaining listeners still run.
func (l *Log) Append(ctx context.Context, evt *event.Event) (*event.Event, error) {
	if !evt.Type.IsValid() {
		return nil, fmt.Errorf("append: unknown event type %q", evt.Type)
	}

	release := l.lockSubmission(evt.SubmissionID)
	defer release()

	latest, err := l.repo.LatestVersion(ctx, evt.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("append: latest version for %s: %w", evt.SubmissionID, err)
	}
	evt.Version = latest + 1

	if err := l.repo.Append(ctx, evt); err != nil {
		return nil, fmt.Errorf("append: persist %s v%d: %w", evt.SubmissionID, evt.Version, err)
	}

	l.notify(ctx, evt)
	return evt, nil
}

func (l *Log) lockSubmission(id string) func() {
	l.appendMu.Lock()
	entry, ok := l.inflight[id]
	if !ok {
		entry = &appendLock{}
		l.inflight[id] = entry
	}
	entry.refs++
	l.appendMu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.appendMu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.inflight, id)
		}
		l.appendMu.Unlock()
	}
}

// Events returns the submission's full log in version order.
func (l *Log) Events(ctx context.Context, submissionID string) ([]*event.Event, error) {
	return l.repo.ListBySubmission(ctx, submissionID)
}

func (l *Log) notify(ctx context.Context, evt *event.Event) {
	l.mu.RLock()
	listeners := make([]ListenerInfo, len(l.listeners))
	copy(listeners, l.listeners)
	l.mu.RUnlock()

	for _, info := range listeners {
		if info.Types != nil {
			if _, ok := info.Types[evt.Type]; !ok {
				continue
			}
		}
		if err := l.safeExecute(ctx, evt, info); err != nil {
			if l.logger != nil {
				l.logger.Error("Listener error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"submission_id", evt.SubmissionID,
					"listener_name", info.Name,
					"error", err,
				)
			}
		}
	}
}

// safeExecute runs a listener with panic recovery
func (l *Log) safeExecute(ctx context.Context, evt *event.Event, info ListenerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()

	return info.Listener(ctx, evt)
}
