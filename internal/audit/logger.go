// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/metrics"
)

// Config holds audit logger settings.
type Config struct {
	// BufferSize bounds events waiting for the writer.
	BufferSize int
	// RetentionDays is how long Cleanup keeps events.
	RetentionDays int
	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		RetentionDays: 90,
		WriteTimeout:  5 * time.Second,
	}
}

// Logger writes events asynchronously. A nil *Logger is valid and records
// nothing, so callers need no enabled check.
type Logger struct {
	store  Store
	config Config
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	events chan *Event
	done   chan struct{}
}

// NewLogger starts the writer goroutine. Zero config fields take defaults.
func NewLogger(store Store, config Config) *Logger {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaults.RetentionDays
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	l := &Logger{
		store:  store,
		config: config,
		now:    time.Now,
		events: make(chan *Event, config.BufferSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Record stamps the event and queues it. It never blocks: when the buffer is
// full the event is dropped.
func (l *Logger) Record(ctx context.Context, event *Event) {
	if l == nil || event == nil {
		return
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if d, ok := typeDefaults[event.Type]; ok {
		if event.Severity == "" {
			event.Severity = d.severity
		}
		if event.Outcome == "" {
			event.Outcome = d.outcome
		}
	}
	if event.RequestID == "" && ctx != nil {
		event.RequestID = logging.RequestIDFromContext(ctx)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}

	select {
	case l.events <- event:
	default:
		metrics.AuditEvents.WithLabelValues("dropped").Inc()
		logging.Warn().Str("type", string(event.Type)).Str("username", event.Username).
			Msg("Audit buffer full, event dropped")
	}
}

func (l *Logger) run() {
	defer close(l.done)
	for event := range l.events {
		l.write(event)
	}
}

func (l *Logger) write(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.config.WriteTimeout)
	defer cancel()

	if err := l.store.Save(ctx, event); err != nil {
		metrics.AuditEvents.WithLabelValues("failed").Inc()
		logging.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to write audit event")
		return
	}
	metrics.AuditEvents.WithLabelValues("written").Inc()
}

// Close stops accepting events and waits for buffered ones to be written.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	<-l.done
	return nil
}

// Cleanup removes events older than the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int, error) {
	if l == nil {
		return 0, nil
	}
	cutoff := l.now().AddDate(0, 0, -l.config.RetentionDays)
	return l.store.DeleteBefore(ctx, cutoff)
}

// Query reads from the underlying store.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}
