// Package audit records who did what to which resource.
//
// Sinks are append-only. Callers go through a Recorder, which never fails:
// a broken sink is logged and otherwise ignored so auditing can never abort
// the operation being audited.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Entry is one audit log record.
type Entry struct {
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Actor        string         `json:"actor"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Details      map[string]any `json:"details"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Sink persists audit entries.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

// LogSink writes entries to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, e Entry) error {
	s.logger.InfoContext(ctx, "Audit",
		"action", e.Action,
		"resource_type", e.ResourceType,
		"resource_id", e.ResourceID,
		"actor", e.Actor,
		"ip", e.IPAddress,
		"details", e.Details,
	)
	return nil
}

// MultiSink fans an entry out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder is the fire-and-forget front of a Sink. A nil Recorder is a no-op.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger}
}

// Record stamps and stores e. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r == nil || r.sink == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}

	// The audited operation may already be finished or cancelled
	if err := r.sink.Record(context.WithoutCancel(ctx), e); err != nil {
		r.logger.Error("Failed to record audit entry", "action", e.Action, "resource_id", e.ResourceID, "error", err)
	}
}
