// Package audit records security-relevant events (logins, token rotations,
// permission changes) without ever blocking the request path. Events are
// best effort: a full buffer drops the event and bumps a counter rather
// than stalling authentication.
package audit

import (
	"context"
	"log/slog"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	Action        string            `json:"action"`
	Resource      string            `json:"resource,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	IP            string            `json:"ip,omitempty"`
	Success       bool              `json:"success"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Severity      Severity          `json:"severity"`
	Details       map[string]string `json:"details,omitempty"`
}

// Sink receives audit events. Implementations must tolerate concurrent calls.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

type NoopSink struct{}

func (NoopSink) Emit(context.Context, Event) {}

// SlogSink writes events as structured log records.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, e Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	switch e.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	attrs := []any{
		slog.String("action", e.Action),
		slog.Bool("success", e.Success),
	}
	if e.Resource != "" {
		attrs = append(attrs, slog.String("resource", e.Resource))
	}
	if e.UserID != "" {
		attrs = append(attrs, slog.String("user_id", e.UserID))
	}
	if e.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", e.SessionID))
	}
	if e.IP != "" {
		attrs = append(attrs, slog.String("ip", e.IP))
	}
	if e.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", e.FailureReason))
	}
	for k, v := range e.Details {
		attrs = append(attrs, slog.String(k, v))
	}

	logger.Log(ctx, level, "audit_event", attrs...)
}
