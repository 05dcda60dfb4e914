// Package audit persists security events and answers forensic queries over them.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"warden.dev/internal/auth"
	"warden.dev/internal/obs"
)

const maxDetailLength = 1000

// Recorder is the auth.AuditRecorder used in production. Every event is appended to the audit
// table and echoed as a JSON log line.
type Recorder struct {
	store auth.AuditStore
	now   func() time.Time
}

var _ auth.AuditRecorder = (*Recorder)(nil)

// NewRecorder persists through store, which must not be bound to a caller's transaction.
func NewRecorder(store auth.AuditStore) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Record stamps, truncates, persists and logs ev.
func (r *Recorder) Record(ctx context.Context, ev auth.AuditEvent) error {
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return errors.New("audit action is required")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	if ev.Status == "" {
		ev.Status = auth.AuditSuccess
	}
	ev.Details = truncate(ev.Details, maxDetailLength)

	stored, err := r.store.Append(ctx, ev)
	if err != nil {
		LogEvent(ctx, ev, err)
		return err
	}
	obs.AuditEvents.WithLabelValues(stored.Action, string(stored.Status)).Inc()
	LogEvent(ctx, stored, nil)
	return nil
}

// LogEvent writes an audit log entry enriched with request and user context. A non-nil
// persistErr marks the entry as not stored.
func LogEvent(ctx context.Context, ev auth.AuditEvent, persistErr error) {
	entry := map[string]any{
		"ts":       ev.Timestamp.UTC().Format(time.RFC3339Nano),
		"type":     "audit",
		"event":    ev.Action,
		"resource": ev.Resource,
		"status":   string(ev.Status),
	}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if ev.UserID != 0 {
		entry["user_id"] = ev.UserID
	}
	if actor, ok := auth.UserIDFromContext(ctx); ok {
		entry["actor_id"] = actor
	}
	if ev.IPAddress != "" {
		entry["ip"] = ev.IPAddress
	}
	if ev.Details != "" {
		entry["details"] = ev.Details
	}
	if persistErr != nil {
		entry["level"] = "error"
		entry["error"] = persistErr.Error()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
