package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"warden.dev/internal/auth"
)

type auditLog struct {
	mu     sync.Mutex
	next   int64
	events []auth.AuditEvent
	now    func() time.Time
}

func (l *auditLog) Append(_ context.Context, ev auth.AuditEvent) (auth.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	ev.ID = l.next
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now().UTC()
	}
	l.events = append(l.events, ev)
	return ev, nil
}

// newest returns events matching keep, newest first.
func (l *auditLog) newest(keep func(auth.AuditEvent) bool) []auth.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []auth.AuditEvent{}
	for i := len(l.events) - 1; i >= 0; i-- {
		if keep(l.events[i]) {
			out = append(out, l.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (l *auditLog) ListByUser(_ context.Context, userID int64, limit int) ([]auth.AuditEvent, error) {
	out := l.newest(func(ev auth.AuditEvent) bool { return ev.UserID == userID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *auditLog) ListByActions(_ context.Context, actions []string, since time.Time) ([]auth.AuditEvent, error) {
	want := make(map[string]struct{}, len(actions))
	for _, a := range actions {
		want[a] = struct{}{}
	}
	return l.newest(func(ev auth.AuditEvent) bool {
		_, ok := want[ev.Action]
		return ok && !ev.Timestamp.Before(since)
	}), nil
}

func (l *auditLog) CountFailedByIP(_ context.Context, ip string, since time.Time) (int64, error) {
	out := l.newest(func(ev auth.AuditEvent) bool {
		return ev.IPAddress == ip && ev.Status == auth.AuditFailed && !ev.Timestamp.Before(since)
	})
	return int64(len(out)), nil
}

func (l *auditLog) ActionCounts(_ context.Context, since time.Time) ([]auth.ActionCount, error) {
	counts := map[string]int64{}
	for _, ev := range l.newest(func(ev auth.AuditEvent) bool { return !ev.Timestamp.Before(since) }) {
		counts[ev.Action]++
	}
	out := make([]auth.ActionCount, 0, len(counts))
	for action, n := range counts {
		out = append(out, auth.ActionCount{Action: action, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Action < out[j].Action
		}
		return out[i].Count > out[j].Count
	})
	return out, nil
}

func (l *auditLog) CountActiveUsers(_ context.Context, since time.Time) (int64, error) {
	users := map[int64]struct{}{}
	for _, ev := range l.newest(func(ev auth.AuditEvent) bool { return ev.UserID != 0 && !ev.Timestamp.Before(since) }) {
		users[ev.UserID] = struct{}{}
	}
	return int64(len(users)), nil
}

func (l *auditLog) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.events[:0]
	var n int64
	for _, ev := range l.events {
		if ev.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	l.events = kept
	return n, nil
}
