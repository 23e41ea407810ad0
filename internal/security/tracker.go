package security

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/ring"
)

type Event struct {
	Kind     string          `json:"kind"`
	ClientID string          `json:"clientId,omitempty"`
	Detail   string          `json:"detail,omitempty"`
	Severity alerts.Severity `json:"severity"`
	Occurred time.Time       `json:"occurred"`
}

// KindAuthFailure events feed the per-client failure counter.
const KindAuthFailure = "auth_failure"

const defaultAuthFailureThreshold = 10

// Tracker keeps a bounded trail of security events and counts failed
// authentication attempts per client identity. Reaching the failure
// threshold fires a high alert; subsequent failures re-fire into the
// same keyed alert. Counters reset in bulk once a day, not per entry.
type Tracker struct {
	mu        sync.Mutex
	failed    map[string]int
	events    *ring.Buffer[Event]
	threshold int
	fire      func(alerts.Firing)
	logger    *slog.Logger
	now       func() time.Time
}

func NewTracker(capacity, authFailureThreshold int, logger *slog.Logger) *Tracker {
	if capacity < 1 {
		capacity = 2000
	}
	if authFailureThreshold < 1 {
		authFailureThreshold = defaultAuthFailureThreshold
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tracker{
		failed:    make(map[string]int),
		events:    ring.New[Event](capacity),
		threshold: authFailureThreshold,
		logger:    logger,
		now:       time.Now,
	}
}

// OnAlert registers the firing hook. Wire before recording events.
func (t *Tracker) OnAlert(fn func(alerts.Firing)) {
	t.mu.Lock()
	t.fire = fn
	t.mu.Unlock()
}

// Record stores a security event. auth_failure events additionally bump
// the client's counter and escalate at the threshold. Returns the
// updated failure count for auth_failure events, 0 otherwise. Never
// fails; a missing severity defaults to medium and a missing client
// identity folds into "unknown" so the signal is never lost.
func (t *Tracker) Record(e Event) int {
	if e.Severity == "" {
		e.Severity = alerts.SeverityMedium
	}
	t.mu.Lock()
	if e.Occurred.IsZero() {
		e.Occurred = t.now()
	}
	count := 0
	if e.Kind == KindAuthFailure {
		if e.ClientID == "" {
			e.ClientID = "unknown"
		}
		t.failed[e.ClientID]++
		count = t.failed[e.ClientID]
	}
	t.events.Push(e)
	fire := t.fire
	t.mu.Unlock()

	if count >= t.threshold && count > 0 {
		t.logger.Warn("auth failure threshold crossed",
			slog.String("clientId", e.ClientID),
			slog.Int("count", count))
		if fire != nil {
			fire(alerts.Firing{
				Key:       "security:auth_failures:" + e.ClientID,
				Name:      "auth_failure_burst",
				Message:   fmt.Sprintf("%d failed auth attempts for %s", count, e.ClientID),
				Severity:  alerts.SeverityHigh,
				Observed:  float64(count),
				Threshold: float64(t.threshold),
				Metadata:  map[string]string{"clientId": e.ClientID},
			})
		}
	}
	return count
}

// RecordAuthFailure is Record for one failed authentication attempt.
func (t *Tracker) RecordAuthFailure(clientID string) int {
	return t.Record(Event{Kind: KindAuthFailure, ClientID: clientID, Severity: alerts.SeverityMedium})
}

// ResetDailyCounters zeroes all failed-auth counters and returns how
// many clients were cleared.
func (t *Tracker) ResetDailyCounters() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cleared := len(t.failed)
	t.failed = make(map[string]int)
	return cleared
}

func (t *Tracker) FailedAuth() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.failed))
	for k, v := range t.failed {
		out[k] = v
	}
	return out
}

func (t *Tracker) FailedAuthClients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failed)
}

// Recent returns up to limit security events, newest first.
func (t *Tracker) Recent(limit int) []Event {
	t.mu.Lock()
	items := t.events.Items()
	t.mu.Unlock()
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
