package alerts

import (
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"guardianai-backend/monitor-service/internal/ring"
)

var (
	ErrNotFound = errors.New("alert not found")

	// ErrIllegalTransition is returned when a state change is requested
	// that the lifecycle does not allow, such as suppressing an alert
	// that has already been acknowledged.
	ErrIllegalTransition = errors.New("illegal alert state transition")
)

// Manager owns alert lifecycle: fire with key dedup, acknowledge,
// resolve, suppress, stale auto-resolution. Closed alerts (resolved or
// suppressed) move to a bounded history buffer.
type Manager struct {
	mu         sync.Mutex
	active     map[string]*Alert // keyed by Alert.Key
	byID       map[string]string // alert ID -> key, open alerts only
	history    *ring.Buffer[Alert]
	notifier   Notifier
	onFire     func(Alert)
	onResolve  func(Alert)
	onSuppress func(Alert)
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(historyCapacity int, logger *slog.Logger) *Manager {
	if historyCapacity < 1 {
		historyCapacity = 500
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		active:  make(map[string]*Alert),
		byID:    make(map[string]string),
		history: ring.New[Alert](historyCapacity),
		logger:  logger,
		now:     time.Now,
	}
}

func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	m.notifier = n
	m.mu.Unlock()
}

// SetOnFire registers a callback invoked once per newly created alert.
// Dedup re-fires do not trigger it.
func (m *Manager) SetOnFire(fn func(Alert)) {
	m.mu.Lock()
	m.onFire = fn
	m.mu.Unlock()
}

func (m *Manager) SetOnResolve(fn func(Alert)) {
	m.mu.Lock()
	m.onResolve = fn
	m.mu.Unlock()
}

func (m *Manager) SetOnSuppress(fn func(Alert)) {
	m.mu.Lock()
	m.onSuppress = fn
	m.mu.Unlock()
}

// Fire records an occurrence of the condition identified by f.Key. An
// existing unresolved alert with the same key is updated in place: fire
// count increments, severity only escalates, acknowledged state is kept.
// Otherwise a new active alert is created. The notifier runs outside the
// manager lock and its outcome never affects the caller.
func (m *Manager) Fire(f Firing) Alert {
	m.mu.Lock()
	now := m.now()
	var (
		out     Alert
		created bool
	)
	if existing, ok := m.active[f.Key]; ok {
		existing.FireCount++
		existing.LastFiredAt = now
		existing.Observed = f.Observed
		if f.Message != "" {
			existing.Message = f.Message
		}
		if SeverityRank(f.Severity) > SeverityRank(existing.Severity) {
			existing.Severity = f.Severity
		}
		if f.RequiresImmediateAttention {
			existing.RequiresImmediateAttention = true
		}
		out = cloneAlert(*existing)
	} else {
		a := &Alert{
			ID:                         uuid.NewString(),
			Key:                        f.Key,
			Name:                       f.Name,
			Message:                    f.Message,
			Severity:                   f.Severity,
			State:                      StateActive,
			Metric:                     f.Metric,
			ChildID:                    f.ChildID,
			Observed:                   f.Observed,
			Threshold:                  f.Threshold,
			FireCount:                  1,
			FiredAt:                    now,
			LastFiredAt:                now,
			RequiresImmediateAttention: f.RequiresImmediateAttention,
			Metadata:                   cloneMeta(f.Metadata),
		}
		m.active[f.Key] = a
		m.byID[a.ID] = f.Key
		out = cloneAlert(*a)
		created = true
	}
	notifier := m.notifier
	onFire := m.onFire
	m.mu.Unlock()

	if created {
		m.logger.Info("alert fired",
			slog.String("key", out.Key),
			slog.String("severity", string(out.Severity)))
		if onFire != nil {
			onFire(out)
		}
	}
	if notifier != nil {
		notifier.Notify(out)
	}
	return out
}

// Acknowledge moves an active alert to acknowledged. Acknowledging an
// already acknowledged alert is a no-op. Resolved or unknown IDs return
// ErrNotFound.
func (m *Manager) Acknowledge(id string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byID[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	a := m.active[key]
	if a.State == StateActive {
		now := m.now()
		a.State = StateAcknowledged
		a.AckedAt = &now
		m.logger.Info("alert acknowledged", slog.String("key", a.Key))
	}
	return cloneAlert(*a), nil
}

// Resolve closes the unresolved alert with the given key. The second
// resolve of a key reports ok=false and changes nothing.
func (m *Manager) Resolve(key string) (Alert, bool) {
	m.mu.Lock()
	a, ok := m.active[key]
	if !ok {
		m.mu.Unlock()
		return Alert{}, false
	}
	out := m.resolveLocked(a)
	onResolve := m.onResolve
	m.mu.Unlock()

	m.logger.Info("alert resolved", slog.String("key", out.Key))
	if onResolve != nil {
		onResolve(out)
	}
	return out, true
}

// ResolveByID is Resolve addressed by alert ID.
func (m *Manager) ResolveByID(id string) (Alert, bool) {
	m.mu.Lock()
	key, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return Alert{}, false
	}
	out := m.resolveLocked(m.active[key])
	onResolve := m.onResolve
	m.mu.Unlock()

	m.logger.Info("alert resolved", slog.String("key", out.Key))
	if onResolve != nil {
		onResolve(out)
	}
	return out, true
}

// Suppress closes an active alert without marking the condition fixed.
// Only active alerts may be suppressed: acknowledged alerts return
// ErrIllegalTransition, resolved or unknown IDs return ErrNotFound. A
// suppressed alert never changes state again; a later fire on the same
// key opens a fresh alert.
func (m *Manager) Suppress(id string) (Alert, error) {
	m.mu.Lock()
	key, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return Alert{}, ErrNotFound
	}
	a := m.active[key]
	if a.State != StateActive {
		m.mu.Unlock()
		return Alert{}, ErrIllegalTransition
	}
	a.State = StateSuppressed
	delete(m.active, a.Key)
	delete(m.byID, a.ID)
	out := cloneAlert(*a)
	m.history.Push(out)
	onSuppress := m.onSuppress
	m.mu.Unlock()

	m.logger.Info("alert suppressed", slog.String("key", out.Key))
	if onSuppress != nil {
		onSuppress(out)
	}
	return out, nil
}

// AutoResolveStale resolves every unresolved alert that has not re-fired
// within olderThan. Emergency alerts are exempt and stay open until a
// human closes them.
func (m *Manager) AutoResolveStale(olderThan time.Duration) []Alert {
	m.mu.Lock()
	cutoff := m.now().Add(-olderThan)
	var resolved []Alert
	for _, a := range m.active {
		if a.Severity == SeverityEmergency {
			continue
		}
		if a.LastFiredAt.Before(cutoff) {
			resolved = append(resolved, m.resolveLocked(a))
		}
	}
	onResolve := m.onResolve
	m.mu.Unlock()

	for _, a := range resolved {
		m.logger.Info("alert auto-resolved",
			slog.String("key", a.Key),
			slog.Int("fireCount", a.FireCount))
		if onResolve != nil {
			onResolve(a)
		}
	}
	return resolved
}

func (m *Manager) resolveLocked(a *Alert) Alert {
	now := m.now()
	a.State = StateResolved
	a.ResolvedAt = &now
	delete(m.active, a.Key)
	delete(m.byID, a.ID)
	out := cloneAlert(*a)
	m.history.Push(out)
	return out
}

// Active returns unresolved alerts, most severe first, newest first
// within a severity.
func (m *Manager) Active() []Alert {
	m.mu.Lock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, cloneAlert(*a))
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		ri, rj := SeverityRank(out[i].Severity), SeverityRank(out[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return out[i].LastFiredAt.After(out[j].LastFiredAt)
	})
	return out
}

func (m *Manager) ActiveCount() map[Severity]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Severity]int, 5)
	for _, a := range m.active {
		counts[a.Severity]++
	}
	return counts
}

// History returns up to limit closed alerts, newest first.
func (m *Manager) History(limit int) []Alert {
	m.mu.Lock()
	items := m.history.Items()
	m.mu.Unlock()
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func cloneAlert(a Alert) Alert {
	a.Metadata = cloneMeta(a.Metadata)
	if a.AckedAt != nil {
		t := *a.AckedAt
		a.AckedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		a.ResolvedAt = &t
	}
	return a
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
