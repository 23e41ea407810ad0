package safety

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/ring"
	"guardianai-backend/monitor-service/internal/validation"
)

type Event struct {
	ChildID   string            `json:"childId"`
	EventType string            `json:"eventType"`
	Severity  alerts.Severity   `json:"severity"`
	Details   map[string]string `json:"details,omitempty"`
	Occurred  time.Time         `json:"occurred"`
}

// Snapshot is the derived per-child safety status. It is assembled on
// demand and never stored.
type Snapshot struct {
	ChildID           string         `json:"childId"`
	Score             int            `json:"score"`
	Status            string         `json:"status"`
	ActiveAlerts      int            `json:"activeAlerts"`
	ActiveEmergencies int            `json:"activeEmergencies"`
	RecentEventCount  int            `json:"recentEventCount"`
	EventsLastHour    int            `json:"eventsLastHour"`
	EventsByType      map[string]int `json:"eventsByType,omitempty"`
	LastActivity      time.Time      `json:"lastActivity"`
	Generated         time.Time      `json:"generated"`
}

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusAtRisk   = "at_risk"
	StatusCritical = "critical"
)

// DefaultPatternThresholds maps event types to the number of occurrences
// per child within the pattern window that fires a pattern alert.
func DefaultPatternThresholds() map[string]int {
	return map[string]int{
		"inappropriate_content": 5,
		"emotional_distress":    3,
		"contact_attempt":       3,
		"late_night_usage":      10,
	}
}

// DefaultCriticalEventTypes lists event types that escalate on the fast
// path no matter what severity the reporter attached.
func DefaultCriticalEventTypes() []string {
	return []string{
		"abuse_detected",
		"self_harm_indication",
		"predator_contact",
	}
}

type Config struct {
	Capacity           int
	PatternWindow      time.Duration
	ScoreWindow        time.Duration
	PatternThresholds  map[string]int
	CriticalEventTypes []string
}

// Monitor records child safety events, escalates emergencies on a fast
// path and watches per-child event patterns inside a sliding window.
type Monitor struct {
	mu         sync.Mutex
	events     *ring.Buffer[Event]
	patternWin time.Duration
	scoreWin   time.Duration
	thresholds map[string]int
	critical   map[string]bool
	fire       func(alerts.Firing)
	logger     *slog.Logger
	now        func() time.Time
}

func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Capacity < 1 {
		cfg.Capacity = 5000
	}
	if cfg.PatternWindow <= 0 {
		cfg.PatternWindow = time.Hour
	}
	if cfg.ScoreWindow <= 0 {
		cfg.ScoreWindow = 24 * time.Hour
	}
	if cfg.PatternThresholds == nil {
		cfg.PatternThresholds = DefaultPatternThresholds()
	}
	if cfg.CriticalEventTypes == nil {
		cfg.CriticalEventTypes = DefaultCriticalEventTypes()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	critical := make(map[string]bool, len(cfg.CriticalEventTypes))
	for _, kind := range cfg.CriticalEventTypes {
		critical[kind] = true
	}
	return &Monitor{
		events:     ring.New[Event](cfg.Capacity),
		patternWin: cfg.PatternWindow,
		scoreWin:   cfg.ScoreWindow,
		thresholds: cfg.PatternThresholds,
		critical:   critical,
		logger:     logger,
		now:        time.Now,
	}
}

// OnAlert registers the firing hook. Wire before recording events.
func (m *Monitor) OnAlert(fn func(alerts.Firing)) {
	m.mu.Lock()
	m.fire = fn
	m.mu.Unlock()
}

// Record validates and stores an event. Emergency-severity events and
// critical event types escalate on the fast path, which skips pattern
// detection for that event; the event still lands in the buffer and
// counts toward later pattern windows.
func (m *Monitor) Record(e Event) error {
	if verr := validate(e); verr != nil {
		return verr
	}
	m.mu.Lock()
	if e.Occurred.IsZero() {
		e.Occurred = m.now()
	}
	m.events.Push(e)
	urgent := e.Severity == alerts.SeverityEmergency || m.critical[e.EventType]
	patternCount := 0
	threshold, watched := m.thresholds[e.EventType]
	if watched && !urgent {
		cutoff := e.Occurred.Add(-m.patternWin)
		for _, ev := range m.events.Items() {
			if ev.ChildID == e.ChildID && ev.EventType == e.EventType && !ev.Occurred.Before(cutoff) {
				patternCount++
			}
		}
	}
	fire := m.fire
	m.mu.Unlock()

	if fire == nil {
		return nil
	}
	if urgent {
		m.logger.Error("emergency safety event",
			slog.String("childId", e.ChildID),
			slog.String("eventType", e.EventType),
			slog.String("reportedSeverity", string(e.Severity)))
		fire(alerts.Firing{
			Key:                        "safety:emergency:" + e.ChildID + ":" + e.EventType,
			Name:                       "child_safety_emergency",
			Message:                    fmt.Sprintf("emergency %s event for child %s", e.EventType, e.ChildID),
			Severity:                   alerts.SeverityEmergency,
			ChildID:                    e.ChildID,
			Observed:                   1,
			RequiresImmediateAttention: true,
			Metadata: map[string]string{
				"eventType": e.EventType,
			},
		})
		return nil
	}
	if watched && patternCount >= threshold {
		fire(alerts.Firing{
			Key:       "safety:pattern:" + e.ChildID + ":" + e.EventType,
			Name:      "excessive_" + e.EventType,
			Message:   fmt.Sprintf("%d %s events for child %s within %s", patternCount, e.EventType, e.ChildID, m.patternWin),
			Severity:  alerts.SeverityHigh,
			ChildID:   e.ChildID,
			Observed:  float64(patternCount),
			Threshold: float64(threshold),
			Metadata: map[string]string{
				"eventType": e.EventType,
				"count":     fmt.Sprintf("%d", patternCount),
			},
		})
	}
	return nil
}

// Score is 100 minus severity penalties over the child's events in the
// score window, clamped to [0,100].
func (m *Monitor) Score(childID string) int {
	m.mu.Lock()
	items := m.events.Items()
	cutoff := m.now().Add(-m.scoreWin)
	m.mu.Unlock()

	score := 100
	for _, e := range items {
		if e.ChildID != childID || e.Occurred.Before(cutoff) {
			continue
		}
		score -= penalty(e.Severity)
	}
	return clamp(score)
}

// Snapshot assembles the safety status for one child. The caller supplies
// the child's unresolved alert counts; any active emergency forces status
// critical.
func (m *Monitor) Snapshot(childID string, activeAlerts, activeEmergencies int) Snapshot {
	m.mu.Lock()
	items := m.events.Items()
	now := m.now()
	m.mu.Unlock()

	dayCutoff := now.Add(-m.scoreWin)
	hourCutoff := now.Add(-time.Hour)
	counts := make(map[string]int)
	var lastActivity time.Time
	recent := 0
	lastHour := 0
	score := 100
	for _, e := range items {
		if e.ChildID != childID {
			continue
		}
		if e.Occurred.After(lastActivity) {
			lastActivity = e.Occurred
		}
		if e.Occurred.Before(dayCutoff) {
			continue
		}
		counts[e.EventType]++
		recent++
		score -= penalty(e.Severity)
		if !e.Occurred.Before(hourCutoff) {
			lastHour++
		}
	}
	score = clamp(score)
	status := statusFor(score)
	if activeEmergencies > 0 {
		status = StatusCritical
	}
	return Snapshot{
		ChildID:           childID,
		Score:             score,
		Status:            status,
		ActiveAlerts:      activeAlerts,
		ActiveEmergencies: activeEmergencies,
		RecentEventCount:  recent,
		EventsLastHour:    lastHour,
		EventsByType:      counts,
		LastActivity:      lastActivity,
		Generated:         now,
	}
}

// RecentEventCount reports events across all children inside the score
// window.
func (m *Monitor) RecentEventCount() int {
	m.mu.Lock()
	items := m.events.Items()
	cutoff := m.now().Add(-m.scoreWin)
	m.mu.Unlock()

	count := 0
	for _, e := range items {
		if !e.Occurred.Before(cutoff) {
			count++
		}
	}
	return count
}

// Children lists the child IDs with at least one event inside the score
// window, sorted.
func (m *Monitor) Children() []string {
	m.mu.Lock()
	items := m.events.Items()
	cutoff := m.now().Add(-m.scoreWin)
	m.mu.Unlock()

	seen := make(map[string]bool)
	for _, e := range items {
		if !e.Occurred.Before(cutoff) {
			seen[e.ChildID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func penalty(s alerts.Severity) int {
	switch s {
	case alerts.SeverityEmergency:
		return 20
	case alerts.SeverityCritical:
		return 15
	case alerts.SeverityHigh:
		return 10
	case alerts.SeverityMedium:
		return 5
	case alerts.SeverityLow:
		return 1
	default:
		return 0
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func statusFor(score int) string {
	switch {
	case score >= 90:
		return StatusHealthy
	case score >= 70:
		return StatusDegraded
	case score >= 50:
		return StatusAtRisk
	default:
		return StatusCritical
	}
}

func validate(e Event) *validation.Error {
	var details []validation.FieldError
	if e.ChildID == "" {
		details = append(details, validation.FieldError{Field: "childId", Problem: "empty", Hint: "Child identifier is required"})
	}
	if e.EventType == "" {
		details = append(details, validation.FieldError{Field: "eventType", Problem: "empty", Hint: "Event type is required"})
	}
	if _, ok := alerts.ParseSeverity(string(e.Severity)); !ok {
		details = append(details, validation.FieldError{Field: "severity", Problem: "unknown", Hint: "One of low, medium, high, critical, emergency"})
	}
	if len(details) > 0 {
		return &validation.Error{Code: "SAFETY_EVENT_INVALID", Message: "safety event failed validation", Details: details}
	}
	return nil
}
