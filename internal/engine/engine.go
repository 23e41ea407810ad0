package engine

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/metrics"
	"guardianai-backend/monitor-service/internal/notify"
	"guardianai-backend/monitor-service/internal/rules"
	"guardianai-backend/monitor-service/internal/safety"
	"guardianai-backend/monitor-service/internal/security"
)

// AuditSink receives alert lifecycle transitions for external archival.
// Writes are best-effort; the engine never reads them back.
type AuditSink interface {
	AlertFired(ctx context.Context, a alerts.Alert) error
	AlertResolved(ctx context.Context, a alerts.Alert) error
	AlertSuppressed(ctx context.Context, a alerts.Alert) error
}

const auditTimeout = 3 * time.Second

// Engine wires the metric store, rule engine, alert manager, safety
// monitor and security tracker together and runs the background health
// loop. Every metric write is evaluated against the registered rules;
// safety and security escalations fire into the shared alert manager.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	store    *metrics.Store
	rules    *rules.Engine
	alerts   *alerts.Manager
	safety   *safety.Monitor
	security *security.Tracker
	notifier *notify.Notifier

	totalRequests atomic.Int64
	totalErrors   atomic.Int64

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

func New(cfg Config, logger *slog.Logger, sinks ...notify.Sink) *Engine {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(sinks) == 0 {
		sinks = []notify.Sink{notify.LogSink{Logger: logger}}
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    metrics.NewStore(cfg.MetricCapacity),
		rules:    rules.NewEngine(logger),
		alerts:   alerts.NewManager(cfg.AlertHistoryCapacity, logger),
		security: security.NewTracker(cfg.SecurityCapacity, cfg.AuthFailureThreshold, logger),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	e.safety = safety.NewMonitor(safety.Config{
		Capacity:           cfg.SafetyCapacity,
		PatternWindow:      cfg.PatternWindow,
		ScoreWindow:        cfg.ScoreWindow,
		PatternThresholds:  cfg.PatternThresholds,
		CriticalEventTypes: cfg.CriticalEventTypes,
	}, logger)

	e.notifier = notify.NewNotifier(cfg.MinNotifySeverity, cfg.NotifyTimeout, logger, sinks...)
	e.notifier.OnFailure(func(sink string, err error) {
		e.security.Record(security.Event{
			Kind:     "notification_failures",
			ClientID: sink,
			Detail:   err.Error(),
			Severity: alerts.SeverityMedium,
		})
	})
	e.alerts.SetNotifier(e.notifier)
	e.store.OnWrite(e.evaluateRules)
	e.safety.OnAlert(e.fire)
	e.security.OnAlert(e.fire)
	return e
}

// SetAuditSink wires best-effort archival of alert transitions. Each
// write runs on its own short-lived goroutine with a bounded timeout.
func (e *Engine) SetAuditSink(s AuditSink) {
	e.alerts.SetOnFire(func(a alerts.Alert) { e.audit("fired", s.AlertFired, a) })
	e.alerts.SetOnResolve(func(a alerts.Alert) { e.audit("resolved", s.AlertResolved, a) })
	e.alerts.SetOnSuppress(func(a alerts.Alert) { e.audit("suppressed", s.AlertSuppressed, a) })
}

func (e *Engine) audit(event string, fn func(context.Context, alerts.Alert) error, a alerts.Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := fn(ctx, a); err != nil {
			e.logger.Warn("alert audit write failed",
				slog.String("event", event),
				slog.String("key", a.Key),
				slog.String("error", err.Error()))
		}
	}()
}

func (e *Engine) fire(f alerts.Firing) {
	e.alerts.Fire(f)
}

func (e *Engine) evaluateRules(m metrics.Metric) {
	for _, match := range e.rules.Evaluate(m) {
		e.alerts.Fire(alerts.Firing{
			Key:       "rule:" + match.Rule.Name,
			Name:      match.Rule.Name,
			Message:   match.Expr(),
			Severity:  match.Rule.Severity,
			Metric:    match.Rule.MetricName,
			Observed:  match.Observed,
			Threshold: match.Rule.Threshold,
		})
	}
}

func (e *Engine) RecordMetric(m metrics.Metric) error {
	return e.store.Record(m)
}

func (e *Engine) Counter(name string, delta float64) error {
	return e.store.Record(metrics.Metric{Name: name, Kind: metrics.KindCounter, Value: delta})
}

func (e *Engine) Gauge(name string, value float64) error {
	return e.store.Record(metrics.Metric{Name: name, Kind: metrics.KindGauge, Value: value})
}

// Timing records a timer sample in milliseconds.
func (e *Engine) Timing(name string, d time.Duration) error {
	return e.store.Record(metrics.Metric{
		Name:  name,
		Kind:  metrics.KindTimer,
		Value: float64(d) / float64(time.Millisecond),
	})
}

// RecordRequestTime ingests one served request: a response_time timer
// sample plus the requests_total counter, and errors_total when the
// status is a server error. The health loop derives error_rate and
// avg_response_time from these series on each tick.
func (e *Engine) RecordRequestTime(endpoint string, d time.Duration, status int) error {
	e.totalRequests.Add(1)
	if err := e.store.Record(metrics.Metric{
		Name:  "requests_total",
		Kind:  metrics.KindCounter,
		Value: 1,
	}); err != nil {
		return err
	}
	if status >= 500 {
		e.totalErrors.Add(1)
		if err := e.store.Record(metrics.Metric{
			Name:  "errors_total",
			Kind:  metrics.KindCounter,
			Value: 1,
		}); err != nil {
			return err
		}
	}
	return e.store.Record(metrics.Metric{
		Name:  "response_time",
		Kind:  metrics.KindTimer,
		Value: float64(d) / float64(time.Millisecond),
		Labels: map[string]string{
			"endpoint": endpoint,
			"status":   strconv.Itoa(status),
		},
	})
}

func (e *Engine) RecordSafetyEvent(ev safety.Event) error {
	return e.safety.Record(ev)
}

func (e *Engine) RecordAuthFailure(clientID string) int {
	return e.security.RecordAuthFailure(clientID)
}

// RecordSecurityEvent appends to the security trail. Auth failures also
// bump the per-client counter; the returned count is that running total
// and zero for every other kind.
func (e *Engine) RecordSecurityEvent(ev security.Event) int {
	return e.security.Record(ev)
}

func (e *Engine) RegisterRule(r rules.Rule) error {
	return e.rules.Register(r)
}

func (e *Engine) UnregisterRule(name string) bool {
	return e.rules.Unregister(name)
}

func (e *Engine) Rules() []rules.Rule {
	return e.rules.Rules()
}

func (e *Engine) AcknowledgeAlert(id string) (alerts.Alert, error) {
	return e.alerts.Acknowledge(id)
}

func (e *Engine) ResolveAlert(id string) (alerts.Alert, bool) {
	return e.alerts.ResolveByID(id)
}

func (e *Engine) SuppressAlert(id string) (alerts.Alert, error) {
	return e.alerts.Suppress(id)
}

// ListActiveAlerts returns active alerts ordered by severity then
// recency, optionally narrowed to the given severities.
func (e *Engine) ListActiveAlerts(severities ...alerts.Severity) []alerts.Alert {
	active := e.alerts.Active()
	if len(severities) == 0 {
		return active
	}
	out := make([]alerts.Alert, 0, len(active))
	for _, a := range active {
		for _, s := range severities {
			if a.Severity == s {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

func (e *Engine) ActiveAlertCounts() map[alerts.Severity]int {
	return e.alerts.ActiveCount()
}

func (e *Engine) AlertHistory(limit int) []alerts.Alert {
	return e.alerts.History(limit)
}

type MetricsSummary struct {
	Window                string                     `json:"window"`
	TotalMetrics          int                        `json:"totalMetrics"`
	SeriesCount           int                        `json:"seriesCount"`
	ActiveAlerts          int                        `json:"activeAlerts"`
	TotalRequests         int64                      `json:"totalRequests"`
	ErrorRate             float64                    `json:"errorRate"`
	AvgResponseTime       float64                    `json:"avgResponseTimeMs"`
	ActiveConnections     int                        `json:"activeConnections"`
	ChildSafetyEventCount int                        `json:"childSafetyEventCount"`
	DroppedPoints         uint64                     `json:"droppedPoints"`
	Series                map[string]metrics.Summary `json:"series"`
	Generated             time.Time                  `json:"generated"`
}

// MetricsSummary aggregates every tracked series over the window and
// folds in the derived service health figures. TotalRequests and
// ErrorRate are cumulative since construction; AvgResponseTime covers
// the window only. A non-positive window falls back to five minutes.
func (e *Engine) MetricsSummary(window time.Duration) MetricsSummary {
	if window <= 0 {
		window = 5 * time.Minute
	}
	totalReqs := e.totalRequests.Load()
	var errorRate float64
	if totalReqs > 0 {
		errorRate = float64(e.totalErrors.Load()) / float64(totalReqs)
	}
	var avgResponse float64
	if sum, ok := e.store.Aggregate("response_time", window); ok {
		avgResponse = sum.Avg
	}
	return MetricsSummary{
		Window:                window.String(),
		TotalMetrics:          e.store.PointCount(),
		SeriesCount:           e.store.SeriesCount(),
		ActiveAlerts:          len(e.alerts.Active()),
		TotalRequests:         totalReqs,
		ErrorRate:             errorRate,
		AvgResponseTime:       avgResponse,
		ActiveConnections:     e.activeConnections(window),
		ChildSafetyEventCount: e.safety.RecentEventCount(),
		DroppedPoints:         e.store.Dropped(),
		Series:                e.store.Summaries(window),
		Generated:             e.now(),
	}
}

// activeConnections prefers the live probe when one is configured and
// falls back to the latest gauge the health loop recorded.
func (e *Engine) activeConnections(window time.Duration) int {
	if e.cfg.ActiveConnections != nil {
		return e.cfg.ActiveConnections()
	}
	if sum, ok := e.store.Aggregate("active_connections", window); ok && sum.Count > 0 {
		return int(sum.Latest)
	}
	return 0
}

// ChildSafetyStatus derives the live snapshot for one child, counting
// only that child's active alerts.
func (e *Engine) ChildSafetyStatus(childID string) safety.Snapshot {
	var total, emergencies int
	for _, a := range e.alerts.Active() {
		if a.ChildID != childID {
			continue
		}
		total++
		if a.Severity == alerts.SeverityEmergency {
			emergencies++
		}
	}
	return e.safety.Snapshot(childID, total, emergencies)
}

// TrackedChildren lists children with safety events inside the score
// window.
func (e *Engine) TrackedChildren() []string {
	return e.safety.Children()
}

func (e *Engine) ChildSafetyScore(childID string) int {
	return e.safety.Score(childID)
}

func (e *Engine) SafetyEventCount() int {
	return e.safety.RecentEventCount()
}

func (e *Engine) FailedAuthCounts() map[string]int {
	return e.security.FailedAuth()
}

func (e *Engine) FailedAuthClients() int {
	return e.security.FailedAuthClients()
}

func (e *Engine) RecentSecurityEvents(limit int) []security.Event {
	return e.security.Recent(limit)
}

func (e *Engine) SeriesCount() int {
	return e.store.SeriesCount()
}

func (e *Engine) MetricPointCount() int {
	return e.store.PointCount()
}

func (e *Engine) DroppedPoints() uint64 {
	return e.store.Dropped()
}
