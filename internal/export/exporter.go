package export

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/engine"
)

// Exporter republishes engine state as Prometheus gauges on a private
// registry. Values are refreshed from the engine on every scrape, so
// the gauges are never stale by more than one scrape interval.
type Exporter struct {
	engine   *engine.Engine
	registry *prometheus.Registry

	safetyScore  *prometheus.GaugeVec
	activeAlerts *prometheus.GaugeVec
	series       prometheus.Gauge
	points       prometheus.Gauge
	dropped      prometheus.Gauge
	safetyEvents prometheus.Gauge
	authClients  prometheus.Gauge
}

func NewExporter(eng *engine.Engine) *Exporter {
	e := &Exporter{
		engine:   eng,
		registry: prometheus.NewRegistry(),
		safetyScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_child_safety_score",
			Help: "Per-child safety score over the trailing day.",
		}, []string{"child_id"}),
		activeAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_active_alerts",
			Help: "Unresolved alerts by severity.",
		}, []string{"severity"}),
		series: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_metric_series",
			Help: "Tracked metric series.",
		}),
		points: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_metric_points",
			Help: "Retained metric points across all series.",
		}),
		dropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_metric_points_dropped",
			Help: "Points evicted oldest-first from full buffers since start.",
		}),
		safetyEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_safety_events_24h",
			Help: "Child safety events recorded in the trailing day.",
		}),
		authClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "guardian_auth_failure_clients",
			Help: "Clients with failed auth attempts today.",
		}),
	}
	e.registry.MustRegister(
		e.safetyScore,
		e.activeAlerts,
		e.series,
		e.points,
		e.dropped,
		e.safetyEvents,
		e.authClients,
	)
	return e
}

func (e *Exporter) refresh() {
	e.safetyScore.Reset()
	for _, child := range e.engine.TrackedChildren() {
		e.safetyScore.WithLabelValues(child).Set(float64(e.engine.ChildSafetyScore(child)))
	}
	e.activeAlerts.Reset()
	counts := e.engine.ActiveAlertCounts()
	for _, sev := range []alerts.Severity{alerts.SeverityLow, alerts.SeverityMedium, alerts.SeverityHigh, alerts.SeverityCritical, alerts.SeverityEmergency} {
		e.activeAlerts.WithLabelValues(string(sev)).Set(float64(counts[sev]))
	}
	e.series.Set(float64(e.engine.SeriesCount()))
	e.points.Set(float64(e.engine.MetricPointCount()))
	e.dropped.Set(float64(e.engine.DroppedPoints()))
	e.safetyEvents.Set(float64(e.engine.SafetyEventCount()))
	e.authClients.Set(float64(e.engine.FailedAuthClients()))
}

// Handler refreshes the gauges then serves the scrape.
func (e *Exporter) Handler() http.Handler {
	scrape := promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.refresh()
		scrape.ServeHTTP(w, r)
	})
}
