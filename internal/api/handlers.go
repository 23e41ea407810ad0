package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/archive"
	"guardianai-backend/monitor-service/internal/engine"
	"guardianai-backend/monitor-service/internal/metrics"
	"guardianai-backend/monitor-service/internal/rules"
	"guardianai-backend/monitor-service/internal/safety"
	"guardianai-backend/monitor-service/internal/security"
	"guardianai-backend/monitor-service/internal/validation"
)

// AuditReader serves the archived alert trail when a database is wired.
type AuditReader interface {
	Transitions(ctx context.Context, alertKey string, limit int) ([]archive.Transition, error)
}

type Handler struct {
	Engine  *engine.Engine
	Audit   AuditReader
	Timeout time.Duration
}

type errorResponse struct {
	Ok      bool                    `json:"ok"`
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Details []validation.FieldError `json:"details"`
}

type metricRequest struct {
	Name   string            `json:"name"`
	Kind   string            `json:"kind"`
	Value  float64           `json:"value"`
	Labels map[string]string `json:"labels"`
}

type requestSample struct {
	Endpoint   string  `json:"endpoint"`
	DurationMs float64 `json:"durationMs"`
	Status     int     `json:"status"`
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/metrics/summary", h.handleMetricsSummary)
	r.Post("/metrics", h.handleMetricRecord)
	r.Post("/requests", h.handleRequestRecord)
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.handleAlertsList)
		r.Get("/history", h.handleAlertHistory)
		r.Post("/{id}/ack", h.handleAlertAck)
		r.Post("/{id}/resolve", h.handleAlertResolve)
		r.Post("/{id}/suppress", h.handleAlertSuppress)
		if h.Audit != nil {
			r.Get("/audit", h.handleAlertAudit)
		}
	})
	r.Route("/rules", func(r chi.Router) {
		r.Post("/", h.handleRuleCreate)
		r.Get("/", h.handleRulesList)
		r.Delete("/{name}", h.handleRuleDelete)
	})
	r.Route("/safety", func(r chi.Router) {
		r.Post("/events", h.handleSafetyEvent)
		r.Get("/status", h.handleSafetyStatus)
		r.Get("/children", h.handleSafetyChildren)
	})
	r.Route("/security", func(r chi.Router) {
		r.Post("/events", h.handleSecurityEvent)
		r.Get("/events", h.handleSecurityEvents)
		r.Get("/auth-failures", h.handleAuthFailures)
	})
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "up"})
}

func (h *Handler) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	window := 5 * time.Minute
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "invalid window"})
			return
		}
		window = parsed
	}
	writeJSON(w, http.StatusOK, h.Engine.MetricsSummary(window))
}

func (h *Handler) handleMetricRecord(w http.ResponseWriter, r *http.Request) {
	var req metricRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	kind := metrics.KindGauge
	if req.Kind != "" {
		parsed, ok := metrics.ParseKind(req.Kind)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "unknown metric kind"})
			return
		}
		kind = parsed
	}
	m := metrics.Metric{Name: req.Name, Kind: kind, Value: req.Value, Labels: req.Labels}
	if err := h.Engine.RecordMetric(m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleRequestRecord(w http.ResponseWriter, r *http.Request) {
	var req requestSample
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	d := time.Duration(req.DurationMs * float64(time.Millisecond))
	if err := h.Engine.RecordRequestTime(req.Endpoint, d, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("severity")
	if raw == "" {
		writeJSON(w, http.StatusOK, h.Engine.ListActiveAlerts())
		return
	}
	sev, ok := alerts.ParseSeverity(raw)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "unknown severity"})
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.ListActiveAlerts(sev))
}

func (h *Handler) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "invalid limit"})
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.AlertHistory(limit))
}

func (h *Handler) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.Engine.AcknowledgeAlert(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "alert not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "alert": a})
}

// Resolving twice is a no-op, not an error: the second call reports
// resolved=false with status 200.
func (h *Handler) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, ok := h.Engine.ResolveAlert(id)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "resolved": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "resolved": true, "alert": a})
}

func (h *Handler) handleAlertSuppress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := h.Engine.SuppressAlert(id)
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "alert not found"})
	case errors.Is(err, alerts.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": "only active alerts can be suppressed"})
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "alert": a})
	}
}

func (h *Handler) handleAlertAudit(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "key is required"})
		return
	}
	limit, ok := queryInt(r, "limit", 100)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "invalid limit"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()
	trail, err := h.Audit.Transitions(ctx, key, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "failed to fetch audit trail"})
		return
	}
	writeJSON(w, http.StatusOK, trail)
}

func (h *Handler) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var req rules.Rule
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if err := h.Engine.RegisterRule(req); err != nil {
		if errors.Is(err, rules.ErrRuleExists) {
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "message": err.Error()})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "rule": req})
}

func (h *Handler) handleRulesList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Rules())
}

func (h *Handler) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.Engine.UnregisterRule(name) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "message": "rule not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSafetyEvent(w http.ResponseWriter, r *http.Request) {
	var req safety.Event
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	if err := h.Engine.RecordSafetyEvent(req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSafetyStatus(w http.ResponseWriter, r *http.Request) {
	childID := r.URL.Query().Get("childId")
	if childID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "childId is required"})
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.ChildSafetyStatus(childID))
}

func (h *Handler) handleSafetyChildren(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.TrackedChildren())
}

func (h *Handler) handleSecurityEvent(w http.ResponseWriter, r *http.Request) {
	var req security.Event
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": err.Error()})
		return
	}
	count := h.Engine.RecordSecurityEvent(req)
	resp := map[string]any{"ok": true}
	if req.Kind == security.KindAuthFailure {
		resp["failedAuthCount"] = count
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "message": "invalid limit"})
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.RecentSecurityEvents(limit))
}

func (h *Handler) handleAuthFailures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.FailedAuthCounts())
}

func (h *Handler) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return 5 * time.Second
}

func queryInt(r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}

func writeError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Ok:      false,
			Code:    verr.Code,
			Message: verr.Message,
			Details: verr.Details,
		})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
