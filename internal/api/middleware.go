package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"guardianai-backend/monitor-service/internal/engine"
)

// RequestMetrics feeds every served request back into the engine, so the
// service watches its own API: response time, status class and in-flight
// count. Wire inflight into the engine config as the connection probe.
func RequestMetrics(eng *engine.Engine, inflight *atomic.Int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inflight.Add(1)
			defer inflight.Add(-1)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			_ = eng.RecordRequestTime(r.Method+" "+routePattern(r), time.Since(start), status)
		})
	}
}

// routePattern prefers the matched chi pattern over the raw path so
// /alerts/{id}/ack stays one series regardless of the id.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
