package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"guardianai-backend/monitor-service/internal/metrics"
)

const tickPanicBackoff = 30 * time.Second

// Start launches the background health loop. Calling Start again is a
// no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()
	go e.run()
	e.logger.Info("health loop started", slog.Duration("interval", e.cfg.TickInterval))
}

// Close stops the health loop and the notifier. The loop join is bounded
// by the shutdown grace; ctx can cut it shorter.
func (e *Engine) Close(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stop) })
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if started {
		timer := time.NewTimer(e.cfg.ShutdownGrace)
		defer timer.Stop()
		select {
		case <-e.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("health loop did not stop within %s", e.cfg.ShutdownGrace)
		}
	}
	return e.notifier.Stop(ctx)
}

func (e *Engine) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	day := e.now().YearDay()
	for {
		select {
		case <-ticker.C:
			if !e.tick(&day) {
				select {
				case <-time.After(tickPanicBackoff):
				case <-e.stop:
					return
				}
			}
		case <-e.stop:
			return
		}
	}
}

// tick runs the health steps in order, isolating each one so a failing
// step never starves the rest. Returns false when a step panicked, which
// makes the loop back off before the next tick.
func (e *Engine) tick(day *int) bool {
	now := e.now()
	ok := true
	steps := []struct {
		name string
		fn   func(time.Time) error
	}{
		{"derive_error_rate", e.deriveErrorRate},
		{"derive_response_time", e.deriveResponseTime},
		{"probe_connections", e.probeConnections},
		{"auto_resolve_stale", e.autoResolveStale},
	}
	for _, step := range steps {
		err, panicked := runStep(step.fn, now)
		if err != nil {
			e.logger.Error("health step failed",
				slog.String("step", step.name),
				slog.String("error", err.Error()))
		}
		if panicked {
			ok = false
		}
	}
	if d := now.YearDay(); d != *day {
		*day = d
		cleared := e.security.ResetDailyCounters()
		e.logger.Info("daily security counters reset", slog.Int("cleared", cleared))
	}
	return ok
}

func runStep(fn func(time.Time) error, now time.Time) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			panicked = true
		}
	}()
	return fn(now), false
}

// deriveErrorRate turns the requests_total and errors_total counters
// over the last tick window into an error_rate gauge.
func (e *Engine) deriveErrorRate(now time.Time) error {
	window := e.cfg.TickInterval
	reqs, ok := e.store.Aggregate("requests_total", window)
	if !ok || reqs.Count == 0 {
		return nil
	}
	total := reqs.Avg * float64(reqs.Count)
	if total <= 0 {
		return nil
	}
	var errTotal float64
	if errs, ok := e.store.Aggregate("errors_total", window); ok {
		errTotal = errs.Avg * float64(errs.Count)
	}
	return e.store.Record(metrics.Metric{
		Name:     "error_rate",
		Kind:     metrics.KindGauge,
		Value:    errTotal / total,
		Recorded: now,
	})
}

func (e *Engine) deriveResponseTime(now time.Time) error {
	sum, ok := e.store.Aggregate("response_time", e.cfg.TickInterval)
	if !ok {
		return nil
	}
	return e.store.Record(metrics.Metric{
		Name:     "avg_response_time",
		Kind:     metrics.KindGauge,
		Value:    sum.Avg,
		Recorded: now,
	})
}

func (e *Engine) probeConnections(now time.Time) error {
	if e.cfg.ActiveConnections == nil {
		return nil
	}
	return e.store.Record(metrics.Metric{
		Name:     "active_connections",
		Kind:     metrics.KindGauge,
		Value:    float64(e.cfg.ActiveConnections()),
		Recorded: now,
	})
}

func (e *Engine) autoResolveStale(time.Time) error {
	if resolved := e.alerts.AutoResolveStale(e.cfg.StaleAfter); len(resolved) > 0 {
		e.logger.Info("stale alerts auto-resolved", slog.Int("count", len(resolved)))
	}
	return nil
}
