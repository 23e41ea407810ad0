package engine

import (
	"time"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/safety"
)

type Config struct {
	MetricCapacity       int
	SafetyCapacity       int
	SecurityCapacity     int
	AlertHistoryCapacity int
	PatternWindow        time.Duration
	ScoreWindow          time.Duration
	StaleAfter           time.Duration
	TickInterval         time.Duration
	ShutdownGrace        time.Duration
	NotifyTimeout        time.Duration
	AuthFailureThreshold int
	PatternThresholds    map[string]int
	CriticalEventTypes   []string
	MinNotifySeverity    alerts.Severity
	// ActiveConnections, when set, is probed each tick and recorded as
	// the active_connections gauge.
	ActiveConnections func() int
}

func (c Config) withDefaults() Config {
	if c.MetricCapacity < 1 {
		c.MetricCapacity = 1000
	}
	if c.SafetyCapacity < 1 {
		c.SafetyCapacity = 5000
	}
	if c.SecurityCapacity < 1 {
		c.SecurityCapacity = 2000
	}
	if c.AlertHistoryCapacity < 1 {
		c.AlertHistoryCapacity = 500
	}
	if c.PatternWindow <= 0 {
		c.PatternWindow = time.Hour
	}
	if c.ScoreWindow <= 0 {
		c.ScoreWindow = 24 * time.Hour
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Minute
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = 5 * time.Second
	}
	if c.AuthFailureThreshold < 1 {
		c.AuthFailureThreshold = 10
	}
	if c.PatternThresholds == nil {
		c.PatternThresholds = safety.DefaultPatternThresholds()
	}
	if c.CriticalEventTypes == nil {
		c.CriticalEventTypes = safety.DefaultCriticalEventTypes()
	}
	if c.MinNotifySeverity == "" {
		c.MinNotifySeverity = alerts.SeverityHigh
	}
	return c
}
