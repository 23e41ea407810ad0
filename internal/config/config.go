package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/engine"
	"guardianai-backend/monitor-service/internal/rules"
	"guardianai-backend/monitor-service/internal/validation"
)

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// EngineConfig mirrors engine.Config with YAML-friendly units. Zero
// values fall through to the engine defaults.
type EngineConfig struct {
	MetricCapacity       int            `yaml:"metric_capacity"`
	SafetyCapacity       int            `yaml:"safety_capacity"`
	SecurityCapacity     int            `yaml:"security_capacity"`
	AlertHistoryCapacity int            `yaml:"alert_history_capacity"`
	PatternWindowMinutes int            `yaml:"pattern_window_minutes"`
	ScoreWindowHours     int            `yaml:"score_window_hours"`
	StaleAfterMinutes    int            `yaml:"stale_after_minutes"`
	TickSeconds          int            `yaml:"tick_seconds"`
	ShutdownGraceSeconds int            `yaml:"shutdown_grace_seconds"`
	AuthFailureThreshold int            `yaml:"auth_failure_threshold"`
	PatternThresholds    map[string]int `yaml:"pattern_thresholds"`
	CriticalEventTypes   []string       `yaml:"critical_event_types"`
	MinNotifySeverity    string         `yaml:"min_notify_severity"`
}

// RuleConfig is an alert rule registered at boot.
type RuleConfig struct {
	Name        string  `yaml:"name"`
	Metric      string  `yaml:"metric"`
	Comparator  string  `yaml:"comparator"`
	Threshold   float64 `yaml:"threshold"`
	Severity    string  `yaml:"severity"`
	Description string  `yaml:"description"`
}

type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	NATS       NATSConfig     `yaml:"nats"`
	Database   DatabaseConfig `yaml:"database"`
	Engine     EngineConfig   `yaml:"engine"`
	Rules      []RuleConfig   `yaml:"rules"`
}

// Default is the configuration the daemon runs with when no file is
// present: engine defaults, listen on :8092, no NATS, no database.
func Default() Config {
	return Config{ListenAddr: ":8092"}
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8092"
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var details []validation.FieldError
	if c.Engine.MinNotifySeverity != "" {
		if _, ok := alerts.ParseSeverity(c.Engine.MinNotifySeverity); !ok {
			details = append(details, validation.FieldError{
				Field:   "engine.min_notify_severity",
				Problem: "unknown",
				Hint:    "One of low, medium, high, critical, emergency",
			})
		}
	}
	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if verr := rules.Validate(rules.Rule{
			Name:       r.Name,
			MetricName: r.Metric,
			Comparator: rules.Comparator(r.Comparator),
			Threshold:  r.Threshold,
			Severity:   alerts.Severity(r.Severity),
		}); verr != nil {
			for _, d := range verr.Details {
				details = append(details, validation.FieldError{
					Field:   fmt.Sprintf("rules[%d].%s", i, d.Field),
					Problem: d.Problem,
					Hint:    d.Hint,
				})
			}
		}
		if r.Name != "" && seen[r.Name] {
			details = append(details, validation.FieldError{
				Field:   fmt.Sprintf("rules[%d].name", i),
				Problem: "duplicate",
				Hint:    "Rule names must be unique",
			})
		}
		seen[r.Name] = true
	}
	if len(details) > 0 {
		return &validation.Error{Code: "CONFIG_INVALID", Message: "configuration failed validation", Details: details}
	}
	return nil
}

// EngineConfig converts the YAML units into the engine's durations.
func (c Config) EngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		MetricCapacity:       e.MetricCapacity,
		SafetyCapacity:       e.SafetyCapacity,
		SecurityCapacity:     e.SecurityCapacity,
		AlertHistoryCapacity: e.AlertHistoryCapacity,
		PatternWindow:        time.Duration(e.PatternWindowMinutes) * time.Minute,
		ScoreWindow:          time.Duration(e.ScoreWindowHours) * time.Hour,
		StaleAfter:           time.Duration(e.StaleAfterMinutes) * time.Minute,
		TickInterval:         time.Duration(e.TickSeconds) * time.Second,
		ShutdownGrace:        time.Duration(e.ShutdownGraceSeconds) * time.Second,
		AuthFailureThreshold: e.AuthFailureThreshold,
		PatternThresholds:    e.PatternThresholds,
		CriticalEventTypes:   e.CriticalEventTypes,
		MinNotifySeverity:    alerts.Severity(e.MinNotifySeverity),
	}
}

// BootRules converts the configured rule list for registration.
func (c Config) BootRules() []rules.Rule {
	out := make([]rules.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		out = append(out, rules.Rule{
			Name:        r.Name,
			MetricName:  r.Metric,
			Comparator:  rules.Comparator(r.Comparator),
			Threshold:   r.Threshold,
			Severity:    alerts.Severity(r.Severity),
			Description: r.Description,
		})
	}
	return out
}
