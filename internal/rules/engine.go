package rules

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/metrics"
	"guardianai-backend/monitor-service/internal/validation"
)

// ErrRuleExists is returned when registering a name that is already
// taken. Rules are immutable once registered; replacing one means
// unregistering it first.
var ErrRuleExists = errors.New("rule already registered")

type Comparator string

const (
	CmpGreater Comparator = ">"
	CmpLess    Comparator = "<"
	CmpEqual   Comparator = "=="
)

type Rule struct {
	Name        string          `json:"name"`
	MetricName  string          `json:"metricName"`
	Comparator  Comparator      `json:"comparator"`
	Threshold   float64         `json:"threshold"`
	Severity    alerts.Severity `json:"severity"`
	Description string          `json:"description,omitempty"`
}

type Match struct {
	Rule     Rule
	Observed float64
}

func (m Match) Expr() string {
	return fmt.Sprintf("%s %s %g (observed %g)", m.Rule.MetricName, m.Rule.Comparator, m.Rule.Threshold, m.Observed)
}

// Engine holds registered alert rules keyed by rule name and evaluates
// them against incoming metrics.
type Engine struct {
	mu     sync.Mutex
	rules  map[string]Rule
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		rules:  make(map[string]Rule),
		logger: logger,
	}
}

// Register validates and stores a rule. Names are unique: registering a
// taken name fails with ErrRuleExists instead of mutating the rule in
// place.
func (e *Engine) Register(r Rule) error {
	if verr := Validate(r); verr != nil {
		return verr
	}
	e.mu.Lock()
	if _, taken := e.rules[r.Name]; taken {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRuleExists, r.Name)
	}
	e.rules[r.Name] = r
	e.mu.Unlock()
	e.logger.Info("alert rule registered",
		slog.String("rule", r.Name),
		slog.String("metric", r.MetricName))
	return nil
}

func (e *Engine) Unregister(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[name]; !ok {
		return false
	}
	delete(e.rules, name)
	return true
}

func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	out := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evaluate returns a match for every rule watching m's series whose
// condition holds, sorted by rule name.
func (e *Engine) Evaluate(m metrics.Metric) []Match {
	e.mu.Lock()
	var out []Match
	for _, r := range e.rules {
		if r.MetricName != m.Name {
			continue
		}
		if compare(m.Value, r.Comparator, r.Threshold) {
			out = append(out, Match{Rule: r, Observed: m.Value})
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.Name < out[j].Rule.Name })
	return out
}

func compare(value float64, cmp Comparator, threshold float64) bool {
	switch cmp {
	case CmpGreater:
		return value > threshold
	case CmpLess:
		return value < threshold
	case CmpEqual:
		return value == threshold
	default:
		return false
	}
}

func Validate(r Rule) *validation.Error {
	var details []validation.FieldError
	if r.Name == "" {
		details = append(details, validation.FieldError{Field: "name", Problem: "empty", Hint: "Rule name is required"})
	}
	if r.MetricName == "" {
		details = append(details, validation.FieldError{Field: "metricName", Problem: "empty", Hint: "Metric name is required"})
	}
	switch r.Comparator {
	case CmpGreater, CmpLess, CmpEqual:
	default:
		details = append(details, validation.FieldError{Field: "comparator", Problem: "unsupported", Hint: "Use one of >, <, =="})
	}
	if _, ok := alerts.ParseSeverity(string(r.Severity)); !ok {
		details = append(details, validation.FieldError{Field: "severity", Problem: "unknown", Hint: "One of low, medium, high, critical, emergency"})
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		details = append(details, validation.FieldError{Field: "threshold", Problem: "not finite", Hint: "Use a finite number"})
	}
	if len(details) > 0 {
		return &validation.Error{Code: "RULE_INVALID", Message: "alert rule failed validation", Details: details}
	}
	return nil
}
