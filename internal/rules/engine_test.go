package rules

import (
	"errors"
	"testing"

	"guardianai-backend/monitor-service/internal/alerts"
	"guardianai-backend/monitor-service/internal/metrics"
	"guardianai-backend/monitor-service/internal/validation"
)

func gauge(name string, value float64) metrics.Metric {
	return metrics.Metric{Name: name, Kind: metrics.KindGauge, Value: value}
}

func TestRegisterRejectsUnsupportedComparator(t *testing.T) {
	e := NewEngine(nil)
	err := e.Register(Rule{Name: "r", MetricName: "cpu", Comparator: ">=", Threshold: 1, Severity: alerts.SeverityLow})
	if err == nil {
		t.Fatalf("expected error for >= comparator")
	}
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *validation.Error, got %T", err)
	}
	if len(verr.Details) != 1 || verr.Details[0].Field != "comparator" {
		t.Fatalf("expected comparator detail, got %+v", verr.Details)
	}
}

func TestRegisterCollectsAllProblems(t *testing.T) {
	e := NewEngine(nil)
	err := e.Register(Rule{Comparator: "between", Severity: "severe"})
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *validation.Error, got %T", err)
	}
	if len(verr.Details) != 4 {
		t.Fatalf("expected 4 details, got %d: %+v", len(verr.Details), verr.Details)
	}
}

func TestEvaluateComparators(t *testing.T) {
	e := NewEngine(nil)
	rules := []Rule{
		{Name: "above", MetricName: "cpu", Comparator: CmpGreater, Threshold: 90, Severity: alerts.SeverityHigh},
		{Name: "below", MetricName: "cpu", Comparator: CmpLess, Threshold: 10, Severity: alerts.SeverityLow},
		{Name: "exact", MetricName: "cpu", Comparator: CmpEqual, Threshold: 50, Severity: alerts.SeverityMedium},
	}
	for _, r := range rules {
		if err := e.Register(r); err != nil {
			t.Fatalf("register %s: %v", r.Name, err)
		}
	}

	cases := []struct {
		value float64
		want  []string
	}{
		{95, []string{"above"}},
		{5, []string{"below"}},
		{50, []string{"exact"}},
		{90, nil},
		{10, nil},
	}
	for _, tc := range cases {
		matches := e.Evaluate(gauge("cpu", tc.value))
		if len(matches) != len(tc.want) {
			t.Fatalf("value %v: expected %d matches, got %d", tc.value, len(tc.want), len(matches))
		}
		for i, name := range tc.want {
			if matches[i].Rule.Name != name {
				t.Fatalf("value %v: expected %s, got %s", tc.value, name, matches[i].Rule.Name)
			}
		}
	}
}

func TestEvaluateIgnoresOtherMetrics(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Register(Rule{Name: "r", MetricName: "cpu", Comparator: CmpGreater, Threshold: 1, Severity: alerts.SeverityLow}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if matches := e.Evaluate(gauge("memory", 100)); len(matches) != 0 {
		t.Fatalf("expected no matches for unrelated metric, got %d", len(matches))
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Register(Rule{Name: "r", MetricName: "cpu", Comparator: CmpGreater, Threshold: 90, Severity: alerts.SeverityLow}); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := e.Register(Rule{Name: "r", MetricName: "cpu", Comparator: CmpGreater, Threshold: 50, Severity: alerts.SeverityHigh})
	if !errors.Is(err, ErrRuleExists) {
		t.Fatalf("expected ErrRuleExists, got %v", err)
	}
	got := e.Rules()
	if len(got) != 1 || got[0].Threshold != 90 {
		t.Fatalf("expected original rule untouched, got %+v", got)
	}

	// Replacement goes through unregister-then-register.
	if !e.Unregister("r") {
		t.Fatalf("expected unregister to succeed")
	}
	if err := e.Register(Rule{Name: "r", MetricName: "cpu", Comparator: CmpGreater, Threshold: 50, Severity: alerts.SeverityHigh}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if got := e.Rules(); len(got) != 1 || got[0].Threshold != 50 {
		t.Fatalf("expected re-registered rule, got %+v", got)
	}
}

func TestUnregister(t *testing.T) {
	e := NewEngine(nil)
	if err := e.Register(Rule{Name: "r", MetricName: "cpu", Comparator: CmpLess, Threshold: 1, Severity: alerts.SeverityLow}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !e.Unregister("r") {
		t.Fatalf("expected unregister to succeed")
	}
	if e.Unregister("r") {
		t.Fatalf("expected second unregister to report false")
	}
	if matches := e.Evaluate(gauge("cpu", 0)); len(matches) != 0 {
		t.Fatalf("expected no matches after unregister")
	}
}

func TestMatchExpr(t *testing.T) {
	m := Match{
		Rule:     Rule{MetricName: "cpu_usage", Comparator: CmpGreater, Threshold: 90},
		Observed: 93.4,
	}
	want := "cpu_usage > 90 (observed 93.4)"
	if got := m.Expr(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
