package metrics

import (
	"errors"
	"math"
	"testing"
	"time"

	"guardianai-backend/monitor-service/internal/validation"
)

func record(t *testing.T, s *Store, name string, value float64, age time.Duration) {
	t.Helper()
	err := s.Record(Metric{
		Name:     name,
		Kind:     KindGauge,
		Value:    value,
		Recorded: time.Now().Add(-age),
	})
	if err != nil {
		t.Fatalf("record %s: %v", name, err)
	}
}

func TestAggregateWindow(t *testing.T) {
	s := NewStore(100)
	record(t, s, "cpu", 10, 10*time.Minute)
	record(t, s, "cpu", 40, 2*time.Minute)
	record(t, s, "cpu", 20, time.Minute)

	sum, ok := s.Aggregate("cpu", 5*time.Minute)
	if !ok {
		t.Fatalf("expected summary")
	}
	if sum.Count != 2 {
		t.Fatalf("expected 2 points in window, got %d", sum.Count)
	}
	if sum.Min != 20 || sum.Max != 40 {
		t.Fatalf("expected min 20 max 40, got %v %v", sum.Min, sum.Max)
	}
	if sum.Avg != 30 {
		t.Fatalf("expected avg 30, got %v", sum.Avg)
	}
	if sum.Latest != 20 {
		t.Fatalf("expected latest 20, got %v", sum.Latest)
	}
}

func TestAggregateSinglePoint(t *testing.T) {
	s := NewStore(10)
	record(t, s, "mem", 42, 0)
	sum, ok := s.Aggregate("mem", time.Minute)
	if !ok {
		t.Fatalf("expected summary")
	}
	if sum.Count != 1 || sum.Min != 42 || sum.Max != 42 || sum.Avg != 42 || sum.Latest != 42 {
		t.Fatalf("expected all fields 42, got %+v", sum)
	}
}

func TestAggregateEmptyCases(t *testing.T) {
	s := NewStore(10)
	if _, ok := s.Aggregate("missing", time.Minute); ok {
		t.Fatalf("expected no summary for unknown series")
	}
	record(t, s, "cpu", 1, time.Hour)
	if _, ok := s.Aggregate("cpu", time.Minute); ok {
		t.Fatalf("expected no summary when window has no points")
	}
	if _, ok := s.Aggregate("cpu", 0); ok {
		t.Fatalf("expected no summary for zero window")
	}
	if _, ok := s.Aggregate("cpu", -time.Minute); ok {
		t.Fatalf("expected no summary for negative window")
	}
}

func TestRecordValidation(t *testing.T) {
	s := NewStore(10)
	err := s.Record(Metric{Name: "", Kind: Kind("bogus"), Value: 1})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var verr *validation.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *validation.Error, got %T", err)
	}
	if verr.Code != "METRIC_INVALID" {
		t.Fatalf("expected METRIC_INVALID, got %s", verr.Code)
	}
	if len(verr.Details) != 2 {
		t.Fatalf("expected details for name and kind, got %d", len(verr.Details))
	}
}

func TestRecordRejectsNonFiniteValues(t *testing.T) {
	s := NewStore(10)
	if err := s.Record(Metric{Name: "x", Kind: KindGauge, Value: math.NaN()}); err == nil {
		t.Fatalf("expected NaN to be rejected")
	}
	if err := s.Record(Metric{Name: "x", Kind: KindGauge, Value: math.Inf(1)}); err == nil {
		t.Fatalf("expected Inf to be rejected")
	}
}

func TestSeriesCapacityEvictsOldest(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		record(t, s, "cpu", float64(i), 0)
	}
	sum, ok := s.Aggregate("cpu", time.Minute)
	if !ok {
		t.Fatalf("expected summary")
	}
	if sum.Count != 3 {
		t.Fatalf("expected 3 retained points, got %d", sum.Count)
	}
	if sum.Min != 2 {
		t.Fatalf("expected oldest points evicted, min %v", sum.Min)
	}
	if s.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", s.Dropped())
	}
}

func TestOnWriteHookRunsPerRecord(t *testing.T) {
	s := NewStore(10)
	var seen []Metric
	s.OnWrite(func(m Metric) { seen = append(seen, m) })
	record(t, s, "cpu", 1, 0)
	record(t, s, "cpu", 2, 0)
	if len(seen) != 2 {
		t.Fatalf("expected hook twice, got %d", len(seen))
	}
	if seen[1].Value != 2 {
		t.Fatalf("expected hook to see recorded value")
	}
	if err := s.Record(Metric{Name: "", Kind: KindGauge}); err == nil {
		t.Fatalf("expected validation error")
	}
	if len(seen) != 2 {
		t.Fatalf("expected no hook on rejected write")
	}
}

func TestSummariesSkipEmptySeries(t *testing.T) {
	s := NewStore(10)
	record(t, s, "fresh", 5, 0)
	record(t, s, "stale", 5, 2*time.Hour)
	out := s.Summaries(time.Minute)
	if len(out) != 1 {
		t.Fatalf("expected 1 series in window, got %d", len(out))
	}
	if _, ok := out["fresh"]; !ok {
		t.Fatalf("expected fresh series present")
	}
}

func TestNamesSorted(t *testing.T) {
	s := NewStore(10)
	record(t, s, "zeta", 1, 0)
	record(t, s, "alpha", 1, 0)
	names := s.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestPointCountSpansSeries(t *testing.T) {
	s := NewStore(3)
	record(t, s, "cpu", 1, 0)
	record(t, s, "cpu", 2, 0)
	record(t, s, "mem", 3, 0)
	if got := s.PointCount(); got != 3 {
		t.Fatalf("expected 3 points, got %d", got)
	}
	for i := 0; i < 5; i++ {
		record(t, s, "cpu", float64(i), 0)
	}
	if got := s.PointCount(); got != 4 {
		t.Fatalf("expected retained points capped by capacity, got %d", got)
	}
}
