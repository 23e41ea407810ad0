package security

import (
	"testing"

	"guardianai-backend/monitor-service/internal/alerts"
)

func TestAuthFailureFiresAtThreshold(t *testing.T) {
	tr := NewTracker(100, 10, nil)
	var fired []alerts.Firing
	tr.OnAlert(func(f alerts.Firing) { fired = append(fired, f) })

	for i := 1; i <= 9; i++ {
		if count := tr.RecordAuthFailure("client-1"); count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}
	if len(fired) != 0 {
		t.Fatalf("expected no alert below threshold, got %d", len(fired))
	}
	if count := tr.RecordAuthFailure("client-1"); count != 10 {
		t.Fatalf("expected count 10, got %d", count)
	}
	if len(fired) != 1 {
		t.Fatalf("expected alert at threshold, got %d", len(fired))
	}
	f := fired[0]
	if f.Severity != alerts.SeverityHigh {
		t.Fatalf("expected high severity, got %s", f.Severity)
	}
	if f.Key != "security:auth_failures:client-1" {
		t.Fatalf("unexpected key %s", f.Key)
	}
	if f.Observed != 10 || f.Threshold != 10 {
		t.Fatalf("expected observed and threshold 10, got %v %v", f.Observed, f.Threshold)
	}

	tr.RecordAuthFailure("client-1")
	if len(fired) != 2 {
		t.Fatalf("expected refire above threshold, got %d", len(fired))
	}
}

func TestRecordDispatchesAuthFailures(t *testing.T) {
	tr := NewTracker(100, 3, nil)
	var fired []alerts.Firing
	tr.OnAlert(func(f alerts.Firing) { fired = append(fired, f) })

	for i := 1; i <= 3; i++ {
		count := tr.Record(Event{Kind: KindAuthFailure, ClientID: "1.2.3.4", Severity: alerts.SeverityMedium})
		if count != i {
			t.Fatalf("expected count %d, got %d", i, count)
		}
	}
	if len(fired) != 1 {
		t.Fatalf("expected one alert at threshold, got %d", len(fired))
	}
	if tr.FailedAuth()["1.2.3.4"] != 3 {
		t.Fatalf("unexpected counter %v", tr.FailedAuth())
	}
}

func TestRecordGenericKindSkipsCounter(t *testing.T) {
	tr := NewTracker(100, 1, nil)
	var fired []alerts.Firing
	tr.OnAlert(func(f alerts.Firing) { fired = append(fired, f) })

	if count := tr.Record(Event{Kind: "rate_limited", ClientID: "1.2.3.4"}); count != 0 {
		t.Fatalf("expected generic events to skip the counter, got %d", count)
	}
	if len(fired) != 0 {
		t.Fatalf("expected no alert for generic events, got %d", len(fired))
	}
	if len(tr.FailedAuth()) != 0 {
		t.Fatalf("expected empty counters, got %v", tr.FailedAuth())
	}
}

func TestAuthFailureCountsPerClient(t *testing.T) {
	tr := NewTracker(100, 3, nil)
	var fired []alerts.Firing
	tr.OnAlert(func(f alerts.Firing) { fired = append(fired, f) })

	tr.RecordAuthFailure("a")
	tr.RecordAuthFailure("b")
	tr.RecordAuthFailure("a")
	tr.RecordAuthFailure("b")
	if len(fired) != 0 {
		t.Fatalf("expected independent per-client counters, got %d alerts", len(fired))
	}
	counts := tr.FailedAuth()
	if counts["a"] != 2 || counts["b"] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestEmptyClientFoldsIntoUnknown(t *testing.T) {
	tr := NewTracker(100, 10, nil)
	tr.RecordAuthFailure("")
	if tr.FailedAuth()["unknown"] != 1 {
		t.Fatalf("expected empty identity folded into unknown")
	}
}

func TestResetDailyCounters(t *testing.T) {
	tr := NewTracker(100, 10, nil)
	tr.RecordAuthFailure("a")
	tr.RecordAuthFailure("b")
	if tr.FailedAuthClients() != 2 {
		t.Fatalf("expected 2 tracked clients, got %d", tr.FailedAuthClients())
	}
	if cleared := tr.ResetDailyCounters(); cleared != 2 {
		t.Fatalf("expected 2 cleared, got %d", cleared)
	}
	if len(tr.FailedAuth()) != 0 {
		t.Fatalf("expected counters empty after reset")
	}
	if count := tr.RecordAuthFailure("a"); count != 1 {
		t.Fatalf("expected count restarted at 1, got %d", count)
	}
}

func TestRecordKeepsTrail(t *testing.T) {
	tr := NewTracker(100, 10, nil)
	tr.Record(Event{Kind: "notification_failures", ClientID: "nats", Detail: "connection refused"})
	tr.RecordAuthFailure("client-1")
	recent := tr.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	if recent[0].Kind != KindAuthFailure {
		t.Fatalf("expected newest first, got %s", recent[0].Kind)
	}
	if recent[1].Kind != "notification_failures" || recent[1].Detail != "connection refused" {
		t.Fatalf("unexpected event %+v", recent[1])
	}
	if recent[1].Severity != alerts.SeverityMedium {
		t.Fatalf("expected severity defaulted to medium, got %s", recent[1].Severity)
	}
	if recent[1].Occurred.IsZero() {
		t.Fatalf("expected timestamp stamped")
	}
	if limited := tr.Recent(1); len(limited) != 1 {
		t.Fatalf("expected limit respected, got %d", len(limited))
	}
}
