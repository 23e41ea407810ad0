package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"guardianai-backend/monitor-service/internal/alerts"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSink struct {
	name      string
	err       error
	delivered []alerts.Alert
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Deliver(_ context.Context, a alerts.Alert) error {
	f.delivered = append(f.delivered, a)
	return f.err
}

func stopNotifier(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestNotifyDeliversToAllSinks(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	n := NewNotifier(alerts.SeverityHigh, time.Second, nil, a, b)
	n.Notify(alerts.Alert{Key: "k", Severity: alerts.SeverityHigh})
	stopNotifier(t, n)
	if len(a.delivered) != 1 || len(b.delivered) != 1 {
		t.Fatalf("expected both sinks to deliver, got %d and %d", len(a.delivered), len(b.delivered))
	}
}

func TestNotifyFiltersBelowMinSeverity(t *testing.T) {
	s := &fakeSink{name: "s"}
	n := NewNotifier(alerts.SeverityHigh, time.Second, nil, s)
	n.Notify(alerts.Alert{Key: "low", Severity: alerts.SeverityLow})
	n.Notify(alerts.Alert{Key: "medium", Severity: alerts.SeverityMedium})
	n.Notify(alerts.Alert{Key: "high", Severity: alerts.SeverityHigh})
	n.Notify(alerts.Alert{Key: "critical", Severity: alerts.SeverityCritical})
	n.Notify(alerts.Alert{Key: "emergency", Severity: alerts.SeverityEmergency})
	stopNotifier(t, n)
	if len(s.delivered) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(s.delivered))
	}
	if s.delivered[0].Key != "high" || s.delivered[1].Key != "critical" || s.delivered[2].Key != "emergency" {
		t.Fatalf("expected high, critical and emergency, got %v", s.delivered)
	}
}

func TestFailingSinkDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	failing := &fakeSink{name: "failing", err: boom}
	healthy := &fakeSink{name: "healthy"}
	n := NewNotifier(alerts.SeverityHigh, time.Second, nil, failing, healthy)

	var failedSinks []string
	n.OnFailure(func(sink string, err error) {
		failedSinks = append(failedSinks, sink)
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
	})

	n.Notify(alerts.Alert{Key: "k", Severity: alerts.SeverityEmergency})
	stopNotifier(t, n)

	if len(healthy.delivered) != 1 {
		t.Fatalf("expected healthy sink to deliver despite failure")
	}
	if len(failedSinks) != 1 || failedSinks[0] != "failing" {
		t.Fatalf("expected one recorded failure for the failing sink, got %v", failedSinks)
	}
}

func TestStopDrainsQueuedAlerts(t *testing.T) {
	s := &fakeSink{name: "s"}
	n := NewNotifier(alerts.SeverityHigh, time.Second, nil, s)
	for i := 0; i < 5; i++ {
		n.Notify(alerts.Alert{Key: "k", Severity: alerts.SeverityHigh})
	}
	stopNotifier(t, n)
	if len(s.delivered) != 5 {
		t.Fatalf("expected all queued alerts delivered on stop, got %d", len(s.delivered))
	}
}

func TestLogSinkNeverFails(t *testing.T) {
	n := NewNotifier(alerts.SeverityHigh, time.Second, nil, LogSink{Logger: discardLogger()})
	n.Notify(alerts.Alert{Key: "k", Severity: alerts.SeverityEmergency, RequiresImmediateAttention: true})
	stopNotifier(t, n)
}
