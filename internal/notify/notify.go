package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"guardianai-backend/monitor-service/internal/alerts"
)

// Sink delivers a fired alert to an external channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, a alerts.Alert) error
}

// FailureRecorder receives delivery failures. It must not block.
type FailureRecorder func(sink string, err error)

var errQueueFull = errors.New("notification queue full")

const queueCapacity = 256

// Notifier fans alerts at or above a minimum severity out to its sinks.
// Delivery runs on a dispatch goroutine behind a bounded queue, so a slow
// or failing sink never blocks the firing path. Failures are logged and
// reported to the recorder, never returned.
type Notifier struct {
	sinks     []Sink
	minRank   int
	timeout   time.Duration
	logger    *slog.Logger
	onFailure FailureRecorder

	queue    chan alerts.Alert
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewNotifier(minSeverity alerts.Severity, timeout time.Duration, logger *slog.Logger, sinks ...Sink) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rank := alerts.SeverityRank(minSeverity)
	if rank == 0 {
		rank = alerts.SeverityRank(alerts.SeverityHigh)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	n := &Notifier{
		sinks:   sinks,
		minRank: rank,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan alerts.Alert, queueCapacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

// OnFailure registers the failure recorder. Call before the notifier
// starts receiving alerts.
func (n *Notifier) OnFailure(fn FailureRecorder) {
	n.onFailure = fn
}

// Notify implements alerts.Notifier. It never blocks: when the queue is
// full the alert is dropped and the drop reported as a failure.
func (n *Notifier) Notify(a alerts.Alert) {
	if alerts.SeverityRank(a.Severity) < n.minRank {
		return
	}
	select {
	case n.queue <- a:
	default:
		n.logger.Warn("notification dropped",
			slog.String("alert", a.Key),
			slog.String("error", errQueueFull.Error()))
		n.fail("dispatch", errQueueFull)
	}
}

// Stop drains queued alerts and joins the dispatch goroutine, bounded by
// ctx.
func (n *Notifier) Stop(ctx context.Context) error {
	n.stopOnce.Do(func() { close(n.stop) })
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		select {
		case a := <-n.queue:
			n.deliver(a)
		case <-n.stop:
			for {
				select {
				case a := <-n.queue:
					n.deliver(a)
				default:
					return
				}
			}
		}
	}
}

func (n *Notifier) deliver(a alerts.Alert) {
	for _, s := range n.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := s.Deliver(ctx, a)
		cancel()
		if err == nil {
			continue
		}
		n.logger.Warn("notification delivery failed",
			slog.String("sink", s.Name()),
			slog.String("alert", a.Key),
			slog.String("error", err.Error()))
		n.fail(s.Name(), err)
	}
}

func (n *Notifier) fail(sink string, err error) {
	if n.onFailure != nil {
		n.onFailure(sink, err)
	}
}

// LogSink writes alert notifications to the logger. It never fails.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Deliver(_ context.Context, a alerts.Alert) error {
	attrs := []any{
		slog.String("key", a.Key),
		slog.String("severity", string(a.Severity)),
		slog.String("message", a.Message),
		slog.Int("fireCount", a.FireCount),
	}
	if a.RequiresImmediateAttention {
		s.Logger.Error("alert requires immediate attention", attrs...)
		return nil
	}
	s.Logger.Info("alert notification", attrs...)
	return nil
}
