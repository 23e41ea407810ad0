package bus

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"guardianai-backend/monitor-service/internal/alerts"
)

// DefaultAlertSubject is the subject fired alerts are published on.
const DefaultAlertSubject = "guardian.alerts.fired"

// Publisher wraps a NATS connection for JSON fan-out of alert payloads.
type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

// Close drains in-flight publishes before closing the connection.
func (p *Publisher) Close() {
	if p.Conn != nil {
		p.Conn.Drain()
		p.Conn.Close()
	}
}

func (p *Publisher) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

// publisher abstracts Publish so the sink can be tested without a live
// connection.
type publisher interface {
	Publish(subject string, payload any) error
}

// AlertSink forwards notified alerts onto the bus so external consumers
// (parent apps, escalation workers) can react. It implements notify.Sink.
type AlertSink struct {
	pub     publisher
	subject string
}

func NewAlertSink(p publisher, subject string) *AlertSink {
	if subject == "" {
		subject = DefaultAlertSubject
	}
	return &AlertSink{pub: p, subject: subject}
}

func (s *AlertSink) Name() string { return "nats" }

func (s *AlertSink) Deliver(_ context.Context, a alerts.Alert) error {
	return s.pub.Publish(s.subject, a)
}
