package archive

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"guardianai-backend/monitor-service/internal/alerts"
)

const connectTimeout = 5 * time.Second

// Archiver writes alert lifecycle transitions to Postgres. The engine
// holds state in memory only; these rows are the durable trail.
type Archiver struct {
	Pool *pgxpool.Pool
}

// NewArchiver opens a pool against the audit database and verifies it
// with a bounded ping before handing it out.
func NewArchiver(ctx context.Context, dsn string) (*Archiver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Archiver{Pool: pool}, nil
}

func (r *Archiver) Close() {
	if r.Pool != nil {
		r.Pool.Close()
	}
}

func (r *Archiver) AlertFired(ctx context.Context, a alerts.Alert) error {
	return r.insert(ctx, "fired", a, a.LastFiredAt)
}

func (r *Archiver) AlertResolved(ctx context.Context, a alerts.Alert) error {
	occurred := a.LastFiredAt
	if a.ResolvedAt != nil {
		occurred = *a.ResolvedAt
	}
	return r.insert(ctx, "resolved", a, occurred)
}

func (r *Archiver) AlertSuppressed(ctx context.Context, a alerts.Alert) error {
	return r.insert(ctx, "suppressed", a, a.LastFiredAt)
}

func (r *Archiver) insert(ctx context.Context, event string, a alerts.Alert, occurred time.Time) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = r.Pool.Exec(ctx, `
		INSERT INTO alert_audit (id, alert_id, alert_key, event, severity, state, child_id, fire_count, payload, occurred_at, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())`,
		uuid.NewString(), a.ID, a.Key, event, string(a.Severity), string(a.State), a.ChildID, a.FireCount, payload, occurred,
	)
	return err
}

type Transition struct {
	ID         string    `json:"id"`
	AlertID    string    `json:"alertId"`
	AlertKey   string    `json:"alertKey"`
	Event      string    `json:"event"`
	Severity   string    `json:"severity"`
	State      string    `json:"state"`
	ChildID    string    `json:"childId,omitempty"`
	FireCount  int       `json:"fireCount"`
	OccurredAt time.Time `json:"occurredAt"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Transitions lists the archived trail for one alert key, newest first.
func (r *Archiver) Transitions(ctx context.Context, alertKey string, limit int) ([]Transition, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.Pool.Query(ctx, `
		SELECT id, alert_id, alert_key, event, severity, state, child_id, fire_count, occurred_at, recorded_at
		FROM alert_audit WHERE alert_key=$1 ORDER BY recorded_at DESC LIMIT $2`, alertKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []Transition{}
	for rows.Next() {
		var rec Transition
		if err := rows.Scan(&rec.ID, &rec.AlertID, &rec.AlertKey, &rec.Event, &rec.Severity, &rec.State, &rec.ChildID, &rec.FireCount, &rec.OccurredAt, &rec.RecordedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, nil
}
