package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"guardianai-backend/monitor-service/internal/ring"
	"guardianai-backend/monitor-service/internal/validation"
)

type Kind string

const (
	KindCounter   Kind = "counter"
	KindGauge     Kind = "gauge"
	KindHistogram Kind = "histogram"
	KindTimer     Kind = "timer"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindCounter, KindGauge, KindHistogram, KindTimer:
		return Kind(s), true
	}
	return "", false
}

type Metric struct {
	Name     string            `json:"name"`
	Kind     Kind              `json:"kind"`
	Value    float64           `json:"value"`
	Labels   map[string]string `json:"labels,omitempty"`
	Recorded time.Time         `json:"recorded"`
}

type Summary struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Latest float64 `json:"latest"`
}

const defaultSeriesCapacity = 1000

// Store keeps one bounded series per metric name and aggregates over
// sliding windows. Reads copy out under the lock, so snapshots never
// observe in-flight writes.
type Store struct {
	mu       sync.Mutex
	capacity int
	series   map[string]*ring.Buffer[Metric]
	onWrite  func(Metric)
	now      func() time.Time
}

func NewStore(perSeriesCapacity int) *Store {
	if perSeriesCapacity < 1 {
		perSeriesCapacity = defaultSeriesCapacity
	}
	return &Store{
		capacity: perSeriesCapacity,
		series:   make(map[string]*ring.Buffer[Metric]),
		now:      time.Now,
	}
}

// OnWrite registers a hook invoked after every successful Record, outside
// the store lock. Rule evaluation hangs off this hook.
func (s *Store) OnWrite(fn func(Metric)) {
	s.mu.Lock()
	s.onWrite = fn
	s.mu.Unlock()
}

func (s *Store) Record(m Metric) error {
	if verr := validate(m); verr != nil {
		return verr
	}
	s.mu.Lock()
	if m.Recorded.IsZero() {
		m.Recorded = s.now()
	}
	buf, ok := s.series[m.Name]
	if !ok {
		buf = ring.New[Metric](s.capacity)
		s.series[m.Name] = buf
	}
	buf.Push(m)
	hook := s.onWrite
	s.mu.Unlock()

	if hook != nil {
		hook(m)
	}
	return nil
}

// Aggregate summarizes the named series over the trailing window. ok is
// false for unknown series, non-positive windows, and windows holding no
// points.
func (s *Store) Aggregate(name string, window time.Duration) (Summary, bool) {
	if window <= 0 {
		return Summary{}, false
	}
	s.mu.Lock()
	buf, ok := s.series[name]
	var items []Metric
	if ok {
		items = buf.Items()
	}
	now := s.now()
	s.mu.Unlock()
	if !ok {
		return Summary{}, false
	}
	return summarize(items, now.Add(-window))
}

// Summaries aggregates every series over the same window in one pass,
// skipping series with no points inside it.
func (s *Store) Summaries(window time.Duration) map[string]Summary {
	out := make(map[string]Summary)
	if window <= 0 {
		return out
	}
	s.mu.Lock()
	copied := make(map[string][]Metric, len(s.series))
	for name, buf := range s.series {
		copied[name] = buf.Items()
	}
	now := s.now()
	s.mu.Unlock()

	cutoff := now.Add(-window)
	for name, items := range copied {
		if sum, ok := summarize(items, cutoff); ok {
			out[name] = sum
		}
	}
	return out
}

func (s *Store) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.series))
	for name := range s.series {
		out = append(out, name)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *Store) SeriesCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

// PointCount reports retained points across all series.
func (s *Store) PointCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, buf := range s.series {
		total += buf.Len()
	}
	return total
}

// Dropped reports points evicted across all series since creation.
func (s *Store) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, buf := range s.series {
		total += buf.Dropped()
	}
	return total
}

func summarize(items []Metric, cutoff time.Time) (Summary, bool) {
	var (
		sum    Summary
		total  float64
		latest time.Time
	)
	for _, m := range items {
		if m.Recorded.Before(cutoff) {
			continue
		}
		if sum.Count == 0 || m.Value < sum.Min {
			sum.Min = m.Value
		}
		if sum.Count == 0 || m.Value > sum.Max {
			sum.Max = m.Value
		}
		total += m.Value
		sum.Count++
		if latest.IsZero() || !m.Recorded.Before(latest) {
			latest = m.Recorded
			sum.Latest = m.Value
		}
	}
	if sum.Count == 0 {
		return Summary{}, false
	}
	sum.Avg = total / float64(sum.Count)
	return sum, true
}

func validate(m Metric) *validation.Error {
	var details []validation.FieldError
	if m.Name == "" {
		details = append(details, validation.FieldError{Field: "name", Problem: "empty", Hint: "Metric name is required"})
	}
	if _, ok := ParseKind(string(m.Kind)); !ok {
		details = append(details, validation.FieldError{Field: "kind", Problem: "unknown", Hint: "One of counter, gauge, histogram, timer"})
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		details = append(details, validation.FieldError{Field: "value", Problem: "not finite", Hint: "Use a finite number"})
	}
	if len(details) > 0 {
		return &validation.Error{Code: "METRIC_INVALID", Message: "metric failed validation", Details: details}
	}
	return nil
}
