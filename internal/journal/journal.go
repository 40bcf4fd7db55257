// Package journal persists request outcomes and health transitions to
// SQLite. It implements bridge.Observer; writes happen on a background
// goroutine so the request path never waits on disk.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/tether/internal/bridge"
	"github.com/mattjoyce/tether/internal/log"
	"github.com/mattjoyce/tether/internal/protocol"
)

const (
	// DefaultLimit is used by Recent when limit <= 0.
	DefaultLimit = 50
	// MaxLimit caps Recent.
	MaxLimit = 1000

	bufferSize = 256

	// timeLayout is fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one journaled request.
type Entry struct {
	ID          string        `json:"id"`
	Type        protocol.Kind `json:"type"`
	Status      string        `json:"status"`
	Error       string        `json:"error,omitempty"`
	WorkerPID   int           `json:"worker_pid,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	DurationMS  int64         `json:"duration_ms"`
}

// HealthEntry is one journaled health transition.
type HealthEntry struct {
	State     bridge.HealthState `json:"state"`
	Message   string             `json:"message"`
	ChangedAt time.Time          `json:"changed_at"`
}

type record struct {
	outcome *bridge.Outcome
	health  *bridge.Health
}

// Journal records bridge activity.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	ch     chan record
	done   chan struct{}
}

// New starts a Journal writing to db. Close flushes pending writes.
func New(db *sql.DB) *Journal {
	j := &Journal{
		db:     db,
		logger: log.WithComponent("journal"),
		ch:     make(chan record, bufferSize),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

// RequestCompleted queues an outcome for writing. It never blocks; when the
// buffer is full the outcome is dropped with a warning.
func (j *Journal) RequestCompleted(o bridge.Outcome) {
	j.enqueue(record{outcome: &o})
}

// HealthChanged queues a health transition for writing.
func (j *Journal) HealthChanged(h bridge.Health) {
	j.enqueue(record{health: &h})
}

func (j *Journal) enqueue(r record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- r:
	default:
		j.logger.Warn("journal buffer full, dropping record")
	}
}

// Close stops accepting records and waits until queued ones are written.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()

	<-j.done
	return nil
}

func (j *Journal) run() {
	defer close(j.done)
	for r := range j.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch {
		case r.outcome != nil:
			err = j.Record(ctx, *r.outcome)
		case r.health != nil:
			err = j.RecordHealth(ctx, *r.health)
		}
		cancel()
		if err != nil {
			j.logger.Error("failed to write journal record", "error", err)
		}
	}
}

// Record writes one outcome synchronously.
func (j *Journal) Record(ctx context.Context, o bridge.Outcome) error {
	var errText any
	if o.Error != "" {
		errText = o.Error
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO request_log(id, type, status, error, worker_pid, started_at, completed_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, o.ID, string(o.Kind), o.Status, errText, o.WorkerPID,
		o.StartedAt.UTC().Format(timeLayout),
		o.CompletedAt.UTC().Format(timeLayout),
		o.Duration().Milliseconds())
	if err != nil {
		return fmt.Errorf("record request: %w", err)
	}
	return nil
}

// RecordHealth writes one health transition synchronously.
func (j *Journal) RecordHealth(ctx context.Context, h bridge.Health) error {
	changed := h.Since
	if changed.IsZero() {
		changed = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO health_log(state, message, changed_at) VALUES(?, ?, ?);
`, string(h.State), h.Message, changed.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("record health: %w", err)
	}
	return nil
}

// Recent returns the newest journaled requests first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	limit = clampLimit(limit)
	rows, err := j.db.QueryContext(ctx, `
SELECT id, type, status, COALESCE(error, ''), COALESCE(worker_pid, 0), started_at, completed_at, duration_ms
FROM request_log
ORDER BY completed_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query request log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			kind               string
			started, completed string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Status, &e.Error, &e.WorkerPID, &started, &completed, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan request log: %w", err)
		}
		e.Type = protocol.Kind(kind)
		e.StartedAt, _ = time.Parse(timeLayout, started)
		e.CompletedAt, _ = time.Parse(timeLayout, completed)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request log: %w", err)
	}
	return out, nil
}

// HealthHistory returns the newest health transitions first.
func (j *Journal) HealthHistory(ctx context.Context, limit int) ([]HealthEntry, error) {
	limit = clampLimit(limit)
	rows, err := j.db.QueryContext(ctx, `
SELECT state, message, changed_at FROM health_log ORDER BY seq DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query health log: %w", err)
	}
	defer rows.Close()

	var out []HealthEntry
	for rows.Next() {
		var (
			h       HealthEntry
			state   string
			changed string
		)
		if err := rows.Scan(&state, &h.Message, &changed); err != nil {
			return nil, fmt.Errorf("scan health log: %w", err)
		}
		h.State = bridge.HealthState(state)
		h.ChangedAt, _ = time.Parse(timeLayout, changed)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate health log: %w", err)
	}
	return out, nil
}

// Prune deletes request and health rows older than retention and returns
// how many request rows were removed.
func (j *Journal) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)

	res, err := j.db.ExecContext(ctx, `DELETE FROM request_log WHERE completed_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune request log: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, `DELETE FROM health_log WHERE changed_at < ?;`, cutoff); err != nil {
		return 0, fmt.Errorf("prune health log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
