// Package audit keeps a per-task outcome trail in SQLite so failures
// survive the process and the jobs API can report them later.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/veridia/adscan/dbopen"
	"github.com/veridia/adscan/idgen"
	"github.com/veridia/adscan/tasks"
)

// Statuses of a recorded task.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

const schema = `
CREATE TABLE IF NOT EXISTS task_audit (
	entry_id    TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	region      TEXT NOT NULL,
	query       TEXT NOT NULL,
	owner       TEXT NOT NULL DEFAULT '',
	phase       TEXT NOT NULL,
	status      TEXT NOT NULL,
	item_count  INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_audit_run ON task_audit(run_id, started_at);
`

// Entry is one task outcome to record.
type Entry struct {
	RunID     string
	Key       tasks.Key
	Phase     string
	Status    string
	ItemCount int
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Row is one stored outcome.
type Row struct {
	EntryID   string
	RunID     string
	Key       tasks.Key
	Phase     string
	Status    string
	ItemCount int
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// Trail records task outcomes.
type Trail struct {
	db    *sql.DB
	newID idgen.Generator
	owned bool
}

// Open opens (or creates) the audit database at path.
func Open(path string) (*Trail, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	t, err := NewTrail(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	t.owned = true
	return t, nil
}

// NewTrail wraps an existing database, applying the audit schema.
// The caller keeps ownership of db.
func NewTrail(db *sql.DB) (*Trail, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("audit: schema: %w", err)
	}
	return &Trail{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.Default),
	}, nil
}

// Record inserts one task outcome.
func (t *Trail) Record(ctx context.Context, e Entry) error {
	errText := ""
	if e.Err != nil {
		errText = e.Err.Error()
	}
	started := e.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	_, err := dbopen.Exec(ctx, t.db, `
		INSERT INTO task_audit
			(entry_id, run_id, region, query, owner, phase, status,
			 item_count, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.newID(), e.RunID, e.Key.Region, e.Key.Query, e.Key.Owner,
		e.Phase, e.Status, e.ItemCount, errText,
		started.UTC().Format(time.RFC3339Nano), e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// ByRun returns all outcomes of one run in insertion order.
func (t *Trail) ByRun(ctx context.Context, runID string) ([]Row, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT entry_id, run_id, region, query, owner, phase, status,
		       item_count, error, started_at, duration_ms
		FROM task_audit WHERE run_id = ? ORDER BY started_at, entry_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r          Row
			startedRaw string
			durationMs int64
		)
		if err := rows.Scan(&r.EntryID, &r.RunID, &r.Key.Region, &r.Key.Query,
			&r.Key.Owner, &r.Phase, &r.Status, &r.ItemCount, &r.Error,
			&startedRaw, &durationMs); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedRaw)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return out, nil
}

// Failures returns the failed outcomes of one run.
func (t *Trail) Failures(ctx context.Context, runID string) ([]Row, error) {
	all, err := t.ByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, r := range all {
		if r.Status != StatusSuccess {
			out = append(out, r)
		}
	}
	return out, nil
}

// Close closes the database if this Trail owns it.
func (t *Trail) Close() error {
	if t.owned {
		return t.db.Close()
	}
	return nil
}
