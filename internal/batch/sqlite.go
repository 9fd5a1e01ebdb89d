package batch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// JobStore persists job records in batch_job and a per-step log in batch_job_log.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// JobRecord is a persisted job row.
type JobRecord struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	State       State      `json:"state"`
	Operation   string     `json:"operation"`
	Operations  []string   `json:"operations"`
	Snapshot    *Progress  `json:"snapshot,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// LogEntry is one persisted step snapshot.
type LogEntry struct {
	Step      int       `json:"step"`
	Operation string    `json:"operation"`
	State     State     `json:"state"`
	Snapshot  Progress  `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *JobStore) Create(ctx context.Context, p Progress, operations []string) error {
	ops, err := json.Marshal(operations)
	if err != nil {
		return fmt.Errorf("marshal operations: %w", err)
	}
	snap, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.db.ExecContext(ctx, `
INSERT INTO batch_job(id, title, state, operation, operations, snapshot, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, p.JobID, p.Title, p.State, p.Operation, string(ops), string(snap), now, now)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Record updates the job row and appends the snapshot to the step log.
func (s *JobStore) Record(ctx context.Context, p Progress) error {
	snap, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var completedAt, lastError any
	if p.State.Terminal() {
		completedAt = now
	}
	if p.Outcome != nil && p.Outcome.Error != "" {
		lastError = p.Outcome.Error
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
UPDATE batch_job
SET state = ?, operation = ?, snapshot = ?, updated_at = ?,
    completed_at = COALESCE(?, completed_at), last_error = COALESCE(?, last_error)
WHERE id = ?;
`, p.State, p.Operation, string(snap), now, completedAt, lastError, p.JobID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", p.JobID, ErrJobNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO batch_job_log(job_id, step, operation, state, snapshot, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, p.JobID, p.Step, p.Operation, p.State, string(snap), now); err != nil {
		return fmt.Errorf("append job log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job snapshot: %w", err)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (*JobRecord, error) {
	var (
		rec                  JobRecord
		state, ops           string
		snap                 sql.NullString
		createdAt, updatedAt string
		completedAt          sql.NullString
		lastError            sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Title, &state, &rec.Operation, &ops, &snap,
		&createdAt, &updatedAt, &completedAt, &lastError); err != nil {
		return nil, err
	}
	rec.State = State(state)
	_ = json.Unmarshal([]byte(ops), &rec.Operations)
	if snap.Valid {
		var p Progress
		if err := json.Unmarshal([]byte(snap.String), &p); err == nil {
			rec.Snapshot = &p
		}
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			rec.CompletedAt = &t
		}
	}
	if lastError.Valid {
		rec.LastError = &lastError.String
	}
	return &rec, nil
}

const selectJob = `
SELECT id, title, state, operation, operations, snapshot, created_at, updated_at, completed_at, last_error
FROM batch_job`

// Get loads one job record.
func (s *JobStore) Get(ctx context.Context, id string) (*JobRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return rec, nil
}

// List returns the newest jobs first.
func (s *JobStore) List(ctx context.Context, limit int) ([]JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// Log returns the step log of a job in step order.
func (s *JobStore) Log(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT step, operation, state, snapshot, created_at
FROM batch_job_log
WHERE job_id = ?
ORDER BY step ASC, id ASC;
`, id)
	if err != nil {
		return nil, fmt.Errorf("query job log: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var (
			e               LogEntry
			state, snap, at string
		)
		if err := rows.Scan(&e.Step, &e.Operation, &state, &snap, &at); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		e.State = State(state)
		_ = json.Unmarshal([]byte(snap), &e.Snapshot)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job log: %w", err)
	}
	return out, nil
}

// MarkInterrupted flags jobs left pending or running by a previous process.
// Their operations are closures and cannot be rebuilt after a restart.
func (s *JobStore) MarkInterrupted(ctx context.Context) ([]string, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows, err := s.db.QueryContext(ctx, `
UPDATE batch_job
SET state = ?, updated_at = ?, completed_at = ?, last_error = 'interrupted by restart'
WHERE state IN (?, ?)
RETURNING id;
`, StateInterrupted, now, now, StatePending, StateRunning)
	if err != nil {
		return nil, fmt.Errorf("mark interrupted: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan interrupted id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interrupted: %w", err)
	}
	return ids, nil
}

// PruneLogs deletes step log rows older than retention.
func (s *JobStore) PruneLogs(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `DELETE FROM batch_job_log WHERE created_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune job log: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
