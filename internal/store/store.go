// Package store persists order request records and pipeline milestones.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/inpointtech/acquisition/internal/order"
	"github.com/inpointtech/acquisition/internal/persistence/sqlite"
)

const schemaVersion = 1

// MilestoneAcquisition marks "video acquisition complete" for a request.
const MilestoneAcquisition = 1

// Request is the persisted record of one submitted order.
type Request struct {
	ID        int64
	WorkerID  string
	Order     order.Order
	Status    order.Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Milestone is an append-only pipeline stage marker for a request.
type Milestone struct {
	RequestID   int64
	MilestoneID int
	RecordedAt  time.Time
}

// SqliteStore implements the request and milestone stores on SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and migrates) the acquisition database at dbPath.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("request store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		worker_id TEXT NOT NULL,
		order_json TEXT NOT NULL,
		status INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status);

	CREATE TABLE IF NOT EXISTS milestones (
		request_id INTEGER NOT NULL,
		milestone_id INTEGER NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (request_id, milestone_id)
	);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// CreateRequest persists a new request record in WAITING state and returns its id.
func (s *SqliteStore) CreateRequest(ctx context.Context, workerID string, ord order.Order) (int64, error) {
	raw, err := json.Marshal(ord)
	if err != nil {
		return 0, fmt.Errorf("marshal order: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO requests (worker_id, order_json, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		workerID, string(raw), int(order.StatusWaiting), now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("request id: %w", err)
	}
	return id, nil
}

// UpdateStatus transitions a request to the given status.
func (s *SqliteStore) UpdateStatus(ctx context.Context, id int64, st order.Status) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE requests SET status = ?, updated_at = ? WHERE id = ?`,
		int(st), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("request %d not found", id)
	}
	return nil
}

// GetRequest loads one request record, or nil when it does not exist.
func (s *SqliteStore) GetRequest(ctx context.Context, id int64) (*Request, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, worker_id, order_json, status, created_at, updated_at FROM requests WHERE id = ?`, id)

	var (
		r       Request
		raw     string
		st      int
		created string
		updated string
	)
	err := row.Scan(&r.ID, &r.WorkerID, &raw, &st, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &r.Order); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	r.Status = order.Status(st)
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &r, nil
}

// RecordMilestone appends a milestone marker. Recording the same milestone
// twice is a no-op.
func (s *SqliteStore) RecordMilestone(ctx context.Context, requestID int64, milestoneID int) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO milestones (request_id, milestone_id, recorded_at) VALUES (?, ?, ?)
		 ON CONFLICT(request_id, milestone_id) DO NOTHING`,
		requestID, milestoneID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record milestone: %w", err)
	}
	return nil
}

// Milestones lists the milestones recorded for a request in insertion order.
func (s *SqliteStore) Milestones(ctx context.Context, requestID int64) ([]Milestone, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT request_id, milestone_id, recorded_at FROM milestones WHERE request_id = ? ORDER BY milestone_id`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("query milestones: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Milestone
	for rows.Next() {
		var m Milestone
		var recorded string
		if err := rows.Scan(&m.RequestID, &m.MilestoneID, &recorded); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		m.RecordedAt, _ = time.Parse(time.RFC3339, recorded)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
