package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/engram/pkg/llm"
)

// payloadVersion is bumped whenever the persisted envelope changes shape.
// Rows with an unknown version are failed rather than misread.
const payloadVersion = 1

// Item statuses. pending rows are waiting for a worker, processing rows are
// claimed by one; both are requeued on recovery after a crash.
const (
	statusPending    = "pending"
	statusProcessing = "processing"
	statusDone       = "done"
	statusFailed     = "failed"
)

// payload is the versioned envelope written to the queue table.
type payload struct {
	SchemaVersion int                  `json:"schema_version"`
	Turn          llm.ConversationTurn `json:"turn"`
	GateScore     float64              `json:"gate_score"`
	EnqueuedAt    time.Time            `json:"enqueued_at"`
}

// Item is one claimed queue entry.
type Item struct {
	ID         int64
	Turn       llm.ConversationTurn
	GateScore  float64
	EnqueuedAt time.Time
}

// Store persists queue items in SQLite so in-flight work survives restarts.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the queue database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS extraction_queue (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			item_data  TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_extraction_queue_status ON extraction_queue(status);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create queue schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put appends a pending item and returns its id.
func (s *Store) Put(ctx context.Context, turn llm.ConversationTurn, gateScore float64) (int64, error) {
	data, err := json.Marshal(payload{
		SchemaVersion: payloadVersion,
		Turn:          turn,
		GateScore:     gateScore,
		EnqueuedAt:    time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("marshal queue payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_queue (item_data, status) VALUES (?, ?)`,
		string(data), statusPending,
	)
	if err != nil {
		return 0, fmt.Errorf("insert queue item: %w", err)
	}

	return res.LastInsertId()
}

// Claim atomically marks the given pending items as processing and returns
// them, oldest first. Ids that are no longer pending are skipped; items whose
// payload cannot be decoded are marked failed.
func (s *Store) Claim(ctx context.Context, ids []int64) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.Repeat("?,", len(ids))
	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, statusPending)

	rows, err := tx.QueryContext(ctx,
		`SELECT id, item_data FROM extraction_queue
		 WHERE id IN (`+placeholders[:len(placeholders)-1]+`) AND status = ?
		 ORDER BY id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}

	var items []Item
	var bad []int64
	for rows.Next() {
		var id int64
		var data string
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan queue row: %w", err)
		}

		var p payload
		if err := json.Unmarshal([]byte(data), &p); err != nil || p.SchemaVersion != payloadVersion {
			bad = append(bad, id)
			continue
		}

		items = append(items, Item{
			ID:         id,
			Turn:       p.Turn,
			GateScore:  p.GateScore,
			EnqueuedAt: p.EnqueuedAt,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}

	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			`UPDATE extraction_queue SET status = ? WHERE id = ?`,
			statusProcessing, item.ID,
		); err != nil {
			return nil, fmt.Errorf("mark processing: %w", err)
		}
	}
	for _, id := range bad {
		if _, err := tx.ExecContext(ctx,
			`UPDATE extraction_queue SET status = ? WHERE id = ?`,
			statusFailed, id,
		); err != nil {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	return items, nil
}

// MarkDone records successful processing of an item.
func (s *Store) MarkDone(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, statusDone)
}

// MarkFailed records permanent failure of an item.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	return s.setStatus(ctx, id, statusFailed)
}

func (s *Store) setStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE extraction_queue SET status = ? WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("set status %s: %w", status, err)
	}
	return nil
}

// Recover requeues items stranded by a crash: anything processing becomes
// pending again. Returns the ids of every pending item, oldest first. Items
// may be processed more than once as a result; extraction is idempotent
// enough that at-least-once beats losing the turn.
func (s *Store) Recover(ctx context.Context) ([]int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE extraction_queue SET status = ? WHERE status = ?`,
		statusPending, statusProcessing,
	); err != nil {
		return nil, fmt.Errorf("requeue processing: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM extraction_queue WHERE status = ? ORDER BY id ASC`,
		statusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending ids: %w", err)
	}

	return ids, nil
}

// Prune deletes terminal rows older than the cutoff to keep the file small.
func (s *Store) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM extraction_queue
		 WHERE status IN (?, ?) AND created_at < ?`,
		statusDone, statusFailed, olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune queue: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(affected), nil
}
