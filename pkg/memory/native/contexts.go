package native

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/memory"
)

// CaptureContext persists a context snapshot.
func (p *Provider) CaptureContext(ctx context.Context, snap *memory.ContextSnapshot) (string, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	if snap.Trigger == "" {
		snap.Trigger = memory.TriggerManual
	}
	if snap.State == nil {
		snap.State = map[string]any{}
	}

	state, err := json.Marshal(snap.State)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot state: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO context_snapshots (id, user_id, state, trigger_kind, summary,
			captured_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.UserID, string(state), snap.Trigger, snap.Summary,
		snap.CapturedAt, nullableTime(snap.ExpiresAt),
	); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}

	return snap.ID, nil
}

// ResumeContext returns the most recent unexpired snapshot for a user.
func (p *Provider) ResumeContext(ctx context.Context, userID string) (*memory.ContextSnapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, user_id, state, trigger_kind, summary, captured_at, expires_at
		FROM context_snapshots
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY captured_at DESC LIMIT 1`,
		userID, time.Now().UTC(),
	)

	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resume context: %w", err)
	}
	return snap, nil
}

// ListContexts returns a user's snapshots newest first, expired included.
func (p *Provider) ListContexts(ctx context.Context, userID string, limit int) ([]*memory.ContextSnapshot, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, state, trigger_kind, summary, captured_at, expires_at
		FROM context_snapshots WHERE user_id = ?
		ORDER BY captured_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []*memory.ContextSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// PruneExpiredContexts deletes snapshots past their expiry.
func (p *Provider) PruneExpiredContexts(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM context_snapshots WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(affected), nil
}

func scanSnapshot(row rowScanner) (*memory.ContextSnapshot, error) {
	var (
		snap    memory.ContextSnapshot
		state   string
		expires sql.NullTime
	)
	if err := row.Scan(
		&snap.ID, &snap.UserID, &state, &snap.Trigger, &snap.Summary,
		&snap.CapturedAt, &expires,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(state), &snap.State); err != nil {
		return nil, fmt.Errorf("decode snapshot state: %w", err)
	}
	if expires.Valid {
		t := expires.Time
		snap.ExpiresAt = &t
	}
	return &snap, nil
}
