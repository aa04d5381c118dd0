package native

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/memory"
)

// AddCommitment persists a commitment, assigning id and timestamps when
// unset.
func (p *Provider) AddCommitment(ctx context.Context, c *memory.Commitment) (string, error) {
	if strings.TrimSpace(c.Content) == "" {
		return "", fmt.Errorf("commitment content is empty")
	}

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = memory.CommitmentActive
	}

	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO commitments (id, user_id, content, target_person, due_date,
			status, channel, message_id, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Content, c.TargetPerson, nullableTime(c.DueDate),
		c.Status, c.Channel, c.MessageID, c.Notes, c.CreatedAt, c.UpdatedAt,
	); err != nil {
		return "", fmt.Errorf("insert commitment: %w", err)
	}

	return c.ID, nil
}

// ListCommitments returns a user's commitments, optionally filtered by status
// and a due-before bound. Results are ordered soonest due first, undated
// last.
func (p *Provider) ListCommitments(ctx context.Context, userID string, status memory.CommitmentStatus, dueBefore *time.Time) ([]*memory.Commitment, error) {
	conds := []string{"user_id = ?"}
	args := []any{userID}

	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if dueBefore != nil {
		conds = append(conds, "due_date IS NOT NULL AND due_date <= ?")
		args = append(args, dueBefore.UTC())
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, content, target_person, due_date, status, channel,
		       message_id, notes, created_at, updated_at
		FROM commitments WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY due_date IS NULL, due_date ASC, created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list commitments: %w", err)
	}
	defer rows.Close()

	var out []*memory.Commitment
	for rows.Next() {
		var c memory.Commitment
		var due sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.Content, &c.TargetPerson, &due, &c.Status,
			&c.Channel, &c.MessageID, &c.Notes, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		if due.Valid {
			t := due.Time
			c.DueDate = &t
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commitments: %w", err)
	}
	return out, nil
}

// CompleteCommitment marks a commitment completed.
func (p *Provider) CompleteCommitment(ctx context.Context, id string) error {
	return p.setCommitmentStatus(ctx, id, memory.CommitmentCompleted)
}

// CancelCommitment marks a commitment cancelled.
func (p *Provider) CancelCommitment(ctx context.Context, id string) error {
	return p.setCommitmentStatus(ctx, id, memory.CommitmentCancelled)
}

func (p *Provider) setCommitmentStatus(ctx context.Context, id string, status memory.CommitmentStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE commitments SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update commitment status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("commitment rows affected: %w", err)
	}
	if affected == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
