package native

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Users returns the ids of users with active entries.
func (p *Provider) Users(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM memories WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// ListConsolidatable returns active entries old enough to consolidate,
// oldest first. Entries that are themselves consolidation summaries are
// excluded so summaries don't get re-summarized.
func (p *Provider) ListConsolidatable(ctx context.Context, userID string, minAge time.Duration, limit int) ([]*memory.Entry, error) {
	if limit <= 0 {
		limit = 200
	}
	cutoff := time.Now().UTC().Add(-minAge)

	rows, err := p.db.QueryContext(ctx,
		selectEntry+` WHERE user_id = ? AND active = 1 AND consolidated = 0
		 AND created_at <= ? ORDER BY created_at ASC LIMIT ?`,
		userID, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list consolidatable: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Promote stores the summary entry and supersedes every entry in ids with it
// in a single transaction. Returns the summary's id.
func (p *Provider) Promote(ctx context.Context, ids []string, summary *memory.Entry) (string, error) {
	if len(ids) == 0 {
		return "", fmt.Errorf("nothing to promote")
	}

	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = now
	}
	summary.UpdatedAt = now
	summary.Active = true
	summary.Importance = memory.ClampImportance(summary.Importance)
	if summary.Confidence <= 0 {
		summary.Confidence = 0.8
	}
	if summary.Type == "" {
		summary.Type = memory.TypeInsight
	}
	if summary.Source == "" {
		summary.Source = memory.SourceSystem
	}
	if summary.Metadata == nil {
		summary.Metadata = map[string]any{}
	}
	summary.Metadata["consolidated"] = true
	summary.Metadata["consolidated_from"] = ids

	tags, meta, err := encodeTagsMeta(summary)
	if err != nil {
		return "", err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin promote: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if err := supersedeInTx(ctx, tx, id, summary, tags, meta); err != nil {
			return "", fmt.Errorf("supersede %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit promote: %w", err)
	}

	p.indexVector(ctx, summary)
	if p.vectors != nil {
		if err := p.vectors.Delete(ctx, ids); err != nil {
			p.logger.Warn("vector delete of consolidated entries failed", "error", err)
		}
	}

	return summary.ID, nil
}
