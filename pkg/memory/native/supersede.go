package native

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Supersede marks the old entry inactive and inserts a replacement that
// references it. Both directions of the link are recorded so the history
// chain can be walked either way.
func (p *Provider) Supersede(ctx context.Context, oldID, newContent, reason string) (*memory.Entry, error) {
	old, err := p.Get(ctx, oldID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	replacement := &memory.Entry{
		ID:         uuid.NewString(),
		UserID:     old.UserID,
		Content:    newContent,
		Type:       old.Type,
		Source:     old.Source,
		Importance: old.Importance,
		Confidence: old.Confidence,
		Tags:       old.Tags,
		Metadata:   map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
		Active:     true,
		Supersedes: oldID,
	}
	for k, v := range old.Metadata {
		replacement.Metadata[k] = v
	}
	if reason != "" {
		replacement.Metadata["supersede_reason"] = reason
	}

	if err := p.insertSupersession(ctx, old, replacement); err != nil {
		return nil, err
	}

	p.indexVector(ctx, replacement)
	if p.vectors != nil {
		if err := p.vectors.Delete(ctx, []string{oldID}); err != nil {
			p.logger.Warn("vector delete of superseded entry failed",
				"memory_id", oldID, "error", err)
		}
	}

	return replacement, nil
}

func (p *Provider) insertSupersession(ctx context.Context, old, replacement *memory.Entry) error {
	tags, meta, err := encodeTagsMeta(replacement)
	if err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin supersede: %w", err)
	}
	defer tx.Rollback()

	if err := supersedeInTx(ctx, tx, old.ID, replacement, tags, meta); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit supersede: %w", err)
	}
	return nil
}

// supersedeInTx performs the row operations of one supersession inside an
// existing transaction. Shared with consolidation's Promote.
func supersedeInTx(ctx context.Context, tx *sql.Tx, oldID string, replacement *memory.Entry, tags, meta string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE memories SET active = 0, superseded_by = ?, updated_at = ?
		 WHERE id = ? AND active = 1`,
		replacement.ID, replacement.UpdatedAt, oldID,
	)
	if err != nil {
		return fmt.Errorf("deactivate superseded: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("supersede rows affected: %w", err)
	}
	if affected == 0 {
		return memory.ErrNotFound
	}

	// The old row stays in the FTS index; history searches with
	// IncludeInactive still have to find it by keyword.

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE id = ?`, replacement.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check replacement: %w", err)
	}
	if exists > 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, type, source, importance,
			confidence, tags, metadata, created_at, updated_at, active,
			superseded_by, supersedes, consolidated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, '', ?, ?)`,
		replacement.ID, replacement.UserID, replacement.Content,
		replacement.Type, replacement.Source, replacement.Importance,
		replacement.Confidence, tags, meta, replacement.CreatedAt,
		replacement.UpdatedAt, replacement.Supersedes,
		boolToInt(isConsolidated(replacement)),
	); err != nil {
		return fmt.Errorf("insert replacement: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts (content, mem_id) VALUES (?, ?)`,
		replacement.Content, replacement.ID,
	); err != nil {
		return fmt.Errorf("index replacement: %w", err)
	}

	return nil
}
