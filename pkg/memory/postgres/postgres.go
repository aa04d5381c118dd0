// Package postgres implements a memory provider backed by PostgreSQL.
//
// Keyword search uses the built-in tsvector full-text machinery. This backend
// targets multi-instance deployments where a shared store matters more than
// the semantic index; it implements the core Provider and SupersessionProvider
// contracts and deliberately skips the local-only capabilities.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papercomputeco/engram/pkg/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	content       TEXT NOT NULL,
	type          TEXT NOT NULL,
	source        TEXT NOT NULL,
	importance    INTEGER NOT NULL,
	confidence    DOUBLE PRECISION NOT NULL,
	tags          JSONB NOT NULL DEFAULT '[]',
	metadata      JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	active        BOOLEAN NOT NULL DEFAULT TRUE,
	superseded_by TEXT NOT NULL DEFAULT '',
	supersedes    TEXT NOT NULL DEFAULT '',
	content_tsv   TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, active);
CREATE INDEX IF NOT EXISTS idx_memories_tsv ON memories USING GIN (content_tsv);
`

// Provider is the PostgreSQL memory backend.
type Provider struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var (
	_ memory.Provider             = (*Provider)(nil)
	_ memory.SupersessionProvider = (*Provider)(nil)
)

// New connects to the database at connStr and ensures the schema exists.
func New(ctx context.Context, connStr string, logger *slog.Logger) (*Provider, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create postgres schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}

// HealthCheck verifies the database answers queries.
func (p *Provider) HealthCheck(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}

// Add persists a new entry, assigning id and timestamps when unset.
func (p *Provider) Add(ctx context.Context, entry *memory.Entry) (string, error) {
	if strings.TrimSpace(entry.Content) == "" {
		return "", fmt.Errorf("entry content is empty")
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	entry.UpdatedAt = now
	entry.Importance = memory.ClampImportance(entry.Importance)
	if entry.Confidence <= 0 {
		entry.Confidence = 0.8
	}
	if entry.Type == "" {
		entry.Type = memory.TypeFact
	}
	if entry.Source == "" {
		entry.Source = memory.SourceInferred
	}
	entry.Active = true

	tags, meta, err := encodeTagsMeta(entry)
	if err != nil {
		return "", err
	}

	if _, err := p.pool.Exec(ctx, `
		INSERT INTO memories (id, user_id, content, type, source, importance,
			confidence, tags, metadata, created_at, updated_at, active,
			superseded_by, supersedes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12, $13)`,
		entry.ID, entry.UserID, entry.Content, entry.Type, entry.Source,
		entry.Importance, entry.Confidence, tags, meta,
		entry.CreatedAt, entry.UpdatedAt, entry.SupersededBy, entry.Supersedes,
	); err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	return entry.ID, nil
}

const selectEntry = `
	SELECT id, user_id, content, type, source, importance, confidence,
	       tags, metadata, created_at, updated_at, active, superseded_by,
	       supersedes
	FROM memories`

// Get retrieves an entry by id.
func (p *Provider) Get(ctx context.Context, id string) (*memory.Entry, error) {
	row := p.pool.QueryRow(ctx, selectEntry+` WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return entry, nil
}

// Search runs a tsvector keyword query scored with ts_rank, then blends in
// importance and recency the same way the native backend does. Semantic and
// hybrid modes degrade to keyword matching.
func (p *Provider) Search(ctx context.Context, req memory.SearchRequest) ([]*memory.Entry, error) {
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil
	}

	conds := []string{"content_tsv @@ websearch_to_tsquery('english', $1)"}
	args := []any{req.Query}
	n := 1

	next := func() string {
		n++
		return fmt.Sprintf("$%d", n)
	}

	if !req.Filter.IncludeInactive {
		conds = append(conds, "active")
	}
	if req.Filter.UserID != "" {
		conds = append(conds, "user_id = "+next())
		args = append(args, req.Filter.UserID)
	}
	if len(req.Filter.Types) > 0 {
		conds = append(conds, "type = ANY("+next()+")")
		types := make([]string, len(req.Filter.Types))
		for i, t := range req.Filter.Types {
			types[i] = string(t)
		}
		args = append(args, types)
	}
	if len(req.Filter.Sources) > 0 {
		conds = append(conds, "source = ANY("+next()+")")
		sources := make([]string, len(req.Filter.Sources))
		for i, s := range req.Filter.Sources {
			sources[i] = string(s)
		}
		args = append(args, sources)
	}
	if req.Filter.MinImportance > 0 {
		conds = append(conds, "importance >= "+next())
		args = append(args, req.Filter.MinImportance)
	}
	if req.Filter.MaxImportance > 0 {
		conds = append(conds, "importance <= "+next())
		args = append(args, req.Filter.MaxImportance)
	}
	if !req.Filter.Since.IsZero() {
		conds = append(conds, "created_at >= "+next())
		args = append(args, req.Filter.Since.UTC())
	}
	if !req.Filter.Until.IsZero() {
		conds = append(conds, "created_at <= "+next())
		args = append(args, req.Filter.Until.UTC())
	}

	limitPh := next()
	args = append(args, req.Limit)

	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, content, type, source, importance, confidence,
		       tags, metadata, created_at, updated_at, active, superseded_by,
		       supersedes,
		       ts_rank(content_tsv, websearch_to_tsquery('english', $1)) AS rank
		FROM memories WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY rank DESC LIMIT `+limitPh,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	var entries []*memory.Entry
	for rows.Next() {
		entry, rank, err := scanRankedEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}

		importance := float64(entry.Importance) / 10
		recency := recencyScore(now.Sub(entry.CreatedAt))
		entry.Score = 0.6*rank + 0.25*importance + 0.15*recency
		entry.ScoreBreakdown = map[string]float64{
			"keyword":    rank,
			"semantic":   0,
			"importance": importance,
			"recency":    recency,
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}

	if len(req.Filter.Tags) > 0 {
		filtered := entries[:0]
		for _, e := range entries {
			if hasAnyTag(e.Tags, req.Filter.Tags) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return entries, nil
}

// Update rewrites an entry's content and merges metadata.
func (p *Provider) Update(ctx context.Context, id string, content string, metadata map[string]any) error {
	entry, err := p.Get(ctx, id)
	if err != nil {
		return err
	}

	if content != "" {
		entry.Content = content
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		entry.Metadata[k] = v
	}

	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	if _, err := p.pool.Exec(ctx,
		`UPDATE memories SET content = $1, metadata = $2, updated_at = $3 WHERE id = $4`,
		entry.Content, string(meta), time.Now().UTC(), id,
	); err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return nil
}

// Delete removes an entry, soft by default.
func (p *Provider) Delete(ctx context.Context, id string, hard bool) error {
	query := `UPDATE memories SET active = FALSE, updated_at = NOW() WHERE id = $1`
	if hard {
		query = `DELETE FROM memories WHERE id = $1`
	}

	ct, err := p.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// List returns a user's entries ordered newest first.
func (p *Provider) List(ctx context.Context, userID string, limit, offset int) ([]*memory.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.pool.Query(ctx,
		selectEntry+` WHERE user_id = $1 AND active
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var entries []*memory.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return entries, nil
}

// Supersede marks the old entry inactive and inserts a replacement in one
// transaction.
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

	tags, meta, err := encodeTagsMeta(replacement)
	if err != nil {
		return nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin supersede: %w", err)
	}
	defer tx.Rollback(ctx)

	ct, err := tx.Exec(ctx,
		`UPDATE memories SET active = FALSE, superseded_by = $1, updated_at = $2
		 WHERE id = $3 AND active`,
		replacement.ID, now, oldID,
	)
	if err != nil {
		return nil, fmt.Errorf("deactivate superseded: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return nil, memory.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO memories (id, user_id, content, type, source, importance,
			confidence, tags, metadata, created_at, updated_at, active,
			superseded_by, supersedes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, '', $12)`,
		replacement.ID, replacement.UserID, replacement.Content,
		replacement.Type, replacement.Source, replacement.Importance,
		replacement.Confidence, tags, meta, replacement.CreatedAt,
		replacement.UpdatedAt, replacement.Supersedes,
	); err != nil {
		return nil, fmt.Errorf("insert replacement: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit supersede: %w", err)
	}

	return replacement, nil
}

func scanEntry(row pgx.Row) (*memory.Entry, error) {
	var (
		e          memory.Entry
		tags, meta []byte
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.Content, &e.Type, &e.Source, &e.Importance,
		&e.Confidence, &tags, &meta, &e.CreatedAt, &e.UpdatedAt, &e.Active,
		&e.SupersededBy, &e.Supersedes,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(meta, &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &e, nil
}

func scanRankedEntry(row pgx.Row) (*memory.Entry, float64, error) {
	var (
		e          memory.Entry
		tags, meta []byte
		rank       float64
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.Content, &e.Type, &e.Source, &e.Importance,
		&e.Confidence, &tags, &meta, &e.CreatedAt, &e.UpdatedAt, &e.Active,
		&e.SupersededBy, &e.Supersedes, &rank,
	); err != nil {
		return nil, 0, err
	}
	if err := json.Unmarshal(tags, &e.Tags); err != nil {
		return nil, 0, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(meta, &e.Metadata); err != nil {
		return nil, 0, fmt.Errorf("decode metadata: %w", err)
	}
	return &e, rank, nil
}

func encodeTagsMeta(entry *memory.Entry) (string, string, error) {
	if entry.Tags == nil {
		entry.Tags = []string{}
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return "", "", fmt.Errorf("marshal tags: %w", err)
	}
	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(tags), string(meta), nil
}

func recencyScore(age time.Duration) float64 {
	const halfLife = 30 * 24 * time.Hour
	if age <= 0 {
		return 1
	}
	return 1 / (1 + float64(age)/float64(halfLife))
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
