// Package native implements the default SQLite-backed memory provider.
//
// Keyword search runs on an FTS5 index kept in sync transactionally with the
// memories table. When an embedder and vector driver are configured, hybrid
// search blends keyword and semantic scores; without them the provider
// degrades to keyword matching. All capability interfaces are implemented:
// supersession, commitments, context snapshots, and consolidation.
package native

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/vector"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	content       TEXT NOT NULL,
	type          TEXT NOT NULL,
	source        TEXT NOT NULL,
	importance    INTEGER NOT NULL,
	confidence    REAL NOT NULL,
	tags          TEXT NOT NULL DEFAULT '[]',
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	active        INTEGER NOT NULL DEFAULT 1,
	superseded_by TEXT NOT NULL DEFAULT '',
	supersedes    TEXT NOT NULL DEFAULT '',
	consolidated  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, active);
CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	mem_id UNINDEXED
);

CREATE TABLE IF NOT EXISTS commitments (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	content       TEXT NOT NULL,
	target_person TEXT NOT NULL DEFAULT '',
	due_date      TIMESTAMP,
	status        TEXT NOT NULL DEFAULT 'active',
	channel       TEXT NOT NULL DEFAULT '',
	message_id    TEXT NOT NULL DEFAULT '',
	notes         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commitments_user ON commitments(user_id, status);

CREATE TABLE IF NOT EXISTS context_snapshots (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT '{}',
	trigger_kind TEXT NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	captured_at  TIMESTAMP NOT NULL,
	expires_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_snapshots_user ON context_snapshots(user_id, captured_at);
`

// Options configures optional semantic search support.
type Options struct {
	// Embedder converts content to vectors. Optional; without it search is
	// keyword-only.
	Embedder embeddings.Embedder

	// Vectors stores and queries embeddings. Required when Embedder is set.
	Vectors vector.Driver

	Logger *slog.Logger
}

// Provider is the SQLite memory backend.
type Provider struct {
	db       *sql.DB
	embedder embeddings.Embedder
	vectors  vector.Driver
	logger   *slog.Logger
}

var (
	_ memory.Provider              = (*Provider)(nil)
	_ memory.SupersessionProvider  = (*Provider)(nil)
	_ memory.CommitmentProvider    = (*Provider)(nil)
	_ memory.ContextProvider       = (*Provider)(nil)
	_ memory.ConsolidationProvider = (*Provider)(nil)
)

// New opens (creating if needed) the memory database at path.
func New(path string, opts Options) (*Provider, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create memory schema: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		db:       db,
		embedder: opts.Embedder,
		vectors:  opts.Vectors,
		logger:   logger,
	}, nil
}

// Close closes the database and any vector resources.
func (p *Provider) Close() error {
	if p.vectors != nil {
		if err := p.vectors.Close(); err != nil {
			p.logger.Warn("closing vector driver", "error", err)
		}
	}
	return p.db.Close()
}

// HealthCheck verifies the database answers queries.
func (p *Provider) HealthCheck(ctx context.Context) error {
	var one int
	if err := p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("memory db unreachable: %w", err)
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

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin add: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, user_id, content, type, source, importance,
			confidence, tags, metadata, created_at, updated_at, active,
			superseded_by, supersedes, consolidated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Content, entry.Type, entry.Source,
		entry.Importance, entry.Confidence, tags, meta,
		entry.CreatedAt, entry.UpdatedAt, entry.SupersededBy, entry.Supersedes,
		boolToInt(isConsolidated(entry)),
	); err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts (content, mem_id) VALUES (?, ?)`,
		entry.Content, entry.ID,
	); err != nil {
		return "", fmt.Errorf("index memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit add: %w", err)
	}

	p.indexVector(ctx, entry)

	return entry.ID, nil
}

// Get retrieves an entry by id.
func (p *Provider) Get(ctx context.Context, id string) (*memory.Entry, error) {
	row := p.db.QueryRowContext(ctx, selectEntry+` WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	return entry, nil
}

// Update rewrites an entry's content and merges metadata, reindexing the
// full-text and vector indexes.
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
	entry.UpdatedAt = time.Now().UTC()

	meta, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE memories SET content = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		entry.Content, string(meta), entry.UpdatedAt, id,
	); err != nil {
		return fmt.Errorf("update memory: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE mem_id = ?`, id); err != nil {
		return fmt.Errorf("deindex memory: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts (content, mem_id) VALUES (?, ?)`,
		entry.Content, id,
	); err != nil {
		return fmt.Errorf("reindex memory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}

	p.indexVector(ctx, entry)

	return nil
}

// Delete removes an entry. Soft deletion keeps the row and its FTS entry but
// marks it inactive, so only IncludeInactive searches see it. Hard deletion
// removes the row and every index entry.
func (p *Provider) Delete(ctx context.Context, id string, hard bool) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	var res sql.Result
	if hard {
		res, err = tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE memories SET active = 0, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		return memory.ErrNotFound
	}

	if hard {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE mem_id = ?`, id); err != nil {
			return fmt.Errorf("deindex memory: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	if p.vectors != nil {
		if err := p.vectors.Delete(ctx, []string{id}); err != nil {
			p.logger.Warn("vector delete failed", "memory_id", id, "error", err)
		}
	}

	return nil
}

// List returns a user's entries ordered newest first.
func (p *Provider) List(ctx context.Context, userID string, limit, offset int) ([]*memory.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := p.db.QueryContext(ctx,
		selectEntry+` WHERE user_id = ? AND active = 1
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// indexVector embeds and stores the entry in the vector index. Failures are
// logged, not returned: the entry is already durable in SQLite and keyword
// search still finds it.
func (p *Provider) indexVector(ctx context.Context, entry *memory.Entry) {
	if p.embedder == nil || p.vectors == nil {
		return
	}

	emb, err := p.embedder.Embed(ctx, entry.Content)
	if err != nil {
		p.logger.Warn("embedding failed, entry indexed keyword-only",
			"memory_id", entry.ID, "error", err)
		return
	}

	if err := p.vectors.Add(ctx, []vector.Document{{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Embedding: emb,
	}}); err != nil {
		p.logger.Warn("vector index failed, entry indexed keyword-only",
			"memory_id", entry.ID, "error", err)
	}
}

const selectEntry = `
	SELECT id, user_id, content, type, source, importance, confidence,
	       tags, metadata, created_at, updated_at, active, superseded_by,
	       supersedes
	FROM memories`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*memory.Entry, error) {
	var (
		e          memory.Entry
		tags, meta string
		active     int
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.Content, &e.Type, &e.Source, &e.Importance,
		&e.Confidence, &tags, &meta, &e.CreatedAt, &e.UpdatedAt, &active,
		&e.SupersededBy, &e.Supersedes,
	); err != nil {
		return nil, err
	}

	e.Active = active == 1
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*memory.Entry, error) {
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

func isConsolidated(entry *memory.Entry) bool {
	if entry.Metadata == nil {
		return false
	}
	v, ok := entry.Metadata["consolidated"].(bool)
	return ok && v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
