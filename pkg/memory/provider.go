package memory

import (
	"context"
	"time"
)

// Provider is the core storage contract every memory backend must satisfy.
// The pipeline depends only on this interface; capability extensions below
// are discovered with type assertions at construction time.
type Provider interface {
	// Add persists a new entry and returns its id. The backend assigns the
	// id and timestamps when unset and clamps importance to [1,10].
	Add(ctx context.Context, entry *Entry) (string, error)

	// Get retrieves an entry by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Entry, error)

	// Search returns entries matching the request, scored for relevance.
	Search(ctx context.Context, req SearchRequest) ([]*Entry, error)

	// Update rewrites an entry's content and merges metadata.
	Update(ctx context.Context, id string, content string, metadata map[string]any) error

	// Delete removes an entry. Soft deletion marks it inactive; hard
	// deletion removes the row.
	Delete(ctx context.Context, id string, hard bool) error

	// List returns entries for a user ordered by recency.
	List(ctx context.Context, userID string, limit, offset int) ([]*Entry, error)

	// HealthCheck verifies the backend is reachable and serviceable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// SupersessionProvider is implemented by backends that can replace an entry
// while preserving it as history.
type SupersessionProvider interface {
	// Supersede marks the old entry inactive and creates a new active entry
	// whose Supersedes field references it. The old entry is never deleted.
	Supersede(ctx context.Context, oldID, newContent, reason string) (*Entry, error)
}

// CommitmentProvider is implemented by backends that track commitments.
type CommitmentProvider interface {
	AddCommitment(ctx context.Context, c *Commitment) (string, error)

	// ListCommitments returns a user's commitments, optionally filtered by
	// status and a due-before bound.
	ListCommitments(ctx context.Context, userID string, status CommitmentStatus, dueBefore *time.Time) ([]*Commitment, error)

	CompleteCommitment(ctx context.Context, id string) error
	CancelCommitment(ctx context.Context, id string) error
}

// ContextProvider is implemented by backends that store context snapshots.
type ContextProvider interface {
	CaptureContext(ctx context.Context, snap *ContextSnapshot) (string, error)

	// ResumeContext returns the most recent unexpired snapshot for a user.
	ResumeContext(ctx context.Context, userID string) (*ContextSnapshot, error)

	ListContexts(ctx context.Context, userID string, limit int) ([]*ContextSnapshot, error)
}

// ConsolidationProvider is implemented by backends that support periodic
// merging of related entries into denser long-term summaries.
type ConsolidationProvider interface {
	// Users returns the ids of users with active entries.
	Users(ctx context.Context) ([]string, error)

	// ListConsolidatable returns active, unconsolidated entries older than
	// minAge for a user.
	ListConsolidatable(ctx context.Context, userID string, minAge time.Duration, limit int) ([]*Entry, error)

	// Promote stores the summary entry and supersedes every entry in ids
	// with it, in one transaction.
	Promote(ctx context.Context, ids []string, summary *Entry) (string, error)
}
