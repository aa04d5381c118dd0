package memory

import "time"

// SearchMode selects how a query is matched against stored entries.
type SearchMode string

const (
	// ModeKeyword matches against the full-text index only.
	ModeKeyword SearchMode = "keyword"

	// ModeSemantic matches against the vector index only.
	ModeSemantic SearchMode = "semantic"

	// ModeHybrid combines keyword and vector scores. Backends without a
	// vector index degrade to keyword matching.
	ModeHybrid SearchMode = "hybrid"
)

// Filter narrows a search or list operation.
type Filter struct {
	UserID        string
	Types         []Type
	Sources       []Source
	MinImportance int
	MaxImportance int
	Tags          []string
	Since         time.Time
	Until         time.Time

	// IncludeInactive includes superseded and soft-deleted entries. This is
	// the history view: "what did I used to believe".
	IncludeInactive bool
}

// SearchRequest is a full search specification.
type SearchRequest struct {
	Query  string
	Limit  int
	Mode   SearchMode
	Filter Filter
}
