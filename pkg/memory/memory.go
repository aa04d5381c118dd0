// Package memory defines the durable memory model of the engram system and
// the provider interfaces that storage backends implement.
//
// A memory entry is a distilled, persistent piece of knowledge extracted from
// conversations, not a raw message. Entries are created by the background
// extraction pipeline, mutated through update/supersede, and recalled through
// search. Supersession never destroys history: the old entry stays inactive
// with a reference from its replacement, so "what did I used to believe" is
// always answerable.
//
// Capabilities are segregated into small interfaces rather than probed at
// runtime: a backend that cannot supersede simply does not implement
// SupersessionProvider, and callers discover that with a type assertion at
// construction time.
package memory

import (
	"time"
)

// Type classifies what kind of knowledge an entry captures.
type Type string

const (
	TypeFact         Type = "fact"
	TypePreference   Type = "preference"
	TypeEvent        Type = "event"
	TypeInsight      Type = "insight"
	TypeRelationship Type = "relationship"
	TypeCommitment   Type = "commitment"
)

// Source records where an entry came from.
type Source string

const (
	SourceUser     Source = "user"
	SourceInferred Source = "inferred"
	SourceSession  Source = "session"
	SourceExternal Source = "external"
	SourceSystem   Source = "system"
	SourceAgent    Source = "agent"
)

// Entry is a single durable memory record.
type Entry struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Content    string         `json:"content"`
	Type       Type           `json:"type"`
	Source     Source         `json:"source"`
	Importance int            `json:"importance"` // 1-10 inclusive
	Confidence float64        `json:"confidence"` // 0.0-1.0
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`

	// Active is false once the entry has been superseded or soft-deleted.
	Active bool `json:"active"`

	// SupersededBy points at the entry that replaced this one, if any.
	SupersededBy string `json:"superseded_by,omitempty"`

	// Supersedes points back at the entry this one replaced, if any.
	Supersedes string `json:"supersedes,omitempty"`

	// Score and ScoreBreakdown are populated only on search results and are
	// never persisted.
	Score          float64            `json:"score,omitempty"`
	ScoreBreakdown map[string]float64 `json:"score_breakdown,omitempty"`
}

// ClampImportance bounds an importance value to the valid [1,10] range.
func ClampImportance(v int) int {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

// CommitmentStatus tracks the lifecycle of a commitment.
type CommitmentStatus string

const (
	CommitmentActive    CommitmentStatus = "active"
	CommitmentCompleted CommitmentStatus = "completed"
	CommitmentCancelled CommitmentStatus = "cancelled"
)

// Commitment is a promise the user made ("I'll send the report by Friday"),
// tracked separately from general memories so it can be listed, completed,
// and surfaced in context blocks with its own budget.
type Commitment struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Content      string           `json:"content"`
	TargetPerson string           `json:"target_person,omitempty"`
	DueDate      *time.Time       `json:"due_date,omitempty"`
	Status       CommitmentStatus `json:"status"`
	Channel      string           `json:"channel,omitempty"`
	MessageID    string           `json:"message_id,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// SnapshotTrigger records why a context snapshot was captured.
type SnapshotTrigger string

const (
	TriggerSwitch  SnapshotTrigger = "switch"
	TriggerTimeout SnapshotTrigger = "timeout"
	TriggerManual  SnapshotTrigger = "manual"
)

// ContextSnapshot preserves working state when the user switches tasks, so a
// later "where was I?" can resume it.
type ContextSnapshot struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	State      map[string]any  `json:"state"`
	Trigger    SnapshotTrigger `json:"trigger"`
	Summary    string          `json:"summary,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
}
