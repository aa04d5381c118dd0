// Package eventstream publishes memory lifecycle events so other systems can
// react to what the assistant learns without polling the store.
package eventstream

import (
	"time"
)

// SchemaVersion is bumped whenever the event payload changes shape.
const SchemaVersion = 1

// Event kinds.
const (
	KindMemoryStored     = "memory.stored"
	KindMemorySuperseded = "memory.superseded"
	KindMemoryPromoted   = "memory.promoted"
)

// Event is one memory lifecycle notification.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	Kind          string    `json:"kind"`
	UserID        string    `json:"user_id"`
	MemoryID      string    `json:"memory_id"`
	Timestamp     time.Time `json:"timestamp"`

	// SupersededID is set on memory.superseded events.
	SupersededID string `json:"superseded_id,omitempty"`

	// SourceIDs is set on memory.promoted events: the consolidated entries.
	SourceIDs []string `json:"source_ids,omitempty"`
}

// Stored builds a memory.stored event.
func Stored(userID, memoryID string) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		Kind:          KindMemoryStored,
		UserID:        userID,
		MemoryID:      memoryID,
		Timestamp:     time.Now().UTC(),
	}
}

// Superseded builds a memory.superseded event.
func Superseded(userID, newID, oldID string) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		Kind:          KindMemorySuperseded,
		UserID:        userID,
		MemoryID:      newID,
		SupersededID:  oldID,
		Timestamp:     time.Now().UTC(),
	}
}

// Promoted builds a memory.promoted event for a consolidation summary.
func Promoted(userID, summaryID string, sourceIDs []string) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		Kind:          KindMemoryPromoted,
		UserID:        userID,
		MemoryID:      summaryID,
		SourceIDs:     sourceIDs,
		Timestamp:     time.Now().UTC(),
	}
}
