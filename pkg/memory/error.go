package memory

import "errors"

// ErrNotFound is returned when an entry, commitment, or snapshot doesn't
// exist in the store.
var ErrNotFound = errors.New("memory entry not found")
