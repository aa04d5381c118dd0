// Package vector provides interfaces and implementations for vector storage
// used by the native memory provider's semantic index.
package vector

import "context"

// Document represents a stored item with its embedding and metadata.
type Document struct {
	// ID is a unique identifier for the document (the memory entry id).
	ID string

	// UserID scopes the document to a user.
	UserID string

	// Embedding is the vector representation of the document content.
	Embedding []float32
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score represents the similarity score (higher = more similar).
	Score float32
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings.
	// If a document with the same ID already exists, implementers should
	// update the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the given embedding.
	// An empty userID matches all users.
	Query(ctx context.Context, userID string, embedding []float32, topK int) ([]QueryResult, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
