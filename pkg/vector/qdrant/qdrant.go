// Package qdrant provides a Qdrant-backed vector driver for deployments that
// keep the semantic index in a dedicated vector database instead of sqlite-vec.
package qdrant

import (
	"context"
	"fmt"
	"log/slog"

	qd "github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/engram/pkg/vector"
)

const defaultCollection = "engram_memories"

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Host is the Qdrant gRPC host.
	Host string

	// Port is the Qdrant gRPC port (typically 6334).
	Port int

	// Collection is the collection name. Defaults to "engram_memories".
	Collection string

	// Dimensions is the embedding vector size.
	Dimensions uint
}

// Driver implements vector.Driver backed by a Qdrant collection.
type Driver struct {
	client     *qd.Client
	collection string
	logger     *slog.Logger
}

// NewDriver connects to Qdrant and ensures the collection exists.
func NewDriver(ctx context.Context, c Config, logger *slog.Logger) (*Driver, error) {
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}

	collection := c.Collection
	if collection == "" {
		collection = defaultCollection
	}

	client, err := qd.NewClient(&qd.Config{
		Host: c.Host,
		Port: c.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("checking collection: %w", err)
	}

	if !exists {
		err = client.CreateCollection(ctx, &qd.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qd.NewVectorsConfig(&qd.VectorParams{
				Size:     uint64(c.Dimensions),
				Distance: qd.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("creating collection: %w", err)
		}
	}

	logger.Info("qdrant vector driver initialized",
		"host", c.Host,
		"collection", collection,
		"dimensions", c.Dimensions,
	)

	return &Driver{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

// Add upserts documents into the collection. Qdrant upserts by point id, so
// re-adding an existing id updates it in place.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qd.PointStruct, 0, len(docs))
	for _, doc := range docs {
		points = append(points, &qd.PointStruct{
			Id:      qd.NewID(doc.ID),
			Vectors: qd.NewVectors(doc.Embedding...),
			Payload: qd.NewValueMap(map[string]any{
				"doc_id":  doc.ID,
				"user_id": doc.UserID,
			}),
		})
	}

	_, err := d.client.Upsert(ctx, &qd.UpsertPoints{
		CollectionName: d.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upserting points: %v", vector.ErrVectorStore, err)
	}

	d.logger.Debug("added documents to qdrant", "count", len(docs))

	return nil
}

// Query finds the topK most similar documents, optionally scoped to a user.
func (d *Driver) Query(ctx context.Context, userID string, embedding []float32, topK int) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	limit := uint64(topK)
	query := &qd.QueryPoints{
		CollectionName: d.collection,
		Query:          qd.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qd.NewWithPayload(true),
	}

	if userID != "" {
		query.Filter = &qd.Filter{
			Must: []*qd.Condition{
				qd.NewMatch("user_id", userID),
			},
		}
	}

	points, err := d.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: querying points: %v", vector.ErrVectorStore, err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, point := range points {
		doc := vector.Document{}
		if payload := point.GetPayload(); payload != nil {
			doc.ID = payload["doc_id"].GetStringValue()
			doc.UserID = payload["user_id"].GetStringValue()
		}
		if doc.ID == "" {
			doc.ID = point.GetId().GetUuid()
		}

		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    point.GetScore(),
		})
	}

	d.logger.Debug("queried qdrant", "results", len(results))

	return results, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qd.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qd.NewID(id))
	}

	_, err := d.client.Delete(ctx, &qd.DeletePoints{
		CollectionName: d.collection,
		Points:         qd.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting points: %v", vector.ErrVectorStore, err)
	}

	d.logger.Debug("deleted documents from qdrant", "count", len(ids))

	return nil
}

// Close releases the underlying gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}
