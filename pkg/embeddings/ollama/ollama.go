// Package ollama embeds memory content through a local Ollama instance's
// /api/embed endpoint. It is the default embedder for the native provider:
// no API key, runs on the same machine as the daemon, and nomic-embed-text
// is small enough to keep extraction latency tolerable.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/vector"
)

const (
	// DefaultEmbeddingModel is used when the config names no model.
	DefaultEmbeddingModel = "nomic-embed-text"

	// DefaultBaseURL is Ollama's standard local listen address.
	DefaultBaseURL = "http://localhost:11434"
)

// requestTimeout is generous; a cold model load can take most of it.
const requestTimeout = 120 * time.Second

// Embedder calls Ollama's embedding API.
type Embedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

var _ embeddings.Embedder = (*Embedder)(nil)

// EmbedderConfig holds Ollama connection settings.
type EmbedderConfig struct {
	// BaseURL of the Ollama server. Defaults to DefaultBaseURL.
	BaseURL string

	// Model is the embedding model name. Defaults to DefaultEmbeddingModel.
	Model string
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewEmbedder creates an Embedder for the configured Ollama server. The
// server is not contacted until the first Embed call.
func NewEmbedder(cfg EmbedderConfig) (*Embedder, error) {
	e := &Embedder{
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.model == "" {
		e.model = DefaultEmbeddingModel
	}
	return e, nil
}

// Embed returns the vector for a piece of memory content. Failures are
// wrapped in vector.ErrEmbedding so callers can degrade to keyword search.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshaling request: %v", vector.ErrEmbedding, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", vector.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: sending request: %v", vector.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", vector.ErrEmbedding, resp.StatusCode, string(msg))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", vector.ErrEmbedding, err)
	}
	if len(decoded.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", vector.ErrEmbedding)
	}

	return decoded.Embeddings[0], nil
}

// Close is a no-op; the HTTP client holds nothing that needs releasing.
func (e *Embedder) Close() error {
	return nil
}
