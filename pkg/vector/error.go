package vector

import "errors"

// ErrEmbedding indicates an embedding could not be generated.
var ErrEmbedding = errors.New("embedding generation failed")

// ErrVectorStore indicates a vector store operation failed.
var ErrVectorStore = errors.New("vector store operation failed")
