// Package embeddings defines the embedding gateway used to turn passages and
// queries into vectors.
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts texts into embeddings, one per input and in input
	// order. An error means no vector in the batch can be trusted.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the configured vector size, 0 when the provider decides.
	Dimensions() uint

	// Close releases any resources held by the embedder.
	Close() error
}
