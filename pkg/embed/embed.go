// Package embed wraps text-embedding providers behind one gateway with
// content-hash caching and bounded retry. The provider itself is opaque:
// anything that turns text into a fixed-dimension vector can sit behind
// the Embedder interface.
package embed

import "context"

// Embedder converts text to vector embeddings. Implementations:
// adapters/openai for the OpenAI API, adapters/mock for deterministic
// offline vectors.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one provider round trip.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
