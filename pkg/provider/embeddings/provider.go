// Package embeddings defines the Provider interface for text embedding
// backends used by the similarity index. Implementors must be safe for
// concurrent use.
package embeddings

import "context"

// Provider produces vector embeddings for text.
type Provider interface {
	// Name identifies the backing implementation.
	Name() string

	// Embed returns the embedding vector for text. The dimensionality is
	// fixed per model and must match the index it is written to.
	Embed(ctx context.Context, text string) ([]float32, error)
}
