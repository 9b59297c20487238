// Package mock provides a test double for the embeddings.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/wardstone-rpg/wardstone/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a mock implementation of embeddings.Provider. By default it
// returns a deterministic vector derived from the text length, which is
// enough for round-trip tests; set EmbedFunc for full control.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, if non-nil, handles every Embed call.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedErr, if non-nil, is returned by Embed.
	EmbedErr error

	// Texts accumulates every text passed to Embed.
	Texts []string
}

// Name implements embeddings.Provider.
func (p *Provider) Name() string { return "mock" }

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.Texts = append(p.Texts, text)
	fn, err := p.EmbedFunc, p.EmbedErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return nil, err
	}
	return []float32{float32(len(text)), 1, 0}, nil
}
