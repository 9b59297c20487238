package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/wardstone-rpg/wardstone/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ Index = (*MemIndex)(nil)

// MemIndex is an in-memory [Index] computing exact cosine similarity. It
// serves tests and single-node runs without pgvector.
type MemIndex struct {
	mu       sync.Mutex
	embedder embeddings.Provider
	entries  map[string]memEntry
}

type memEntry struct {
	Entry
	vec []float32
}

// NewMemIndex returns an initialised [MemIndex].
func NewMemIndex(embedder embeddings.Provider) *MemIndex {
	return &MemIndex{embedder: embedder, entries: make(map[string]memEntry)}
}

// Add implements [Index.Add].
func (s *MemIndex) Add(ctx context.Context, e Entry) error {
	vec, err := s.embedder.Embed(ctx, e.Summary)
	if err != nil {
		return fmt.Errorf("similarity: embed %q: %w", e.RequestID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.RequestID] = memEntry{Entry: e, vec: vec}
	return nil
}

// Search implements [Index.Search].
func (s *MemIndex) Search(ctx context.Context, guildID, text string, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("similarity: embed query: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Match
	for _, e := range s.entries {
		if e.GuildID != guildID {
			continue
		}
		out = append(out, Match{Entry: e.Entry, Score: cosine(vec, e.vec)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or the lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
