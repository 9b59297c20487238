package persist

import (
	"context"
	"fmt"
	"sync"

	"github.com/wardstone-rpg/wardstone/internal/world"
)

// Compile-time interface check.
var _ RowStore = (*MemRowStore)(nil)

// MemRowStore is an in-memory [RowStore] for tests and single-node runs
// without a database. Error fields inject failures so flush retry behaviour
// can be exercised.
//
// All methods are safe for concurrent use. The zero value is ready to use.
type MemRowStore struct {
	mu   sync.Mutex
	rows map[string]map[string]Row

	// LoadErr, UpsertErr and DeleteErr, when non-nil, are returned by the
	// corresponding operation instead of touching the store.
	LoadErr   error
	UpsertErr error
	DeleteErr error
}

// NewMemRowStore returns an initialised [MemRowStore].
func NewMemRowStore() *MemRowStore {
	return &MemRowStore{rows: make(map[string]map[string]Row)}
}

// LoadGuild implements [RowStore.LoadGuild].
func (s *MemRowStore) LoadGuild(ctx context.Context, guildID string, kind world.Kind) ([]Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.LoadErr != nil {
		return nil, fmt.Errorf("persist: load guild %q: %w: %w", guildID, ErrStorageUnavailable, s.LoadErr)
	}

	var out []Row
	for _, r := range s.rows[guildID] {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpsertBatch implements [RowStore.UpsertBatch].
func (s *MemRowStore) UpsertBatch(ctx context.Context, batch []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UpsertErr != nil {
		return fmt.Errorf("persist: upsert batch: %w: %w", ErrStorageUnavailable, s.UpsertErr)
	}

	if s.rows == nil {
		s.rows = make(map[string]map[string]Row)
	}
	for _, r := range batch {
		g := s.rows[r.GuildID]
		if g == nil {
			g = make(map[string]Row)
			s.rows[r.GuildID] = g
		}
		g[r.ID] = r
	}
	return nil
}

// DeleteBatch implements [RowStore.DeleteBatch].
func (s *MemRowStore) DeleteBatch(ctx context.Context, guildID string, kind world.Kind, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.DeleteErr != nil {
		return fmt.Errorf("persist: delete batch: %w: %w", ErrStorageUnavailable, s.DeleteErr)
	}

	for _, id := range ids {
		if r, ok := s.rows[guildID][id]; ok && r.Kind == kind {
			delete(s.rows[guildID], id)
		}
	}
	return nil
}

// Put seeds a row directly, bypassing batching. Test helper.
func (s *MemRowStore) Put(r Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rows == nil {
		s.rows = make(map[string]map[string]Row)
	}
	g := s.rows[r.GuildID]
	if g == nil {
		g = make(map[string]Row)
		s.rows[r.GuildID] = g
	}
	g[r.ID] = r
}

// Len returns the number of stored rows for the guild, across all kinds.
func (s *MemRowStore) Len(guildID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rows[guildID])
}
