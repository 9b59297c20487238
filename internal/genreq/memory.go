package genreq

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory [Store] for tests and single-node
// runs without a database. The zero value is ready to use.
type MemStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{requests: make(map[string]*Request)}
}

// Create implements [Store.Create].
func (s *MemStore) Create(ctx context.Context, req *Request) error {
	if req.ID == "" || req.GuildID == "" {
		return fmt.Errorf("genreq: create: id and guild_id are required")
	}
	if !req.Type.IsValid() {
		return fmt.Errorf("genreq: create: request type %q is invalid", req.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requests == nil {
		s.requests = make(map[string]*Request)
	}
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("genreq: create: request %q already exists", req.ID)
	}

	now := time.Now().UTC()
	req.Status = StatusPendingValidation
	req.CreatedAt = now
	req.UpdatedAt = now

	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("genreq: get %q: %w", id, ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context, f Filter) ([]*Request, error) {
	if f.GuildID == "" {
		return nil, fmt.Errorf("genreq: list: guild_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Request
	for _, req := range s.requests {
		if req.GuildID != f.GuildID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.Type != "" && req.Type != f.Type {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// SetRawOutput implements [Store.SetRawOutput].
func (s *MemStore) SetRawOutput(ctx context.Context, id string, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("genreq: set raw output %q: %w", id, ErrNotFound)
	}
	req.RawOutput = raw
	req.UpdatedAt = time.Now().UTC()
	return nil
}

// Transition implements [Store.Transition].
func (s *MemStore) Transition(ctx context.Context, id string, from, to Status, upd Update) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("genreq: transition %q: %s → %s: %w", id, from, to, ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("genreq: transition %q: %w", id, ErrNotFound)
	}
	if req.Status != from {
		return fmt.Errorf("genreq: transition %q: status is %s, not %s: %w", id, req.Status, from, ErrInvalidTransition)
	}

	req.Status = to
	applyUpdate(req, upd)
	req.UpdatedAt = time.Now().UTC()
	if to == StatusApproved || to == StatusRejected {
		req.ModeratedAt = req.UpdatedAt
	}
	return nil
}

func applyUpdate(req *Request, upd Update) {
	if upd.RawOutput != nil {
		req.RawOutput = *upd.RawOutput
	}
	if upd.ParsedData != nil {
		req.ParsedData = upd.ParsedData
	}
	if upd.Issues != nil {
		req.Issues = upd.Issues
	}
	if upd.ModeratorID != nil {
		req.ModeratorID = *upd.ModeratorID
	}
	if upd.ModeratorNotes != nil {
		req.ModeratorNotes = *upd.ModeratorNotes
	}
}
