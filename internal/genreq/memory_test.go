package genreq

import (
	"context"
	"errors"
	"testing"
)

func newRequest(id, guildID string) *Request {
	return &Request{
		ID:      id,
		GuildID: guildID,
		Type:    TypeNPCProfile,
		Params:  []byte(`{"concept":"a dockside informant"}`),
	}
}

func TestMemStore_Create(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	req := newRequest("r1", "g1")
	if err := s.Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusPendingValidation {
		t.Errorf("status = %s, want %s", got.Status, StatusPendingValidation)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set on create")
	}

	if err := s.Create(ctx, newRequest("r1", "g1")); err == nil {
		t.Error("duplicate Create succeeded")
	}
	if err := s.Create(ctx, &Request{ID: "r2", GuildID: "g1", Type: "BOGUS"}); err == nil {
		t.Error("Create with invalid type succeeded")
	}
}

func TestMemStore_GetNotFound(t *testing.T) {
	t.Parallel()
	s := NewMemStore()

	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_Transition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("valid path with update", func(t *testing.T) {
		t.Parallel()
		s := NewMemStore()
		if err := s.Create(ctx, newRequest("r1", "g1")); err != nil {
			t.Fatal(err)
		}

		err := s.Transition(ctx, "r1", StatusPendingValidation, StatusPendingModeration, Update{
			ParsedData: []byte(`{"name":"Vex"}`),
			Issues:     []Issue{{Location: "location_id", Kind: KindUnknownReference, Message: "no match"}},
		})
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}

		got, _ := s.Get(ctx, "r1")
		if got.Status != StatusPendingModeration {
			t.Errorf("status = %s, want %s", got.Status, StatusPendingModeration)
		}
		if len(got.ParsedData) == 0 || len(got.Issues) != 1 {
			t.Errorf("update not applied: parsed=%d issues=%d", len(got.ParsedData), len(got.Issues))
		}
	})

	t.Run("illegal jump rejected", func(t *testing.T) {
		t.Parallel()
		s := NewMemStore()
		if err := s.Create(ctx, newRequest("r1", "g1")); err != nil {
			t.Fatal(err)
		}

		err := s.Transition(ctx, "r1", StatusPendingValidation, StatusApplied, Update{})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("stale source status rejected", func(t *testing.T) {
		t.Parallel()
		s := NewMemStore()
		if err := s.Create(ctx, newRequest("r1", "g1")); err != nil {
			t.Fatal(err)
		}
		if err := s.Transition(ctx, "r1", StatusPendingValidation, StatusPendingModeration, Update{}); err != nil {
			t.Fatal(err)
		}

		// A second racer trying the same transition loses.
		err := s.Transition(ctx, "r1", StatusPendingValidation, StatusPendingModeration, Update{})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("moderation decision stamps moderated_at", func(t *testing.T) {
		t.Parallel()
		s := NewMemStore()
		if err := s.Create(ctx, newRequest("r1", "g1")); err != nil {
			t.Fatal(err)
		}
		if err := s.Transition(ctx, "r1", StatusPendingValidation, StatusPendingModeration, Update{}); err != nil {
			t.Fatal(err)
		}

		mod := "mod-7"
		notes := "looks reasonable"
		if err := s.Transition(ctx, "r1", StatusPendingModeration, StatusApproved, Update{
			ModeratorID:    &mod,
			ModeratorNotes: &notes,
		}); err != nil {
			t.Fatal(err)
		}

		got, _ := s.Get(ctx, "r1")
		if got.ModeratorID != "mod-7" || got.ModeratorNotes != "looks reasonable" {
			t.Errorf("moderator fields = %q / %q", got.ModeratorID, got.ModeratorNotes)
		}
		if got.ModeratedAt.IsZero() {
			t.Error("ModeratedAt not stamped on approval")
		}
	})

	t.Run("unknown request", func(t *testing.T) {
		t.Parallel()
		s := NewMemStore()
		err := s.Transition(ctx, "nope", StatusPendingValidation, StatusPendingModeration, Update{})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestMemStore_SetRawOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()
	if err := s.Create(ctx, newRequest("r1", "g1")); err != nil {
		t.Fatal(err)
	}

	if err := s.SetRawOutput(ctx, "r1", `{"name":"Vex"}`); err != nil {
		t.Fatalf("SetRawOutput: %v", err)
	}
	got, _ := s.Get(ctx, "r1")
	if got.RawOutput == "" {
		t.Error("raw output not stored")
	}
	if got.Status != StatusPendingValidation {
		t.Errorf("SetRawOutput changed status to %s", got.Status)
	}

	if err := s.SetRawOutput(ctx, "nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_List(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	for _, id := range []string{"r1", "r2", "r3"} {
		if err := s.Create(ctx, newRequest(id, "g1")); err != nil {
			t.Fatal(err)
		}
	}
	other := newRequest("r4", "g2")
	other.Type = TypeQuest
	if err := s.Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := s.Transition(ctx, "r2", StatusPendingValidation, StatusFailedGeneration, Update{}); err != nil {
		t.Fatal(err)
	}

	t.Run("guild scoped", func(t *testing.T) {
		t.Parallel()
		got, err := s.List(ctx, Filter{GuildID: "g1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Errorf("len = %d, want 3", len(got))
		}
		for _, r := range got {
			if r.GuildID != "g1" {
				t.Errorf("request %s leaked from guild %s", r.ID, r.GuildID)
			}
		}
	})

	t.Run("status filter", func(t *testing.T) {
		t.Parallel()
		got, err := s.List(ctx, Filter{GuildID: "g1", Status: StatusFailedGeneration})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "r2" {
			t.Errorf("got %v, want [r2]", got)
		}
	})

	t.Run("limit", func(t *testing.T) {
		t.Parallel()
		got, err := s.List(ctx, Filter{GuildID: "g1", Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Errorf("len = %d, want 2", len(got))
		}
	})

	t.Run("guild required", func(t *testing.T) {
		t.Parallel()
		if _, err := s.List(ctx, Filter{}); err == nil {
			t.Error("List without guild succeeded")
		}
	})
}
