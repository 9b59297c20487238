package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
)

// stubGenerator returns a canned response, or an error, per call.
type stubGenerator struct {
	output  string
	err     error
	prompts []Prompt
}

func (s *stubGenerator) Generate(_ context.Context, p Prompt) (string, error) {
	s.prompts = append(s.prompts, p)
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

func newTestOrchestrator(store genreq.Store, gen Generator, holder Holder) *Orchestrator {
	gate := NewGate(GateConfig{Requests: store, Applier: &fakeApplier{}})
	return NewOrchestrator(OrchestratorConfig{
		Requests:  store,
		Prompts:   TemplateBuilder{},
		Generator: gen,
		Validator: NewValidator(),
		Gate:      gate,
		Holder:    holder,
		Known: func(string) KnownIDs {
			return KnownIDs{Locations: []string{"loc-harbor"}, NPCs: []string{"npc-mirl"}}
		},
		NewID: sequentialIDs("req"),
	})
}

func TestOrchestrator_GeneratorFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	gen := &stubGenerator{err: errors.New("model timed out")}
	o := newTestOrchestrator(store, gen, nil)

	id, err := o.Start(ctx, "G1", genreq.TypeNPCProfile,
		map[string]any{"concept": "a dockside ferryman"}, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("Start returned empty request ID")
	}

	req, getErr := store.Get(ctx, id)
	if getErr != nil {
		t.Fatal(getErr)
	}
	if req.Status != genreq.StatusFailedGeneration {
		t.Errorf("status = %s, want %s", req.Status, genreq.StatusFailedGeneration)
	}
	if req.ParsedData != nil {
		t.Error("parsed data must stay nil on generator failure")
	}
	if len(req.Issues) != 1 || req.Issues[0].Kind != genreq.KindGeneration {
		t.Errorf("issues = %v, want one generation issue", req.Issues)
	}
}

func TestOrchestrator_UnparsableOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	gen := &stubGenerator{output: "I cannot help with that request."}
	o := newTestOrchestrator(store, gen, nil)

	id, err := o.Start(ctx, "G1", genreq.TypeNPCProfile,
		map[string]any{"concept": "a dockside ferryman"}, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	req, _ := store.Get(ctx, id)
	if req.Status != genreq.StatusFailedGeneration {
		t.Errorf("status = %s, want %s", req.Status, genreq.StatusFailedGeneration)
	}
	if req.RawOutput == "" {
		t.Error("raw output not stored before validation")
	}
	if req.ParsedData != nil {
		t.Error("parsed data must stay nil for unparsable output")
	}
}

func TestOrchestrator_ValidationFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	// Parses, but the profile is missing its persona.
	gen := &stubGenerator{output: `{"name": "Mirl"}`}
	o := newTestOrchestrator(store, gen, nil)

	id, err := o.Start(ctx, "G1", genreq.TypeNPCProfile,
		map[string]any{"concept": "a dockside ferryman"}, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	req, _ := store.Get(ctx, id)
	if req.Status != genreq.StatusFailedValidation {
		t.Errorf("status = %s, want %s", req.Status, genreq.StatusFailedValidation)
	}
	found := false
	for _, i := range req.Issues {
		if i.Kind == genreq.KindMissingField {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %v, want a missing_field issue", req.Issues)
	}
}

func TestOrchestrator_HappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	gen := &stubGenerator{output: `{"name": "Mirl", "persona": "A weathered ferryman.", "location_id": "loc-harbor"}`}
	holder := &fakeHolder{}
	o := newTestOrchestrator(store, gen, holder)

	id, err := o.Start(ctx, "G1", genreq.TypeNPCProfile, map[string]any{
		"concept":  "a dockside ferryman",
		"party_id": "party-1",
	}, "user-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	req, _ := store.Get(ctx, id)
	if req.Status != genreq.StatusPendingModeration {
		t.Errorf("status = %s, want %s", req.Status, genreq.StatusPendingModeration)
	}
	if req.RawOutput != gen.output {
		t.Errorf("raw output = %q, want the generator's response verbatim", req.RawOutput)
	}
	if len(req.ParsedData) == 0 {
		t.Error("parsed data not persisted")
	}
	if holder.held["party-1"] != id {
		t.Errorf("party hold = %v, want party-1 held for %s", holder.held, id)
	}
	if len(gen.prompts) != 1 || gen.prompts[0].System == "" || gen.prompts[0].User == "" {
		t.Errorf("prompt = %+v, want populated system and user sections", gen.prompts)
	}
}

func TestOrchestrator_StartRejectsBadInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	o := newTestOrchestrator(genreq.NewMemStore(), &stubGenerator{}, nil)

	if _, err := o.Start(ctx, "", genreq.TypeNPCProfile, nil, "u"); err == nil {
		t.Error("expected error for empty guild ID")
	}
	if _, err := o.Start(ctx, "G1", genreq.Type("SONNET"), nil, "u"); err == nil {
		t.Error("expected error for invalid request type")
	}
}

func TestOrchestrator_Resume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	gen := &stubGenerator{output: `{"name": "Mirl", "persona": "A weathered ferryman."}`}
	o := newTestOrchestrator(store, gen, nil)

	// Two requests stranded mid-generation by a restart, one already done.
	for _, id := range []string{"stuck-1", "stuck-2"} {
		req := &genreq.Request{
			ID:      id,
			GuildID: "G1",
			Type:    genreq.TypeNPCProfile,
			Params:  []byte(`{"concept": "a dockside ferryman"}`),
		}
		if err := store.Create(ctx, req); err != nil {
			t.Fatal(err)
		}
	}
	done := &genreq.Request{ID: "done-1", GuildID: "G1", Type: genreq.TypeNPCProfile}
	if err := store.Create(ctx, done); err != nil {
		t.Fatal(err)
	}
	if err := store.Transition(ctx, "done-1",
		genreq.StatusPendingValidation, genreq.StatusFailedGeneration, genreq.Update{}); err != nil {
		t.Fatal(err)
	}

	if err := o.Resume(ctx, "G1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	for _, id := range []string{"stuck-1", "stuck-2"} {
		req, _ := store.Get(ctx, id)
		if req.Status != genreq.StatusPendingModeration {
			t.Errorf("%s status = %s, want %s", id, req.Status, genreq.StatusPendingModeration)
		}
	}
	if len(gen.prompts) != 2 {
		t.Errorf("generator called %d times, want 2", len(gen.prompts))
	}
}
