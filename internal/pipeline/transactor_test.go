package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/similarity"
	"github.com/wardstone-rpg/wardstone/internal/world"
	"github.com/wardstone-rpg/wardstone/pkg/provider/embeddings/mock"
)

// fakeInstaller records installs for assertions.
type fakeInstaller struct {
	locations []world.Location
	npcs      []world.NPC
}

func (f *fakeInstaller) InstallLocation(loc world.Location) { f.locations = append(f.locations, loc) }
func (f *fakeInstaller) InstallNPC(n world.NPC)             { f.npcs = append(f.npcs, n) }

// fakeHolder records hold releases.
type fakeHolder struct {
	held     map[string]string // partyID -> requestID
	released []string
}

func (f *fakeHolder) HoldForModeration(_, partyID, requestID string) error {
	if f.held == nil {
		f.held = make(map[string]string)
	}
	f.held[partyID] = requestID
	return nil
}

func (f *fakeHolder) ReleaseHold(_, requestID string) {
	f.released = append(f.released, requestID)
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// approvedRequest seeds a store with a request in APPROVED carrying payload.
func approvedRequest(t *testing.T, store genreq.Store, id string, payload Payload) *genreq.Request {
	t.Helper()
	ctx := context.Background()

	data, err := EncodePayload(payload)
	if err != nil {
		t.Fatal(err)
	}
	req := &genreq.Request{ID: id, GuildID: "g1", Type: payload.Type()}
	if err := store.Create(ctx, req); err != nil {
		t.Fatal(err)
	}
	if err := store.Transition(ctx, id, genreq.StatusPendingValidation, genreq.StatusPendingModeration,
		genreq.Update{ParsedData: data}); err != nil {
		t.Fatal(err)
	}
	mod := "mod-1"
	if err := store.Transition(ctx, id, genreq.StatusPendingModeration, genreq.StatusApproved,
		genreq.Update{ModeratorID: &mod}); err != nil {
		t.Fatal(err)
	}
	req, err = store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestTransactor_ApplyLocationContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	tx := NewMemTxRunner()
	installer := &fakeInstaller{}
	holder := &fakeHolder{}
	index := similarity.NewMemIndex(&mock.Provider{})

	tr := NewTransactor(TransactorConfig{
		Requests:  store,
		Tx:        tx,
		Installer: installer,
		Index:     index,
		Holder:    holder,
		NewID:     sequentialIDs("e"),
	})

	approvedRequest(t, store, "r1", LocationContent{
		Name:        "The Sunken Quarter",
		Description: "Flooded streets and stilt walkways.",
		Residents:   []NPCSeed{{Name: "Mirl", Persona: "A ferryman."}},
	})

	if err := tr.Apply(ctx, "r1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	req, _ := store.Get(ctx, "r1")
	if req.Status != genreq.StatusApplied {
		t.Errorf("status = %s, want %s", req.Status, genreq.StatusApplied)
	}
	if len(tx.Locations) != 1 || len(tx.NPCs) != 1 {
		t.Errorf("committed locations=%d npcs=%d, want 1 and 1", len(tx.Locations), len(tx.NPCs))
	}
	if len(installer.locations) != 1 || len(installer.npcs) != 1 {
		t.Errorf("installed locations=%d npcs=%d, want 1 and 1", len(installer.locations), len(installer.npcs))
	}
	// Resident is placed in the new location.
	if installer.npcs[0].LocationID != installer.locations[0].ID {
		t.Errorf("resident location = %q, want %q", installer.npcs[0].LocationID, installer.locations[0].ID)
	}
	if len(holder.released) != 1 || holder.released[0] != "r1" {
		t.Errorf("released holds = %v, want [r1]", holder.released)
	}

	matches, err := index.Search(ctx, "g1", "The Sunken Quarter", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 || matches[0].RequestID != "r1" {
		t.Errorf("index matches = %v, want r1", matches)
	}
}

func TestTransactor_ApplyQuest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	tx := NewMemTxRunner()

	tr := NewTransactor(TransactorConfig{
		Requests:  store,
		Tx:        tx,
		Installer: &fakeInstaller{},
		NewID:     sequentialIDs("q"),
	})

	approvedRequest(t, store, "r1", Quest{
		Title:    "The Debt",
		Synopsis: "Collect what is owed.",
		Steps: []QuestStep{
			{Title: "Ask around", Goal: "Find the debtor"},
			{Title: "Collect", Goal: "Settle the debt"},
		},
	})

	if err := tr.Apply(ctx, "r1"); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if len(tx.Quests) != 1 {
		t.Fatalf("quests = %d, want 1", len(tx.Quests))
	}
	var quest QuestRecord
	for _, q := range tx.Quests {
		quest = q
	}
	if quest.SourceRequestID != "r1" {
		t.Errorf("source request = %q, want r1", quest.SourceRequestID)
	}
	steps := tx.QuestSteps[quest.ID]
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(steps))
	}
	if steps[0].Ordinal != 1 || steps[1].Ordinal != 2 {
		t.Errorf("ordinals = %d, %d; want 1, 2", steps[0].Ordinal, steps[1].Ordinal)
	}
}

func TestTransactor_FailedWriteRollsBackEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	tx := NewMemTxRunner()
	tx.FailOn = "npc"
	tx.FailErr = errors.New("constraint violation")
	installer := &fakeInstaller{}

	tr := NewTransactor(TransactorConfig{
		Requests:  store,
		Tx:        tx,
		Installer: installer,
		NewID:     sequentialIDs("e"),
	})

	approvedRequest(t, store, "r1", LocationContent{
		Name:        "The Sunken Quarter",
		Description: "Flooded streets.",
		Residents:   []NPCSeed{{Name: "Mirl", Persona: "A ferryman."}},
	})

	if err := tr.Apply(ctx, "r1"); err == nil {
		t.Fatal("Apply succeeded despite write failure")
	}

	// Nothing committed, nothing installed: the location write succeeded
	// inside the transaction but the NPC failure rolled it back.
	if tx.Len() != 0 {
		t.Errorf("committed records = %d, want 0", tx.Len())
	}
	if len(installer.locations) != 0 || len(installer.npcs) != 0 {
		t.Error("entities installed despite rollback")
	}

	req, _ := store.Get(ctx, "r1")
	if req.Status != genreq.StatusApplicationFailed {
		t.Errorf("status = %s, want %s", req.Status, genreq.StatusApplicationFailed)
	}
	found := false
	for _, i := range req.Issues {
		if i.Kind == genreq.KindApplication {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %v, want an application issue recording the cause", req.Issues)
	}
}

func TestTransactor_ApplyFailsFastOnWrongStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()

	tr := NewTransactor(TransactorConfig{
		Requests:  store,
		Tx:        NewMemTxRunner(),
		Installer: &fakeInstaller{},
	})

	req := &genreq.Request{ID: "r1", GuildID: "g1", Type: genreq.TypeNPCProfile}
	if err := store.Create(ctx, req); err != nil {
		t.Fatal(err)
	}

	// Still PENDING_VALIDATION.
	if err := tr.Apply(ctx, "r1"); !errors.Is(err, genreq.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransactor_ApplyTwiceFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := genreq.NewMemStore()
	tx := NewMemTxRunner()

	tr := NewTransactor(TransactorConfig{
		Requests:  store,
		Tx:        tx,
		Installer: &fakeInstaller{},
		NewID:     sequentialIDs("e"),
	})

	approvedRequest(t, store, "r1", NPCProfile{Name: "Vex", Persona: "An informant."})

	if err := tr.Apply(ctx, "r1"); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if err := tr.Apply(ctx, "r1"); !errors.Is(err, genreq.ErrInvalidTransition) {
		t.Errorf("second Apply err = %v, want ErrInvalidTransition", err)
	}
	if len(tx.NPCs) != 1 {
		t.Errorf("npcs = %d, want exactly 1 despite double apply", len(tx.NPCs))
	}
}
