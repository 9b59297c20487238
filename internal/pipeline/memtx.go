package pipeline

import (
	"context"
	"sync"

	"github.com/wardstone-rpg/wardstone/internal/world"
)

// MemTxRunner is an in-memory [TxRunner] for tests and local development.
// Writes are staged and only become visible when fn returns nil, mirroring
// the all-or-nothing behavior of the Postgres runner.
type MemTxRunner struct {
	mu sync.Mutex

	Locations  map[string]world.Location // by entity ID
	NPCs       map[string]world.NPC
	Quests     map[string]QuestRecord
	QuestSteps map[string][]QuestStepRecord // by quest ID

	// FailOn makes the named write return the error, for rollback tests.
	// Recognised values: "location", "npc", "quest", "quest_steps".
	FailOn  string
	FailErr error
}

var _ TxRunner = (*MemTxRunner)(nil)

// NewMemTxRunner creates an empty [MemTxRunner].
func NewMemTxRunner() *MemTxRunner {
	return &MemTxRunner{
		Locations:  make(map[string]world.Location),
		NPCs:       make(map[string]world.NPC),
		Quests:     make(map[string]QuestRecord),
		QuestSteps: make(map[string][]QuestStepRecord),
	}
}

// RunInTx implements [TxRunner]. Nothing staged is committed if fn fails.
func (r *MemTxRunner) RunInTx(_ context.Context, _ string, fn func(EntityWriter) error) error {
	w := &memWriter{runner: r}
	if err := fn(w); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, loc := range w.locations {
		r.Locations[loc.ID] = loc
	}
	for _, n := range w.npcs {
		r.NPCs[n.ID] = n
	}
	for _, q := range w.quests {
		r.Quests[q.ID] = q
	}
	for questID, steps := range w.questSteps {
		r.QuestSteps[questID] = steps
	}
	return nil
}

// Len returns the total number of committed records.
func (r *MemTxRunner) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.Locations) + len(r.NPCs) + len(r.Quests)
	for _, steps := range r.QuestSteps {
		n += len(steps)
	}
	return n
}

type memWriter struct {
	runner     *MemTxRunner
	locations  []world.Location
	npcs       []world.NPC
	quests     []QuestRecord
	questSteps map[string][]QuestStepRecord
}

var _ EntityWriter = (*memWriter)(nil)

func (w *memWriter) CreateLocation(_ context.Context, loc world.Location) error {
	if w.runner.FailOn == "location" {
		return w.runner.FailErr
	}
	w.locations = append(w.locations, loc)
	return nil
}

func (w *memWriter) CreateNPC(_ context.Context, n world.NPC) error {
	if w.runner.FailOn == "npc" {
		return w.runner.FailErr
	}
	w.npcs = append(w.npcs, n)
	return nil
}

func (w *memWriter) CreateQuest(_ context.Context, q QuestRecord) error {
	if w.runner.FailOn == "quest" {
		return w.runner.FailErr
	}
	w.quests = append(w.quests, q)
	return nil
}

func (w *memWriter) CreateQuestSteps(_ context.Context, steps []QuestStepRecord) error {
	if w.runner.FailOn == "quest_steps" {
		return w.runner.FailErr
	}
	if w.questSteps == nil {
		w.questSteps = make(map[string][]QuestStepRecord)
	}
	if len(steps) > 0 {
		w.questSteps[steps[0].QuestID] = append(w.questSteps[steps[0].QuestID], steps...)
	}
	return nil
}
