package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wardstone-rpg/wardstone/internal/genreq"
	"github.com/wardstone-rpg/wardstone/internal/observe"
)

// KnownIDsFunc snapshots the guild's current entity IDs for reference
// validation. Called once per validation pass.
type KnownIDsFunc func(guildID string) KnownIDs

// Orchestrator drives a generation request from creation through validation
// to the moderation queue. Every attempt is recorded durably before the
// generator is called, so no request is ever lost to a crash.
type Orchestrator struct {
	requests  genreq.Store
	prompts   PromptBuilder
	generator Generator
	validator *Validator
	gate      *Gate
	holder    Holder
	known     KnownIDsFunc
	metrics   *observe.Metrics
	logger    *slog.Logger
	newID     func() string
}

// OrchestratorConfig wires an [Orchestrator]. Requests, Prompts, Generator,
// Validator, Gate and Known are required.
type OrchestratorConfig struct {
	Requests  genreq.Store
	Prompts   PromptBuilder
	Generator Generator
	Validator *Validator
	Gate      *Gate
	Holder    Holder
	Known     KnownIDsFunc
	Metrics   *observe.Metrics
	Logger    *slog.Logger

	// NewID overrides request ID generation, for tests.
	NewID func() string
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Orchestrator{
		requests:  cfg.Requests,
		prompts:   cfg.Prompts,
		generator: cfg.Generator,
		validator: cfg.Validator,
		gate:      cfg.Gate,
		holder:    cfg.Holder,
		known:     cfg.Known,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		newID:     cfg.NewID,
	}
}

// Start records a new generation request and runs it to its next resting
// state. The returned ID identifies the request for moderation and audit
// regardless of the outcome.
//
// params must at minimum carry "concept". A "party_id" entry ties the
// request to a party, which is put on hold while moderation is pending.
func (o *Orchestrator) Start(ctx context.Context, guildID string, typ genreq.Type, params map[string]any, createdBy string) (string, error) {
	if guildID == "" {
		return "", errors.New("pipeline: start: guild ID is required")
	}
	if !typ.IsValid() {
		return "", fmt.Errorf("pipeline: start: invalid request type %q", typ)
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("pipeline: start: encode params: %w", err)
	}

	req := &genreq.Request{
		ID:        o.newID(),
		GuildID:   guildID,
		Type:      typ,
		CreatedBy: createdBy,
		Params:    encoded,
	}
	if err := o.requests.Create(ctx, req); err != nil {
		return "", fmt.Errorf("pipeline: start: %w", err)
	}

	if err := o.Process(ctx, req); err != nil {
		return req.ID, err
	}
	return req.ID, nil
}

// Process runs one PENDING_VALIDATION request through generation and
// validation and routes it to its next state. It returns an error only for
// infrastructure faults; a failed generation or validation is a recorded
// outcome, not an error.
func (o *Orchestrator) Process(ctx context.Context, req *genreq.Request) error {
	start := time.Now()
	outcome, err := o.process(ctx, req)
	if o.metrics != nil && outcome != "" {
		o.metrics.RecordGeneration(ctx, string(req.Type), string(outcome), time.Since(start))
	}
	return err
}

func (o *Orchestrator) process(ctx context.Context, req *genreq.Request) (genreq.Status, error) {
	var params map[string]any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return genreq.StatusFailedGeneration, o.failGeneration(ctx, req,
				fmt.Errorf("decode params: %w", err))
		}
	}

	prompt, err := o.prompts.Build(req.GuildID, req.Type, params)
	if err != nil {
		return genreq.StatusFailedGeneration, o.failGeneration(ctx, req, err)
	}

	raw, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return genreq.StatusFailedGeneration, o.failGeneration(ctx, req, err)
	}
	if err := o.requests.SetRawOutput(ctx, req.ID, raw); err != nil {
		return "", fmt.Errorf("pipeline: store raw output: %w", err)
	}

	result := o.validator.Validate(raw, req.Type, o.known(req.GuildID))
	o.recordIssues(ctx, req.Type, result.Issues)

	if result.Payload == nil {
		// Unparsable output is a generator fault; structural problems in
		// parsed output are validation failures.
		to := genreq.StatusFailedValidation
		if onlyParseIssues(result.Issues) {
			to = genreq.StatusFailedGeneration
		}
		err := o.requests.Transition(ctx, req.ID,
			genreq.StatusPendingValidation, to,
			genreq.Update{Issues: result.Issues})
		if err != nil {
			return "", fmt.Errorf("pipeline: record %s: %w", to, err)
		}
		o.logger.Info("generation did not pass validation",
			"request_id", req.ID, "guild_id", req.GuildID,
			"status", to, "issues", len(result.Issues))
		return to, nil
	}

	parsed, err := EncodePayload(result.Payload)
	if err != nil {
		return "", fmt.Errorf("pipeline: encode payload: %w", err)
	}
	err = o.gate.Enqueue(ctx, req, genreq.Update{
		ParsedData: parsed,
		Issues:     result.Issues,
	})
	if err != nil {
		return "", err
	}

	if partyID, ok := params["party_id"].(string); ok && partyID != "" && o.holder != nil {
		if err := o.holder.HoldForModeration(req.GuildID, partyID, req.ID); err != nil {
			o.logger.Warn("placing moderation hold failed",
				"request_id", req.ID, "party_id", partyID, "error", err)
		}
	}

	o.logger.Info("generation queued for moderation",
		"request_id", req.ID, "guild_id", req.GuildID,
		"type", req.Type, "issues", len(result.Issues),
		"requires_moderation", result.RequiresModeration)
	return genreq.StatusPendingModeration, nil
}

// Resume re-drives every request left in PENDING_VALIDATION, typically
// after a restart interrupted in-flight generations. Failures on individual
// requests are collected, not fatal to the rest.
func (o *Orchestrator) Resume(ctx context.Context, guildID string) error {
	pending, err := o.requests.List(ctx, genreq.Filter{
		GuildID: guildID,
		Status:  genreq.StatusPendingValidation,
	})
	if err != nil {
		return fmt.Errorf("pipeline: resume: %w", err)
	}

	var errs []error
	for _, req := range pending {
		if err := o.Process(ctx, req); err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", req.ID, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline: resume guild %q: %w", guildID, errors.Join(errs...))
	}
	return nil
}

// failGeneration records a generator fault as a terminal FAILED_GENERATION.
func (o *Orchestrator) failGeneration(ctx context.Context, req *genreq.Request, cause error) error {
	err := o.requests.Transition(ctx, req.ID,
		genreq.StatusPendingValidation, genreq.StatusFailedGeneration,
		genreq.Update{Issues: []genreq.Issue{{
			Location: "generator",
			Kind:     genreq.KindGeneration,
			Message:  cause.Error(),
		}}})
	if err != nil {
		return fmt.Errorf("pipeline: record generation failure: %w", err)
	}
	o.logger.Warn("generation failed",
		"request_id", req.ID, "guild_id", req.GuildID, "error", cause)
	return nil
}

func (o *Orchestrator) recordIssues(ctx context.Context, typ genreq.Type, issues []genreq.Issue) {
	if o.metrics == nil {
		return
	}
	byKind := make(map[genreq.IssueKind]int)
	for _, i := range issues {
		byKind[i.Kind]++
	}
	for kind, n := range byKind {
		o.metrics.RecordValidationIssues(ctx, string(typ), string(kind), n)
	}
}

func onlyParseIssues(issues []genreq.Issue) bool {
	for _, i := range issues {
		if i.Blocking() && i.Kind != genreq.KindParse {
			return false
		}
	}
	return true
}
