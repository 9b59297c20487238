package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/wardstone-rpg/wardstone/internal/observe"
	"github.com/wardstone-rpg/wardstone/pkg/provider/llm"
)

// Generator is the external content generator collaborator: one async call,
// no built-in retries. Retrying is the caller's decision.
type Generator interface {
	// Generate produces raw text for the prompt. It must respect ctx; the
	// orchestrator bounds every call with a timeout.
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Compile-time interface check.
var _ Generator = (*LLMGenerator)(nil)

// LLMGenerator adapts an [llm.Provider] to the [Generator] contract, with a
// per-call timeout and an optional cap on concurrent in-flight calls.
type LLMGenerator struct {
	provider    llm.Provider
	timeout     time.Duration
	sem         *semaphore.Weighted
	metrics     *observe.Metrics
	temperature float64
	maxTokens   int
}

// LLMGeneratorConfig configures an [LLMGenerator].
type LLMGeneratorConfig struct {
	// Provider is the completion backend. Required.
	Provider llm.Provider

	// Timeout bounds each generator call. Zero means no bound beyond the
	// caller's ctx.
	Timeout time.Duration

	// MaxConcurrent caps in-flight calls. Zero means unlimited.
	MaxConcurrent int

	// Temperature and MaxTokens are forwarded to the provider. Zero values
	// use provider defaults.
	Temperature float64
	MaxTokens   int

	// Metrics, when non-nil, records provider request/error counts.
	Metrics *observe.Metrics
}

// NewLLMGenerator creates an [LLMGenerator].
func NewLLMGenerator(cfg LLMGeneratorConfig) (*LLMGenerator, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("pipeline: generator provider is required")
	}
	g := &LLMGenerator{
		provider:    cfg.Provider,
		timeout:     cfg.Timeout,
		metrics:     cfg.Metrics,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if cfg.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return g, nil
}

// Generate implements [Generator].
func (g *LLMGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("pipeline: generate: %w", err)
		}
		defer g.sem.Release(1)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.System,
		Messages:     []llm.Message{{Role: "user", Content: p.User}},
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
	})
	g.record(ctx, err)
	if err != nil {
		return "", fmt.Errorf("pipeline: generate: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("pipeline: generate: provider %s returned empty output", g.provider.Name())
	}
	return resp.Content, nil
}

func (g *LLMGenerator) record(ctx context.Context, err error) {
	if g.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		g.metrics.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", g.provider.Name()),
		))
	}
	g.metrics.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", g.provider.Name()),
		attribute.String("status", status),
	))
}
