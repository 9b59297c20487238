package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wardstone-rpg/wardstone/pkg/provider/llm"
)

// ErrAllBackendsFailed is returned when every backend in an [LLMChain] failed
// or was rejected by its breaker.
var ErrAllBackendsFailed = errors.New("resilience: all llm backends failed")

// Compile-time interface check.
var _ llm.Provider = (*LLMChain)(nil)

// LLMChain is an [llm.Provider] that fails over across multiple backends.
// Each backend gets its own [Breaker]; a call goes to the first backend whose
// breaker lets it through and that answers without error.
type LLMChain struct {
	breaker BreakerConfig
	logger  *slog.Logger
	entries []chainEntry
}

type chainEntry struct {
	name     string
	provider llm.Provider
	breaker  *Breaker
}

// NewLLMChain creates a chain with primary as the preferred backend.
func NewLLMChain(primary llm.Provider, breaker BreakerConfig, logger *slog.Logger) *LLMChain {
	if logger == nil {
		logger = slog.Default()
	}
	c := &LLMChain{breaker: breaker, logger: logger}
	c.add(primary)
	return c
}

// AddFallback appends a backend tried after every earlier one failed.
func (c *LLMChain) AddFallback(p llm.Provider) {
	c.add(p)
}

func (c *LLMChain) add(p llm.Provider) {
	cfg := c.breaker
	cfg.Name = fmt.Sprintf("llm-%s-%d", p.Name(), len(c.entries))
	c.entries = append(c.entries, chainEntry{
		name:     p.Name(),
		provider: p,
		breaker:  NewBreaker(cfg, c.logger),
	})
}

// Name implements [llm.Provider].
func (c *LLMChain) Name() string { return "failover" }

// Complete implements [llm.Provider]. Backends are tried in order; breakers
// that are open are skipped without a call.
func (c *LLMChain) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for i := range c.entries {
		e := &c.entries[i]
		var resp *llm.CompletionResponse
		err := e.breaker.Do(func() error {
			var callErr error
			resp, callErr = e.provider.Complete(ctx, req)
			return callErr
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			c.logger.Debug("skipping llm backend, breaker open", "backend", e.name)
		} else {
			c.logger.Warn("llm backend failed, trying next", "backend", e.name, "error", err)
		}
		// A cancelled context dooms every remaining backend too.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrAllBackendsFailed, lastErr)
}
