// Package resilience protects the generation pipeline from a flaky LLM
// backend. [Breaker] is a three-state circuit breaker; [LLMChain] strings
// several backends together behind one llm.Provider so a tripped primary is
// bypassed in favour of a healthy fallback.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker refuses calls.
var ErrOpen = errors.New("resilience: breaker open")

// State is a breaker's operating mode.
type State int

const (
	// Closed forwards every call.
	Closed State = iota

	// Open rejects every call with [ErrOpen] until the cooldown elapses.
	Open

	// Probing lets a bounded number of calls through to test whether the
	// backend recovered.
	Probing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Probing:
		return "probing"
	}
	return "unknown"
}

// BreakerConfig tunes a [Breaker]. Zero fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in logs.
	Name string

	// MaxFailures is how many consecutive failures trip the breaker.
	// Default 5.
	MaxFailures int

	// Cooldown is how long a tripped breaker rejects calls before probing.
	// Default 30s.
	Cooldown time.Duration

	// ProbeBudget is how many probe calls must succeed before the breaker
	// closes again. Default 3.
	ProbeBudget int
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	probeBudget int
	logger      *slog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	trippedAt time.Time
	probes    int
	probeFail bool
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		probeBudget: cfg.ProbeBudget,
		logger:      logger,
	}
}

// Do runs fn unless the breaker is rejecting calls. A failure in the probing
// state trips the breaker again immediately.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case Open:
		if time.Since(b.trippedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = Probing
		b.probes = 0
		b.probeFail = false
		b.logger.Info("breaker probing backend", "name", b.name)
	case Probing:
		if b.probes >= b.probeBudget {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == Probing
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.trippedAt = time.Now()
	if probing {
		b.probeFail = true
		b.state = Open
		b.failures = b.maxFailures
		b.logger.Warn("breaker re-tripped during probe", "name", b.name)
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = Open
		b.logger.Warn("breaker tripped", "name", b.name, "failures", b.failures)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if !b.probeFail && b.probes >= b.probeBudget {
			b.state = Closed
			b.failures = 0
			b.logger.Info("breaker closed after successful probes", "name", b.name)
		}
		return
	}
	b.failures = 0
}

// State reports the breaker's mode. An open breaker past its cooldown
// reports [Probing]; the transition itself happens on the next [Breaker.Do].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && time.Since(b.trippedAt) >= b.cooldown {
		return Probing
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.probes = 0
	b.probeFail = false
}
