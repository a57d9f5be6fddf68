package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the state of a Breaker.
type BreakerState int

// Breaker states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrBreakerOpen is returned without calling through while the breaker is open.
var ErrBreakerOpen = eris.New("circuit breaker is open")

// BreakerConfig controls when a Breaker trips and recovers.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
}

// Breaker stops calling a failing collaborator after FailureThreshold
// consecutive failures and lets a single probe through after ResetTimeout.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	now         func() time.Time
}

// NewBreaker creates a closed Breaker. Zero values default to 5 failures and 30s.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Call runs fn through the breaker.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		b.setState(StateHalfOpen)
		return nil
	}
	return ErrBreakerOpen
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Caller cancellation says nothing about the collaborator's health.
	if err == nil || errors.Is(err, context.Canceled) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(to BreakerState) {
	if b.state == to {
		return
	}
	zap.L().Warn("circuit breaker state change",
		zap.String("breaker", b.cfg.Name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
	)
	b.state = to
}
