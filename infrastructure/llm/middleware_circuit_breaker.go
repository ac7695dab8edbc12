package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the provider while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState is the state of a CircuitBreaker. The numeric values
// are exported as a gauge.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerMetrics observes a breaker.
type CircuitBreakerMetrics interface {
	RecordState(state CircuitBreakerState)
	// RecordTrip counts requests rejected by an open breaker.
	RecordTrip()
	RecordSuccess()
	RecordFailure()
}

// CircuitBreaker opens after maxFailures consecutive failures. Once the
// cooldown has passed it lets calls through again in the half-open state;
// the first outcome decides whether it closes or reopens. Calls are not
// serialized.
type CircuitBreaker struct {
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: maxFailures, cooldown: cooldown}
}

// Call runs fn unless the breaker is open and returns fn's error.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.admit(time.Now()) {
		return ErrCircuitOpen
	}
	err := fn()
	cb.observe(err, time.Now())
	return err
}

func (cb *CircuitBreaker) admit(now time.Time) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return true
	}
	if now.Sub(cb.openedAt) < cb.cooldown {
		return false
	}
	cb.state = StateHalfOpen
	return true
}

func (cb *CircuitBreaker) observe(err error, now time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.state, cb.failures = StateClosed, 0
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.state, cb.openedAt = StateOpen, now
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type breakerLLM struct {
	CoreLLM
	breaker *CircuitBreaker
	metrics CircuitBreakerMetrics
}

// CircuitBreakerMiddleware fails requests fast while the provider keeps
// failing.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	return CircuitBreakerMiddlewareWithMetrics(maxFailures, cooldown, nil)
}

// CircuitBreakerMiddlewareWithMetrics is CircuitBreakerMiddleware reporting
// to metrics, which may be nil. All clients built from the returned
// middleware share one breaker.
func CircuitBreakerMiddlewareWithMetrics(maxFailures int, cooldown time.Duration, metrics CircuitBreakerMetrics) Middleware {
	breaker := NewCircuitBreaker(maxFailures, cooldown)
	return func(next CoreLLM) CoreLLM {
		return &breakerLLM{CoreLLM: next, breaker: breaker, metrics: metrics}
	}
}

func (b *breakerLLM) DoRequest(ctx context.Context, req Request) (Response, error) {
	var resp Response
	err := b.breaker.Call(func() (err error) {
		resp, err = b.CoreLLM.DoRequest(ctx, req)
		return err
	})
	if b.metrics == nil {
		return resp, err
	}

	switch {
	case err == nil:
		b.metrics.RecordSuccess()
	case errors.Is(err, ErrCircuitOpen):
		b.metrics.RecordTrip()
	default:
		b.metrics.RecordFailure()
	}
	b.metrics.RecordState(b.breaker.GetState())
	return resp, err
}
