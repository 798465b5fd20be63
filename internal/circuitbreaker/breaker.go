// Package circuitbreaker wraps sony/gobreaker's state machine with the
// gateway's own error taxonomy and per-kind exception exclusion.
package circuitbreaker

import (
	stderrors "errors"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/nexusgw/gateway/internal/config"
	gwerrors "github.com/nexusgw/gateway/internal/errors"
)

// State mirrors gobreaker.State under the gateway's own naming so callers
// never need to import gobreaker directly.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func fromGobreakerState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// BreakerSnapshot is a point-in-time view of a circuit breaker, exposed on
// the admin surface.
type BreakerSnapshot struct {
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	TotalRejected        int64  `json:"total_rejected"`
}

// Breaker is a single named circuit breaker. It wraps gobreaker's generic
// CircuitBreaker[any] as its state-machine engine (ReadyToTrip, Timeout,
// and half-open admission come directly from gobreaker) and layers on the
// exclude_exception_kinds allowance and a typed CircuitOpen error distinct
// from gobreaker's own open-state sentinel.
type Breaker struct {
	name    string
	cb      *gobreaker.CircuitBreaker[any]
	exclude map[string]bool

	totalRejected atomic.Int64
}

// NewBreaker builds a Breaker for a given route/name from its configuration.
func NewBreaker(name string, cfg config.CircuitBreakerConfig) *Breaker {
	failureThreshold := cfg.FailureThreshold
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	successThreshold := cfg.SuccessThreshold
	if successThreshold <= 0 {
		successThreshold = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	exclude := make(map[string]bool, len(cfg.ExcludeExceptionKinds))
	for _, k := range cfg.ExcludeExceptionKinds {
		exclude[k] = true
	}

	b := &Breaker{name: name, exclude: exclude}

	settings := gobreaker.Settings{
		Name: name,
		// successThreshold maps onto gobreaker's half-open trial count:
		// the breaker only returns to Closed once this many consecutive
		// half-open calls all succeed; any failure among them reopens it.
		MaxRequests: uint32(successThreshold),
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var gerr *gwerrors.GatewayError
			if stderrors.As(err, &gerr) && b.exclude[string(gerr.Kind)] {
				return true
			}
			return false
		},
	}
	b.cb = gobreaker.NewCircuitBreaker[any](settings)
	return b
}

// Execute runs fn through the circuit breaker, translating gobreaker's
// open/half-open rejection into the gateway's ErrCircuitOpen so callers
// never have to special-case gobreaker's sentinel errors.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil && (stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests)) {
		b.totalRejected.Add(1)
		return nil, gwerrors.ErrCircuitOpen
	}
	return result, err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return fromGobreakerState(b.cb.State())
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() BreakerSnapshot {
	counts := b.cb.Counts()
	return BreakerSnapshot{
		State:                b.State().String(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		TotalRejected:        b.totalRejected.Load(),
	}
}
