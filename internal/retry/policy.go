package retry

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"

	"github.com/nexusgw/gateway/internal/config"
)

// DefaultRetryableStatuses are HTTP status codes that trigger a retry
var DefaultRetryableStatuses = []int{502, 503, 504}

// DefaultRetryableMethods are HTTP methods safe to retry
var DefaultRetryableMethods = []string{"GET", "HEAD", "OPTIONS"}

// Policy implements retry logic with a pluggable backoff strategy, an
// optional request budget, and optional hedging.
type Policy struct {
	MaxRetries        int
	PerTryTimeout     time.Duration
	RetryableStatuses map[int]bool
	RetryableMethods  map[string]bool
	Metrics           *RouteRetryMetrics

	// Budget, if non-nil, caps the fraction of requests that may be retried.
	Budget *Budget

	// Hedging, if non-nil, sends speculative duplicate requests. Hedging and
	// retry-on-error are orthogonal: a route may use either, both, or neither.
	Hedging *HedgingExecutor

	backoffFactory func() cbackoff.BackOff
}

// RouteRetryMetrics tracks retry statistics for a route
type RouteRetryMetrics struct {
	Requests        atomic.Int64
	Retries         atomic.Int64
	Successes       atomic.Int64
	Failures        atomic.Int64
	BudgetExhausted atomic.Int64
	HedgedRequests  atomic.Int64
	HedgedWins      atomic.Int64
}

// Snapshot returns a point-in-time copy of the metrics
func (m *RouteRetryMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:        m.Requests.Load(),
		Retries:         m.Retries.Load(),
		Successes:       m.Successes.Load(),
		Failures:        m.Failures.Load(),
		BudgetExhausted: m.BudgetExhausted.Load(),
		HedgedRequests:  m.HedgedRequests.Load(),
		HedgedWins:      m.HedgedWins.Load(),
	}
}

// MetricsSnapshot is a point-in-time copy of retry metrics
type MetricsSnapshot struct {
	Requests        int64 `json:"requests"`
	Retries         int64 `json:"retries"`
	Successes       int64 `json:"successes"`
	Failures        int64 `json:"failures"`
	BudgetExhausted int64 `json:"budget_exhausted"`
	HedgedRequests  int64 `json:"hedged_requests"`
	HedgedWins      int64 `json:"hedged_wins"`
}

// NewPolicy creates a retry policy from config.
func NewPolicy(cfg config.RetryConfig) *Policy {
	initial := cfg.InitialInterval
	if initial == 0 {
		initial = 100 * time.Millisecond
	}
	max := cfg.MaxInterval
	if max == 0 {
		max = 10 * time.Second
	}
	multiplier := cfg.Multiplier
	if multiplier == 0 {
		multiplier = 2.0
	}

	p := &Policy{
		MaxRetries:     cfg.MaxRetries,
		PerTryTimeout:  cfg.PerTryTimeout,
		Metrics:        &RouteRetryMetrics{},
		backoffFactory: buildBackOffFactory(cfg.Backoff, initial, max, multiplier),
	}

	if cfg.Budget.Ratio > 0 || cfg.Budget.MinRetries > 0 || cfg.Budget.Window > 0 {
		p.Budget = NewBudget(cfg.Budget.Ratio, cfg.Budget.MinRetries, cfg.Budget.Window)
	}

	if cfg.Hedging.Enabled {
		p.Hedging = NewHedgingExecutor(cfg.Hedging, p.Metrics)
	}

	statuses := cfg.RetryableStatuses
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	p.RetryableStatuses = make(map[int]bool, len(statuses))
	for _, s := range statuses {
		p.RetryableStatuses[s] = true
	}

	methods := cfg.RetryableMethods
	if len(methods) == 0 {
		methods = DefaultRetryableMethods
	}
	p.RetryableMethods = make(map[string]bool, len(methods))
	for _, m := range methods {
		p.RetryableMethods[m] = true
	}

	return p
}

// NewPolicyFromLegacy creates a retry policy from bare retries/timeout values.
func NewPolicyFromLegacy(retries int, timeout time.Duration) *Policy {
	cfg := config.RetryConfig{
		MaxRetries:      retries,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
	if timeout > 0 {
		cfg.PerTryTimeout = timeout
	}
	return NewPolicy(cfg)
}

// Execute runs the request with retry logic, using a fresh backoff sequence
// per call since backoff.BackOff implementations carry attempt state.
func (p *Policy) Execute(ctx context.Context, transport http.RoundTripper, req *http.Request) (*http.Response, error) {
	p.Metrics.Requests.Add(1)
	if p.Budget != nil {
		p.Budget.RecordRequest()
	}

	if p.MaxRetries <= 0 {
		resp, err := p.doRoundTrip(ctx, transport, req)
		if err != nil {
			p.Metrics.Failures.Add(1)
			return nil, err
		}
		p.Metrics.Successes.Add(1)
		return resp, nil
	}

	bo := p.backoffFactory()

	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if p.Budget != nil && !p.Budget.AllowRetry() {
				p.Metrics.BudgetExhausted.Add(1)
				break
			}

			p.Metrics.Retries.Add(1)
			if p.Budget != nil {
				p.Budget.RecordRetry()
			}

			select {
			case <-ctx.Done():
				if lastResp != nil {
					lastResp.Body.Close()
				}
				p.Metrics.Failures.Add(1)
				return nil, ctx.Err()
			case <-time.After(bo.NextBackOff()):
			}
		}

		resp, err := p.doRoundTrip(ctx, transport, req)
		if err != nil {
			lastErr = err
			lastResp = nil
			continue
		}

		if !p.IsRetryable(req.Method, resp.StatusCode) {
			p.Metrics.Successes.Add(1)
			return resp, nil
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp = resp
		lastErr = nil
	}

	p.Metrics.Failures.Add(1)
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (p *Policy) doRoundTrip(ctx context.Context, transport http.RoundTripper, req *http.Request) (*http.Response, error) {
	if p.PerTryTimeout > 0 {
		tryCtx, cancel := context.WithTimeout(ctx, p.PerTryTimeout)
		defer cancel()
		return transport.RoundTrip(req.WithContext(tryCtx))
	}
	return transport.RoundTrip(req)
}

// IsRetryable returns true if the method+status combination should be retried
func (p *Policy) IsRetryable(method string, statusCode int) bool {
	if !p.RetryableMethods[method] {
		return false
	}
	return p.RetryableStatuses[statusCode]
}
