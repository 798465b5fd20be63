package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks gateway metrics and exports them as real Prometheus
// collectors, plus a JSON snapshot for the admin surface.
type Collector struct {
	mu sync.RWMutex

	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDurations  *prometheus.HistogramVec
	cacheHitsTotal    *prometheus.CounterVec
	cacheMissesTotal  *prometheus.CounterVec
	retryTotal        *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	backendHealthy    *prometheus.GaugeVec
	activeRequests    *prometheus.GaugeVec
	rateLimitRejects  *prometheus.CounterVec

	// snapshotCounts mirror the vectors above so Snapshot() can serve JSON
	// without walking the prometheus registry, which doesn't expose label
	// values for reading back.
	requestCounts  map[string]int64 // key: route|method|status
	durationStats  map[string]*HistogramData
	cacheHits      map[string]int64
	cacheMisses    map[string]int64
	retryCounts    map[string]int64
	breakerStates  map[string]int
	backendHealths map[string]int
}

// HistogramData stores histogram-like data for durations
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates a new metrics collector backed by a dedicated
// Prometheus registry (not the global DefaultRegisterer, so multiple
// gateway instances in the same process don't collide on metric names).
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests",
		}, []string{"route", "method", "status"}),
		requestDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: DefaultBuckets,
		}, []string{"route"}),
		cacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_hits_total",
			Help: "Total cache hits",
		}, []string{"route"}),
		cacheMissesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_misses_total",
			Help: "Total cache misses",
		}, []string{"route"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_total",
			Help: "Total retry attempts",
		}, []string{"route"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
		}, []string{"route"}),
		backendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_backend_health",
			Help: "Backend health (0=unhealthy, 1=healthy)",
		}, []string{"route", "backend"}),
		activeRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "In-flight requests per route",
		}, []string{"route"}),
		rateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejects_total",
			Help: "Total requests rejected by rate limiting",
		}, []string{"route"}),

		requestCounts:  make(map[string]int64),
		durationStats:  make(map[string]*HistogramData),
		cacheHits:      make(map[string]int64),
		cacheMisses:    make(map[string]int64),
		retryCounts:    make(map[string]int64),
		breakerStates:  make(map[string]int),
		backendHealths: make(map[string]int),
	}

	reg.MustRegister(
		c.requestsTotal,
		c.requestDurations,
		c.cacheHitsTotal,
		c.cacheMissesTotal,
		c.retryTotal,
		c.breakerState,
		c.backendHealthy,
		c.activeRequests,
		c.rateLimitRejects,
	)

	return c
}

// RecordActiveRequest adjusts the in-flight request gauge for a route by
// delta (+1 on entry, -1 on completion).
func (c *Collector) RecordActiveRequest(route string, delta int) {
	c.activeRequests.WithLabelValues(route).Add(float64(delta))
}

// RecordRateLimitReject records a request rejected by rate limiting.
func (c *Collector) RecordRateLimitReject(route string) {
	c.rateLimitRejects.WithLabelValues(route).Inc()
}

// Handler returns an http.Handler serving this collector's registry in
// Prometheus exposition format, suitable for mounting directly on a mux.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	c.requestsTotal.WithLabelValues(route, method, status).Inc()
	c.requestDurations.WithLabelValues(route).Observe(duration.Seconds())

	c.mu.Lock()
	defer c.mu.Unlock()

	key := route + "|" + method + "|" + status
	c.requestCounts[key]++

	hd, ok := c.durationStats[route]
	if !ok {
		hd = &HistogramData{Buckets: make(map[float64]int64)}
		for _, b := range DefaultBuckets {
			hd.Buckets[b] = 0
		}
		c.durationStats[route] = hd
	}
	secs := duration.Seconds()
	hd.Count++
	hd.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			hd.Buckets[bound]++
		}
	}
}

// RecordCacheHit records a cache hit
func (c *Collector) RecordCacheHit(route string) {
	c.cacheHitsTotal.WithLabelValues(route).Inc()
	c.mu.Lock()
	c.cacheHits[route]++
	c.mu.Unlock()
}

// RecordCacheMiss records a cache miss
func (c *Collector) RecordCacheMiss(route string) {
	c.cacheMissesTotal.WithLabelValues(route).Inc()
	c.mu.Lock()
	c.cacheMisses[route]++
	c.mu.Unlock()
}

// RecordRetry records a retry attempt
func (c *Collector) RecordRetry(route string) {
	c.retryTotal.WithLabelValues(route).Inc()
	c.mu.Lock()
	c.retryCounts[route]++
	c.mu.Unlock()
}

// SetCircuitBreakerState sets the circuit breaker state for a route
func (c *Collector) SetCircuitBreakerState(route string, state int) {
	c.breakerState.WithLabelValues(route).Set(float64(state))
	c.mu.Lock()
	c.breakerStates[route] = state
	c.mu.Unlock()
}

// SetBackendHealth sets the health status of a backend
func (c *Collector) SetBackendHealth(route, backend string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.backendHealthy.WithLabelValues(route, backend).Set(val)

	c.mu.Lock()
	key := route + "|" + backend
	if healthy {
		c.backendHealths[key] = 1
	} else {
		c.backendHealths[key] = 0
	}
	c.mu.Unlock()
}

// MetricsSnapshot holds a snapshot of all metrics
type MetricsSnapshot struct {
	RequestsTotal       map[string]int64              `json:"requests_total"`
	RequestDurations    map[string]*HistogramSnapshot  `json:"request_durations"`
	CacheHits           map[string]int64               `json:"cache_hits"`
	CacheMisses         map[string]int64               `json:"cache_misses"`
	RetryTotal          map[string]int64               `json:"retry_total"`
	CircuitBreakerState map[string]int                  `json:"circuit_breaker_state"`
	BackendHealth       map[string]int                  `json:"backend_health"`
}

// HistogramSnapshot is a snapshot of histogram data
type HistogramSnapshot struct {
	Count   int64             `json:"count"`
	Sum     float64           `json:"sum"`
	Buckets map[float64]int64 `json:"buckets"`
}

// Snapshot returns a point-in-time snapshot of all metrics, for the JSON
// admin surface. Prometheus scraping goes through WritePrometheus instead,
// which renders the real registry via promhttp.
func (c *Collector) Snapshot() *MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &MetricsSnapshot{
		RequestsTotal:       make(map[string]int64),
		RequestDurations:    make(map[string]*HistogramSnapshot),
		CacheHits:           make(map[string]int64),
		CacheMisses:         make(map[string]int64),
		RetryTotal:          make(map[string]int64),
		CircuitBreakerState: make(map[string]int),
		BackendHealth:       make(map[string]int),
	}

	for k, v := range c.requestCounts {
		snap.RequestsTotal[k] = v
	}
	for k, v := range c.durationStats {
		hs := &HistogramSnapshot{Count: v.Count, Sum: v.Sum, Buckets: make(map[float64]int64)}
		for b, cnt := range v.Buckets {
			hs.Buckets[b] = cnt
		}
		snap.RequestDurations[k] = hs
	}
	for k, v := range c.cacheHits {
		snap.CacheHits[k] = v
	}
	for k, v := range c.cacheMisses {
		snap.CacheMisses[k] = v
	}
	for k, v := range c.retryCounts {
		snap.RetryTotal[k] = v
	}
	for k, v := range c.breakerStates {
		snap.CircuitBreakerState[k] = v
	}
	for k, v := range c.backendHealths {
		snap.BackendHealth[k] = v
	}

	return snap
}

// WritePrometheus renders the collector's registry in Prometheus text
// exposition format via the real client library, rather than hand-rolled
// formatting.
func (c *Collector) WritePrometheus(w http.ResponseWriter, r *http.Request) {
	c.Handler().ServeHTTP(w, r)
}
