package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nexusgw/gateway/internal/config"
	"github.com/nexusgw/gateway/internal/errors"
	"github.com/nexusgw/gateway/internal/health"
	"github.com/nexusgw/gateway/internal/loadbalancer"
	"github.com/nexusgw/gateway/internal/retry"
	"github.com/nexusgw/gateway/internal/router"
	"github.com/nexusgw/gateway/variables"
)

// Proxy handles proxying requests to backends
type Proxy struct {
	transportPool  *TransportPool
	healthChecker  *health.Checker
	defaultTimeout time.Duration
	flushInterval  time.Duration
}

// Config holds proxy configuration
type Config struct {
	Transport      http.RoundTripper // deprecated: use TransportPool
	TransportPool  *TransportPool
	HealthChecker  *health.Checker
	DefaultTimeout time.Duration
	FlushInterval  time.Duration
}

// New creates a new proxy
func New(cfg Config) *Proxy {
	pool := cfg.TransportPool
	if pool == nil {
		if cfg.Transport != nil {
			pool = &TransportPool{
				defaultTransport: cfg.Transport,
				transports:       make(map[string]http.RoundTripper),
			}
		} else {
			pool = NewTransportPool()
		}
	}

	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	flushInterval := cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = -1 // Don't flush
	}

	return &Proxy{
		transportPool:  pool,
		healthChecker:  cfg.HealthChecker,
		defaultTimeout: timeout,
		flushInterval:  flushInterval,
	}
}

// GetTransportPool returns the transport pool.
func (p *Proxy) GetTransportPool() *TransportPool {
	return p.transportPool
}

// SetTransportPool replaces the transport pool (used during config reload).
func (p *Proxy) SetTransportPool(pool *TransportPool) {
	p.transportPool = pool
}

// Handler returns an http.Handler that proxies requests based on the route
func (p *Proxy) Handler(route *router.Route, balancer loadbalancer.Balancer) http.Handler {
	return p.HandlerWithPolicy(route, balancer, nil)
}

// HandlerWithPolicy returns an http.Handler that proxies requests using an externally
// provided retry policy. If retryPolicy is nil, a new one is created from route config.
// transportOverride, if non-nil, replaces the default transport (e.g., for redirect following).
func (p *Proxy) HandlerWithPolicy(route *router.Route, balancer loadbalancer.Balancer, retryPolicy *retry.Policy, transportOverride ...http.RoundTripper) http.Handler {
	// Build retry policy for this route if not provided externally
	if retryPolicy == nil && route.Retry.Enabled && route.Retry.MaxRetries > 0 {
		retryPolicy = retry.NewPolicy(route.Retry)
	}

	// Resolve transport for this route once per handler creation
	var transport http.RoundTripper
	if len(transportOverride) > 0 && transportOverride[0] != nil {
		transport = transportOverride[0]
	} else {
		transport = p.transportPool.Get(route.ID)
	}

	// Cache interface type assertions once per handler creation (not per-request)
	reqAwareBalancer, isRequestAware := balancer.(loadbalancer.RequestAwareBalancer)
	latencyRecorder, _ := balancer.(loadbalancer.LatencyRecorder)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		varCtx := variables.GetFromRequest(r)
		if varCtx != nil {
			varCtx.RouteID = route.ID
		}

		// Set timeout: only create a new context deadline if the incoming context
		// has none (i.e., no timeout middleware already set one).
		ctx := r.Context()
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			timeout := p.defaultTimeout
			if route.Timeout > 0 {
				timeout = time.Duration(route.Timeout)
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		start := time.Now()
		var resp *http.Response
		var err error
		var backendURL string

		if retryPolicy != nil && retryPolicy.Hedging != nil {
			// Hedging path: let hedging executor pick backends and send concurrent requests.
			// Buffer the body so it can be reused across hedged requests.
			var bodyBytes []byte
			if r.Body != nil {
				bodyBytes, err = retry.BufferBody(r)
				if err != nil {
					errors.ErrBadGateway.WithDetails("failed to read request body").WriteJSON(w)
					return
				}
			}

			nextBackend := func() string {
				if b := balancer.Next(); b != nil {
					return b.URL
				}
				return ""
			}
			makeReq := func(target *url.URL) (*http.Request, error) {
				if bodyBytes != nil {
					r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
				}
				return p.createProxyRequest(r.Context(), r, target, route, nil), nil
			}
			resp, err = retryPolicy.Hedging.Execute(ctx, transport, nextBackend, makeReq, retryPolicy.PerTryTimeout)
		} else {
			// Standard path: single backend selection
			var backend *loadbalancer.Backend
			if isRequestAware {
				backend, _ = reqAwareBalancer.NextForHTTPRequest(r)
			} else {
				backend = balancer.Next()
			}
			if backend == nil {
				errors.ErrNoBackend.WithDetails("no healthy backends available").WriteJSON(w)
				return
			}
			backend.IncrActive()
			defer backend.DecrActive()
			if varCtx != nil {
				varCtx.UpstreamAddr = backend.URL
			}
			backendURL = backend.URL

			targetURL := backend.ParsedURL
			if targetURL == nil {
				var parseErr error
				targetURL, parseErr = url.Parse(backend.URL)
				if parseErr != nil {
					errors.ErrBadGateway.WithDetails("invalid backend URL").WriteJSON(w)
					return
				}
			}

			pooledHeader := acquireProxyHeader()
			defer releaseProxyHeader(pooledHeader)
			proxyReq := p.createProxyRequest(ctx, r, targetURL, route, pooledHeader)

			if retryPolicy != nil {
				resp, err = retryPolicy.Execute(ctx, transport, proxyReq)
			} else {
				resp, err = transport.RoundTrip(proxyReq)
			}
		}

		upstreamTime := time.Since(start)
		if varCtx != nil {
			varCtx.UpstreamResponseTime = upstreamTime
		}

		// Record latency for the least-response-time balancer
		if latencyRecorder != nil && backendURL != "" {
			latencyRecorder.RecordLatency(backendURL, upstreamTime)
		}

		if err != nil {
			p.handleError(w, err, backendURL, balancer)
			return
		}
		defer resp.Body.Close()

		if varCtx != nil {
			varCtx.UpstreamStatus = resp.StatusCode
		}

		// Apply response header transforms
		applyHeaderTransform(resp.Header, route.Transform.ResponseHeaders)

		// Copy response headers
		p.copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		p.copyBody(w, resp.Body)
	})
}

var proxyHeaderPool = sync.Pool{
	New: func() any { return make(http.Header, 16) },
}

func acquireProxyHeader() http.Header {
	h := proxyHeaderPool.Get().(http.Header)
	clear(h)
	return h
}

func releaseProxyHeader(h http.Header) {
	if h == nil {
		return
	}
	// Only return reasonably-sized maps to avoid holding oversized maps
	if len(h) <= 64 {
		proxyHeaderPool.Put(h)
	}
}

// createProxyRequest creates the request to send to the backend.
func (p *Proxy) createProxyRequest(ctx context.Context, r *http.Request, target *url.URL, route *router.Route, header http.Header) *http.Request {
	targetURL := *target

	if route.StripPrefix {
		targetURL.Path = singleJoiningSlash(target.Path, stripPrefix(route.Path, r.URL.Path))
	} else {
		targetURL.Path = singleJoiningSlash(target.Path, r.URL.Path)
	}
	targetURL.RawQuery = r.URL.RawQuery

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           &targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          target.Host,
	}).WithContext(ctx)

	if header != nil {
		proxyReq.Header = header
	} else {
		proxyReq.Header = make(http.Header, len(r.Header)+3)
	}
	for k, vv := range r.Header {
		proxyReq.Header[k] = vv
	}

	if route.PreserveHost {
		proxyReq.Host = r.Host
	} else {
		proxyReq.Host = target.Host
	}

	if clientIP := variables.ExtractClientIP(r); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}

	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	removeHopHeaders(proxyReq.Header)
	applyHeaderTransform(proxyReq.Header, route.Transform.RequestHeaders)

	return proxyReq
}

// applyHeaderTransform applies an add/set/remove header transform in place.
func applyHeaderTransform(h http.Header, t config.HeaderTransform) {
	for k, v := range t.Add {
		h.Add(k, v)
	}
	for k, v := range t.Set {
		h.Set(k, v)
	}
	for _, k := range t.Remove {
		h.Del(k)
	}
}

// handleError handles proxy errors
func (p *Proxy) handleError(w http.ResponseWriter, err error, backendURL string, balancer loadbalancer.Balancer) {
	if balancer != nil && backendURL != "" {
		balancer.MarkUnhealthy(backendURL)
	}

	if err == context.DeadlineExceeded {
		errors.ErrGatewayTimeout.WriteJSON(w)
		return
	}

	errors.ErrBadGateway.WithDetails(err.Error()).WriteJSON(w)
}

// copyHeaders copies headers from source to destination
func (p *Proxy) copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}
	removeHopHeaders(dst)
}

// copyBody copies the response body
func (p *Proxy) copyBody(w http.ResponseWriter, body io.Reader) {
	if p.flushInterval > 0 {
		if flusher, ok := w.(http.Flusher); ok {
			for {
				_, err := io.CopyN(w, body, 32*1024)
				if err != nil {
					break
				}
				flusher.Flush()
			}
			return
		}
	}
	io.Copy(w, body)
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// singleJoiningSlash joins two URL paths with a single slash
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// stripPrefix removes the route path prefix from the request path
func stripPrefix(pattern, path string) string {
	pattern = strings.Trim(pattern, "/")
	path = strings.Trim(path, "/")

	if pattern == "" {
		return "/" + path
	}

	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(pathParts) <= len(patternParts) {
		return "/"
	}

	suffix := strings.Join(pathParts[len(patternParts):], "/")
	if suffix == "" {
		return "/"
	}
	return "/" + suffix
}

// RouteProxy holds proxy configuration per route
type RouteProxy struct {
	proxy       *Proxy
	balancer    loadbalancer.Balancer
	route       *router.Route
	retryPolicy *retry.Policy
	handler     http.Handler
}

// NewRouteProxy creates a proxy handler for a specific route using a plain
// round-robin balancer over the given backends.
func NewRouteProxy(proxy *Proxy, route *router.Route, backends []*loadbalancer.Backend) *RouteProxy {
	return NewRouteProxyWithBalancer(proxy, route, loadbalancer.NewRoundRobin(backends))
}

// NewRouteProxyWithBalancer creates a proxy handler with a caller-supplied balancer
// (e.g. one built by loadbalancer.New from the route's configured policy).
func NewRouteProxyWithBalancer(proxy *Proxy, route *router.Route, balancer loadbalancer.Balancer) *RouteProxy {
	rp := &RouteProxy{
		proxy:    proxy,
		balancer: balancer,
		route:    route,
	}

	if route.Retry.Enabled && route.Retry.MaxRetries > 0 {
		rp.retryPolicy = retry.NewPolicy(route.Retry)
	}

	// Cache the handler, passing in the same retry policy so metrics are shared
	rp.handler = proxy.HandlerWithPolicy(route, rp.balancer, rp.retryPolicy)

	return rp
}

// ServeHTTP handles the request
func (rp *RouteProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rp.handler.ServeHTTP(w, r)
}

// UpdateBackends updates the backends for this route
func (rp *RouteProxy) UpdateBackends(backends []*loadbalancer.Backend) {
	rp.balancer.UpdateBackends(backends)
}

// GetBalancer returns the load balancer
func (rp *RouteProxy) GetBalancer() loadbalancer.Balancer {
	return rp.balancer
}

// GetRetryMetrics returns the retry metrics for this route (may be nil)
func (rp *RouteProxy) GetRetryMetrics() *retry.RouteRetryMetrics {
	if rp.retryPolicy != nil {
		return rp.retryPolicy.Metrics
	}
	return nil
}

// SimpleProxy creates a simple reverse proxy handler with no retries, no
// health checking and a single static backend. Used by the echo/debug routes.
func SimpleProxy(targetURL string) (http.Handler, error) {
	if _, err := url.Parse(targetURL); err != nil {
		return nil, err
	}

	proxy := New(Config{})
	backends := []*loadbalancer.Backend{{URL: targetURL, Weight: 1, Healthy: true}}
	balancer := loadbalancer.NewRoundRobin(backends)

	route := &router.Route{
		ID:   "simple",
		Path: "/",
	}

	return proxy.Handler(route, balancer), nil
}
