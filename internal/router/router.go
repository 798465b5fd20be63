// Package router implements pattern-based HTTP request routing: a
// julienschmidt/httprouter instance as a fast first-tier lookup for literal
// and required-param patterns, with a segment-tree CompiledMatcher as an
// authoritative fallback/verification tier for patterns using ":name?", "*"
// or "**" that the radix tree cannot represent natively.
package router

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"

	"github.com/nexusgw/gateway/internal/config"
)

// BackendRef is a route's static view of a configured backend, used to seed
// the backend pool; runtime health/connection state lives in internal/backend.
type BackendRef struct {
	URL            string
	Weight         int
	MaxConnections int
}

// Route is a fully compiled, immutable routing entry.
type Route struct {
	ID             string
	Path           string
	Methods        map[string]bool // nil = all methods
	Priority       int
	StripPrefix    bool
	PreserveHost   bool
	MaxBodySize    int64
	Backends       []BackendRef
	LoadBalancer   config.LoadBalancerConfig
	HealthCheck    config.HealthCheckConfig
	RateLimit      config.RateLimitConfig
	CircuitBreaker config.CircuitBreakerConfig
	Retry          config.RetryConfig
	Auth           config.RouteAuthConfig
	ACL            config.RouteACLConfig
	Transform      config.TransformConfig
	Timeout        int64 // nanoseconds, 0 = server default

	matcher   *CompiledMatcher
	configIdx int
}

func (route *Route) allowsMethod(method string) bool {
	return route.Methods == nil || route.Methods[method]
}

// Match is the result of a successful route lookup.
type Match struct {
	Route      *Route
	PathParams map[string]string
}

// routeGroup holds every simple route registered under the same httprouter
// path, ordered by priority/specificity, mirroring the teacher's
// Router/RouteGroup split between tier-1 path lookup and tier-2 disambiguation.
type routeGroup struct {
	routes []*Route
}

func (rg *routeGroup) add(route *Route) {
	rg.routes = append(rg.routes, route)
	sort.SliceStable(rg.routes, func(i, j int) bool { return moreSpecific(rg.routes[i], rg.routes[j]) })
}

func (rg *routeGroup) remove(id string) {
	for i, r := range rg.routes {
		if r.ID == id {
			rg.routes = append(rg.routes[:i], rg.routes[i+1:]...)
			return
		}
	}
}

// ServeHTTP is invoked by httprouter for a matched tier-1 path. It writes
// the first method/pattern-matching candidate into the captureWriter so
// Match can read it back without ever sending a real HTTP response.
func (rg *routeGroup) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cw, ok := w.(*captureWriter)
	if !ok {
		return
	}
	for _, route := range rg.routes {
		if !route.allowsMethod(r.Method) {
			continue
		}
		if params, ok := route.matcher.Match(r.URL.Path); ok {
			cw.match = &Match{Route: route, PathParams: params}
			return
		}
	}
}

// captureWriter is a no-op http.ResponseWriter used purely to smuggle a
// Match result out of httprouter's ServeHTTP dispatch.
type captureWriter struct {
	match  *Match
	header http.Header
}

func newCaptureWriter() *captureWriter { return &captureWriter{header: make(http.Header)} }

func (cw *captureWriter) Header() http.Header       { return cw.header }
func (cw *captureWriter) Write([]byte) (int, error) { return 0, nil }
func (cw *captureWriter) WriteHeader(int)           {}

// Router resolves an incoming request to a configured Route.
type Router struct {
	mu       sync.RWMutex
	routes   []*Route // every route, priority desc then insertion order; authoritative scan
	tree     *httprouter.Router
	groups   map[string]*routeGroup // httprouter path -> candidates (simple routes only)
	nextIdx  int
	notFound http.Handler
}

// New creates an empty Router.
func New() *Router {
	tree := httprouter.New()
	tree.HandleMethodNotAllowed = false
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false

	return &Router{
		tree:   tree,
		groups: make(map[string]*routeGroup),
		notFound: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Not Found", http.StatusNotFound)
		}),
	}
}

var allHTTPMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete,
	http.MethodPatch, http.MethodHead, http.MethodOptions}

// AddRoute compiles and registers a route from configuration.
func (rt *Router) AddRoute(cfg config.RouteConfig) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	route := &Route{
		ID:             cfg.ID,
		Path:           cfg.Path,
		Priority:       cfg.Priority,
		StripPrefix:    cfg.StripPrefix,
		PreserveHost:   cfg.PreserveHost,
		MaxBodySize:    cfg.MaxBodySize,
		LoadBalancer:   cfg.LoadBalancer,
		HealthCheck:    cfg.HealthCheck,
		RateLimit:      cfg.RateLimit,
		CircuitBreaker: cfg.CircuitBreaker,
		Retry:          cfg.Retry,
		Auth:           cfg.Auth,
		ACL:            cfg.ACL,
		Transform:      cfg.Transform,
		Timeout:        int64(cfg.Timeout),
		matcher:        NewCompiledMatcher(cfg.Path),
		configIdx:      rt.nextIdx,
	}
	rt.nextIdx++

	if len(cfg.Methods) > 0 {
		route.Methods = make(map[string]bool, len(cfg.Methods))
		for _, m := range cfg.Methods {
			route.Methods[strings.ToUpper(m)] = true
		}
	}

	for _, b := range cfg.Backends {
		weight := b.Weight
		if weight <= 0 {
			weight = 1
		}
		route.Backends = append(route.Backends, BackendRef{
			URL:            b.URL,
			Weight:         weight,
			MaxConnections: b.MaxConnections,
		})
	}

	rt.routes = append(rt.routes, route)
	sort.SliceStable(rt.routes, func(i, j int) bool { return moreSpecific(rt.routes[i], rt.routes[j]) })

	if route.matcher.IsSimple() {
		rt.registerFastPath(route)
	}

	return nil
}

func moreSpecific(a, b *Route) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if sa, sb := a.matcher.Specificity(), b.matcher.Specificity(); sa != sb {
		return sa > sb
	}
	return a.configIdx < b.configIdx
}

// registerFastPath mounts a simple (literal/required-param) route onto the
// httprouter radix tree, grouping same-path routes behind one routeGroup.
func (rt *Router) registerFastPath(route *Route) {
	path := route.matcher.HTTPRouterPath()

	group, exists := rt.groups[path]
	if !exists {
		group = &routeGroup{}
		rt.groups[path] = group
		for _, m := range allHTTPMethods {
			func() {
				defer func() { recover() }() // overlapping registrations across groups are non-fatal
				rt.tree.Handler(m, path, group)
			}()
		}
	}
	group.add(route)
}

// Match resolves r against the registered routes. It tries the httprouter
// fast path first (exact/required-param hits only), then falls back to a
// priority-ordered linear scan through every route's CompiledMatcher, which
// is authoritative for ":name?", "*" and "**" patterns.
func (rt *Router) Match(r *http.Request) *Match {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	cw := newCaptureWriter()
	rt.tree.ServeHTTP(cw, r)
	if cw.match != nil {
		return cw.match
	}

	for _, route := range rt.routes {
		if route.matcher.IsSimple() {
			continue // already covered by the fast path above
		}
		if !route.allowsMethod(r.Method) {
			continue
		}
		if params, ok := route.matcher.Match(r.URL.Path); ok {
			return &Match{Route: route, PathParams: params}
		}
	}
	return nil
}

// GetRoute returns a route by ID, or nil.
func (rt *Router) GetRoute(id string) *Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, route := range rt.routes {
		if route.ID == id {
			return route
		}
	}
	return nil
}

// GetRoutes returns a snapshot of all registered routes.
func (rt *Router) GetRoutes() []*Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*Route, len(rt.routes))
	copy(out, rt.routes)
	return out
}

// RemoveRoute removes a route by ID. Returns true if it was found.
func (rt *Router) RemoveRoute(id string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, route := range rt.routes {
		if route.ID == id {
			rt.routes = append(rt.routes[:i], rt.routes[i+1:]...)
			for _, g := range rt.groups {
				g.remove(id)
			}
			return true
		}
	}
	return false
}

// UpdateBackends replaces the backend list for a route (used by hot reload).
func (rt *Router) UpdateBackends(routeID string, backends []BackendRef) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, route := range rt.routes {
		if route.ID == routeID {
			route.Backends = backends
			return true
		}
	}
	return false
}

// SetNotFoundHandler overrides the handler invoked when no route matches.
func (rt *Router) SetNotFoundHandler(h http.Handler) {
	rt.notFound = h
}

// NotFoundHandler returns the configured not-found handler.
func (rt *Router) NotFoundHandler() http.Handler {
	return rt.notFound
}
