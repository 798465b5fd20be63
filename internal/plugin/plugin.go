// Package plugin implements the gateway's extension point: a priority-bucketed
// registry of named hooks dispatched at fixed points in the request lifecycle.
//
// Unlike the teacher's WASM middleware (internal/middleware/wasm), which probes
// a compiled guest module for exported function names at call time, a plugin
// here is a Go-native HookSet: a struct of optional func fields. There is
// nothing to probe — a nil field means the plugin does not implement that hook.
package plugin

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgw/gateway/internal/logging"
)

// Priority buckets control dispatch order: Highest runs first, Lowest runs last.
type Priority int

const (
	Highest Priority = iota
	High
	Normal
	Low
	Lowest
	numPriorities
)

// ParsePriority maps a config string onto a Priority bucket, defaulting to Normal.
func ParsePriority(s string) Priority {
	switch s {
	case "highest":
		return Highest
	case "high":
		return High
	case "low":
		return Low
	case "lowest":
		return Lowest
	default:
		return Normal
	}
}

// HookSet is what a plugin registers. Every field is optional; a nil field
// means the plugin takes no action at that point in the pipeline.
type HookSet struct {
	Name       string
	Priority   Priority
	FailClosed bool

	Startup  func(ctx context.Context) error
	Shutdown func(ctx context.Context) error

	// PreRequest runs before routing/auth. Returning a non-nil response
	// short-circuits the pipeline; the request is never proxied.
	PreRequest func(r *http.Request) (*http.Request, *http.Response, error)
	// PostRequest runs after a successful upstream round trip, before the
	// response is written to the client.
	PostRequest func(r *http.Request) error
	// PreResponse may replace the upstream response before it is written.
	PreResponse func(r *http.Request, resp *http.Response) (*http.Response, error)
	// PostResponse observes the final response after it has been written.
	PostResponse func(r *http.Request, resp *http.Response) error
	// OnError is consulted when the pipeline produces a *errors.GatewayError.
	// The first plugin to return a non-nil response replaces the error body
	// sent to the client.
	OnError func(r *http.Request, err error) *http.Response

	OnRouteMatch    func(r *http.Request, routeID string)
	OnBackendSelect func(r *http.Request, routeID, backendURL string)
	OnMetrics       func(routeID string, status int, duration time.Duration)
}

// Manager dispatches hooks across registered plugins in ascending priority
// order (Highest..Lowest), short-circuiting at the first non-nil result for
// hooks that produce one. A panicking plugin is recovered and logged; unless
// it was registered with FailClosed, the chain continues as if it had
// returned nothing.
type Manager struct {
	mu      sync.RWMutex
	buckets [numPriorities][]*HookSet
}

// NewManager creates an empty plugin manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a plugin's hooks to its priority bucket.
func (m *Manager) Register(hs *HookSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[hs.Priority] = append(m.buckets[hs.Priority], hs)
}

// ordered returns every registered HookSet in Highest..Lowest dispatch order.
func (m *Manager) ordered() []*HookSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*HookSet, 0)
	for _, bucket := range m.buckets {
		out = append(out, bucket...)
	}
	return out
}

func (m *Manager) recoverPanic(hs *HookSet, hook string) (failErr error) {
	if r := recover(); r != nil {
		logging.Error("plugin panic recovered",
			zap.String("plugin", hs.Name),
			zap.String("hook", hook),
			zap.Any("recovered", r),
		)
		if hs.FailClosed {
			failErr = fmt.Errorf("plugin %s panicked in %s: %v", hs.Name, hook, r)
		}
	}
	return failErr
}

// Startup dispatches Startup to every registered plugin once, in priority
// order. A FailClosed plugin's error (or panic) aborts startup.
func (m *Manager) Startup(ctx context.Context) error {
	for _, hs := range m.ordered() {
		if hs.Startup == nil {
			continue
		}
		if err := m.callStartup(ctx, hs); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) callStartup(ctx context.Context, hs *HookSet) (err error) {
	defer func() {
		if perr := m.recoverPanic(hs, "Startup"); perr != nil {
			err = perr
		}
	}()
	if serr := hs.Startup(ctx); serr != nil {
		if hs.FailClosed {
			return fmt.Errorf("plugin %s startup: %w", hs.Name, serr)
		}
		logging.Error("plugin startup failed", zap.String("plugin", hs.Name), zap.Error(serr))
	}
	return nil
}

// Shutdown dispatches Shutdown to every registered plugin, best-effort:
// failures are logged but do not stop the remaining plugins from shutting down.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, hs := range m.ordered() {
		if hs.Shutdown == nil {
			continue
		}
		m.callShutdown(ctx, hs)
	}
}

func (m *Manager) callShutdown(ctx context.Context, hs *HookSet) {
	defer m.recoverPanic(hs, "Shutdown")
	if err := hs.Shutdown(ctx); err != nil {
		logging.Error("plugin shutdown failed", zap.String("plugin", hs.Name), zap.Error(err))
	}
}

// PreRequest runs every plugin's PreRequest hook in order. The first to
// return a non-nil response (or error) short-circuits the remaining plugins.
func (m *Manager) PreRequest(r *http.Request) (*http.Request, *http.Response, error) {
	for _, hs := range m.ordered() {
		if hs.PreRequest == nil {
			continue
		}
		nr, resp, err := m.callPreRequest(r, hs)
		if err != nil {
			return r, nil, err
		}
		if nr != nil {
			r = nr
		}
		if resp != nil {
			return r, resp, nil
		}
	}
	return r, nil, nil
}

func (m *Manager) callPreRequest(r *http.Request, hs *HookSet) (nr *http.Request, resp *http.Response, err error) {
	defer func() {
		if perr := m.recoverPanic(hs, "PreRequest"); perr != nil {
			err = perr
		}
	}()
	return hs.PreRequest(r)
}

// PostRequest runs every plugin's PostRequest hook in order. Errors are
// logged; a FailClosed plugin's error is returned to the caller.
func (m *Manager) PostRequest(r *http.Request) error {
	for _, hs := range m.ordered() {
		if hs.PostRequest == nil {
			continue
		}
		if err := m.callPostRequest(r, hs); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) callPostRequest(r *http.Request, hs *HookSet) (err error) {
	defer func() {
		if perr := m.recoverPanic(hs, "PostRequest"); perr != nil {
			err = perr
		}
	}()
	if perr := hs.PostRequest(r); perr != nil {
		if hs.FailClosed {
			return perr
		}
		logging.Error("plugin PostRequest failed", zap.String("plugin", hs.Name), zap.Error(perr))
	}
	return nil
}

// PreResponse runs every plugin's PreResponse hook in order, threading the
// (possibly replaced) response through each plugin in turn.
func (m *Manager) PreResponse(r *http.Request, resp *http.Response) (*http.Response, error) {
	for _, hs := range m.ordered() {
		if hs.PreResponse == nil {
			continue
		}
		nresp, err := m.callPreResponse(r, resp, hs)
		if err != nil {
			return resp, err
		}
		if nresp != nil {
			resp = nresp
		}
	}
	return resp, nil
}

func (m *Manager) callPreResponse(r *http.Request, resp *http.Response, hs *HookSet) (nresp *http.Response, err error) {
	defer func() {
		if perr := m.recoverPanic(hs, "PreResponse"); perr != nil {
			err = perr
		}
	}()
	return hs.PreResponse(r, resp)
}

// PostResponse observes the final response in reverse registration order
// within each bucket, mirroring the middleware chain's post-phase contract.
func (m *Manager) PostResponse(r *http.Request, resp *http.Response) {
	ordered := m.ordered()
	for i := len(ordered) - 1; i >= 0; i-- {
		hs := ordered[i]
		if hs.PostResponse == nil {
			continue
		}
		m.callPostResponse(r, resp, hs)
	}
}

func (m *Manager) callPostResponse(r *http.Request, resp *http.Response, hs *HookSet) {
	defer m.recoverPanic(hs, "PostResponse")
	if err := hs.PostResponse(r, resp); err != nil {
		logging.Error("plugin PostResponse failed", zap.String("plugin", hs.Name), zap.Error(err))
	}
}

// OnError offers every plugin a chance to replace the error response sent to
// the client. The first non-nil response wins.
func (m *Manager) OnError(r *http.Request, err error) *http.Response {
	for _, hs := range m.ordered() {
		if hs.OnError == nil {
			continue
		}
		if resp := m.callOnError(r, err, hs); resp != nil {
			return resp
		}
	}
	return nil
}

func (m *Manager) callOnError(r *http.Request, err error, hs *HookSet) (resp *http.Response) {
	defer m.recoverPanic(hs, "OnError")
	return hs.OnError(r, err)
}

// OnRouteMatch notifies every plugin that a route was matched for r.
func (m *Manager) OnRouteMatch(r *http.Request, routeID string) {
	for _, hs := range m.ordered() {
		if hs.OnRouteMatch == nil {
			continue
		}
		m.callOnRouteMatch(r, routeID, hs)
	}
}

func (m *Manager) callOnRouteMatch(r *http.Request, routeID string, hs *HookSet) {
	defer m.recoverPanic(hs, "OnRouteMatch")
	hs.OnRouteMatch(r, routeID)
}

// OnBackendSelect notifies every plugin that backendURL was chosen for routeID.
func (m *Manager) OnBackendSelect(r *http.Request, routeID, backendURL string) {
	for _, hs := range m.ordered() {
		if hs.OnBackendSelect == nil {
			continue
		}
		m.callOnBackendSelect(r, routeID, backendURL, hs)
	}
}

func (m *Manager) callOnBackendSelect(r *http.Request, routeID, backendURL string, hs *HookSet) {
	defer m.recoverPanic(hs, "OnBackendSelect")
	hs.OnBackendSelect(r, routeID, backendURL)
}

// OnMetrics notifies every plugin of a completed request's outcome.
func (m *Manager) OnMetrics(routeID string, status int, duration time.Duration) {
	for _, hs := range m.ordered() {
		if hs.OnMetrics == nil {
			continue
		}
		m.callOnMetrics(routeID, status, duration, hs)
	}
}

func (m *Manager) callOnMetrics(routeID string, status int, duration time.Duration, hs *HookSet) {
	defer m.recoverPanic(hs, "OnMetrics")
	hs.OnMetrics(routeID, status, duration)
}

// Count returns the number of registered plugins, for admin/stats surfaces.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, bucket := range m.buckets {
		n += len(bucket)
	}
	return n
}
