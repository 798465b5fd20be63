package loadbalancer

import (
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// IPHashConfig configures the ip_hash load-balancer policy's key extraction.
type IPHashConfig struct {
	Key        string // "ip" (default), "header", "cookie", "path"
	HeaderName string
	Replicas   int // virtual nodes per backend weight unit, default 150
}

// ConsistentHash implements the ip_hash policy as a consistent-hash ring:
// requests carrying the same key always land on the same backend as long
// as the healthy backend set doesn't change. The ring key for each virtual
// node is a 128-bit value built from two independent xxhash runs (seed 0
// and seed 1) over the same input, concatenated into a (hi, lo) pair and
// compared lexicographically — this widens the collision space past a
// single 64-bit hash without reaching for a slower cryptographic hash.
type ConsistentHash struct {
	baseBalancer
	cfg      IPHashConfig
	ring     []ringEntry
	ringMu   sync.RWMutex
	replicas int
}

type hash128 struct {
	hi, lo uint64
}

func less128(a, b hash128) bool {
	if a.hi != b.hi {
		return a.hi < b.hi
	}
	return a.lo < b.lo
}

type ringEntry struct {
	hash    hash128
	backend *Backend
}

// NewConsistentHash creates a new ip_hash balancer.
func NewConsistentHash(backends []*Backend, cfg IPHashConfig) *ConsistentHash {
	replicas := cfg.Replicas
	if replicas <= 0 {
		replicas = 150
	}
	ch := &ConsistentHash{
		cfg:      cfg,
		replicas: replicas,
	}
	for _, b := range backends {
		if b.Weight == 0 {
			b.Weight = 1
		}
	}
	ch.backends = backends
	ch.buildIndex()
	ch.rebuildRing()
	return ch
}

// rebuildRing rebuilds the hash ring from healthy backends.
func (ch *ConsistentHash) rebuildRing() {
	ch.mu.RLock()
	healthy := ch.healthyBackends()
	ch.mu.RUnlock()

	var ring []ringEntry
	for _, b := range healthy {
		vnodes := ch.replicas * b.Weight
		for i := 0; i < vnodes; i++ {
			ring = append(ring, ringEntry{hash: vnodeHash(b.URL, i), backend: b})
		}
	}

	sort.Slice(ring, func(i, j int) bool {
		return less128(ring[i].hash, ring[j].hash)
	})

	ch.ringMu.Lock()
	ch.ring = ring
	ch.ringMu.Unlock()
}

// vnodeHash derives a 128-bit ring position for a backend's i-th virtual node.
func vnodeHash(key string, idx int) hash128 {
	return hash128{hi: keyHash(key, idx, 0), lo: keyHash(key, idx, 1)}
}

// keyHash runs xxhash over key+idx+seed, producing one 64-bit lane of the
// 128-bit ring key.
func keyHash(key string, idx int, seed byte) uint64 {
	d := xxhash.New()
	d.Write([]byte(key))
	d.Write([]byte{byte(idx), byte(idx >> 8), byte(idx >> 16), byte(idx >> 24), seed})
	return d.Sum64()
}

func requestKeyHash(key string) hash128 {
	return hash128{hi: keyHash(key, 0, 0), lo: keyHash(key, 0, 1)}
}

// Next returns a backend using the ring's first entry (not request-aware).
func (ch *ConsistentHash) Next() *Backend {
	ch.ringMu.RLock()
	defer ch.ringMu.RUnlock()

	if len(ch.ring) == 0 {
		return nil
	}
	return ch.ring[0].backend
}

// NextForHTTPRequest selects a backend based on the configured hash key extracted from the request.
func (ch *ConsistentHash) NextForHTTPRequest(r *http.Request) (*Backend, string) {
	h := requestKeyHash(ch.extractKey(r))

	ch.ringMu.RLock()
	ring := ch.ring
	ch.ringMu.RUnlock()

	if len(ring) == 0 {
		return nil, ""
	}

	idx := sort.Search(len(ring), func(i int) bool {
		return !less128(ring[i].hash, h)
	})
	if idx >= len(ring) {
		idx = 0 // wrap around
	}

	return ring[idx].backend, ""
}

// extractKey extracts the hash key from the request based on configuration.
func (ch *ConsistentHash) extractKey(r *http.Request) string {
	switch ch.cfg.Key {
	case "header":
		return r.Header.Get(ch.cfg.HeaderName)
	case "cookie":
		if c, err := r.Cookie(ch.cfg.HeaderName); err == nil {
			return c.Value
		}
		return ""
	case "path":
		return r.URL.Path
	default:
		return extractClientIP(r)
	}
}

// extractClientIP extracts the client IP from X-Forwarded-For or RemoteAddr.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UpdateBackends updates backends and rebuilds the ring.
func (ch *ConsistentHash) UpdateBackends(backends []*Backend) {
	ch.baseBalancer.UpdateBackends(backends)
	ch.rebuildRing()
}

// MarkHealthy marks a backend healthy and rebuilds the ring.
func (ch *ConsistentHash) MarkHealthy(url string) {
	ch.baseBalancer.MarkHealthy(url)
	ch.rebuildRing()
}

// MarkUnhealthy marks a backend unhealthy and rebuilds the ring.
func (ch *ConsistentHash) MarkUnhealthy(url string) {
	ch.baseBalancer.MarkUnhealthy(url)
	ch.rebuildRing()
}
