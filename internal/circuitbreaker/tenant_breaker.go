package circuitbreaker

import (
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/nexusgw/gateway/internal/config"
)

// breakerLike is satisfied by both the local gobreaker-backed Breaker and
// the Redis-backed distributed RedisBreaker, so TenantAwareBreaker doesn't
// care which one backs a given tenant.
type breakerLike interface {
	Execute(fn func() (any, error)) (any, error)
}

// TenantAwareBreaker gives each tenant its own circuit breaker, lazily
// created on first use, while requests with no resolved tenant fall back to
// a single route-level breaker. When a Redis client is supplied, per-tenant
// breakers are distributed (shared across gateway instances); otherwise
// they're local gobreaker instances.
type TenantAwareBreaker struct {
	routeID      string
	cfg          config.CircuitBreakerConfig
	routeBreaker breakerLike
	redisClient  *redis.Client
	breakers     sync.Map // tenantID -> breakerLike
}

// NewTenantAwareBreaker creates a tenant-aware breaker for a route.
func NewTenantAwareBreaker(routeID string, cfg config.CircuitBreakerConfig, redisClient *redis.Client) *TenantAwareBreaker {
	return &TenantAwareBreaker{
		routeID:      routeID,
		cfg:          cfg,
		routeBreaker: NewBreaker(routeID, cfg),
		redisClient:  redisClient,
	}
}

// Execute runs fn through the tenant's breaker, or the route-level breaker
// when tenantID is empty.
func (t *TenantAwareBreaker) Execute(tenantID string, fn func() (any, error)) (any, error) {
	if tenantID == "" {
		return t.routeBreaker.Execute(fn)
	}

	v, ok := t.breakers.Load(tenantID)
	if !ok {
		b := t.createBreaker(tenantID)
		v, _ = t.breakers.LoadOrStore(tenantID, b)
	}
	return v.(breakerLike).Execute(fn)
}

// RouteSnapshot returns the route-level breaker's snapshot.
func (t *TenantAwareBreaker) RouteSnapshot() BreakerSnapshot {
	return t.routeBreaker.(*Breaker).Snapshot()
}

func (t *TenantAwareBreaker) createBreaker(tenantID string) breakerLike {
	name := t.routeID + ":tenant:" + tenantID
	if t.redisClient != nil {
		return NewRedisBreaker(name, t.cfg, t.redisClient, nil)
	}
	return NewBreaker(name, t.cfg)
}
