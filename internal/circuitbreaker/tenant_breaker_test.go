package circuitbreaker

import (
	"fmt"
	"testing"

	"github.com/nexusgw/gateway/internal/config"
)

var testErrServer = fmt.Errorf("server error")

func TestTenantAwareBreakerIndependentTenants(t *testing.T) {
	cfg := config.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		Timeout:          0,
	}
	tab := NewTenantAwareBreaker("route1", cfg, nil)

	tab.Execute("tenantA", func() (any, error) { return nil, nil })
	tab.Execute("tenantB", func() (any, error) { return nil, nil })

	// Trip tenantA's breaker
	for i := 0; i < 2; i++ {
		tab.Execute("tenantA", func() (any, error) { return nil, testErrServer })
	}

	_, errA := tab.Execute("tenantA", func() (any, error) { return nil, nil })
	if errA == nil {
		t.Error("expected tenantA breaker to be open")
	}

	_, errB := tab.Execute("tenantB", func() (any, error) { return nil, nil })
	if errB != nil {
		t.Errorf("tenantB should still be closed, got: %v", errB)
	}
}

func TestTenantAwareBreakerEmptyTenantUsesRouteBreaker(t *testing.T) {
	cfg := config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 5}
	tab := NewTenantAwareBreaker("route1", cfg, nil)

	ran := false
	_, err := tab.Execute("", func() (any, error) { ran = true; return nil, nil })
	if err != nil || !ran {
		t.Fatalf("expected empty-tenant call to run on route-level breaker, err=%v", err)
	}

	snap := tab.RouteSnapshot()
	if snap.TotalSuccesses != 1 {
		t.Errorf("expected 1 recorded success on route breaker, got %d", snap.TotalSuccesses)
	}
}

func TestTenantAwareBreakerLazilyCreatesPerTenantBreakers(t *testing.T) {
	cfg := config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 5}
	tab := NewTenantAwareBreaker("route1", cfg, nil)

	tab.Execute("t1", func() (any, error) { return nil, nil })
	tab.Execute("t2", func() (any, error) { return nil, nil })

	v1, ok1 := tab.breakers.Load("t1")
	v2, ok2 := tab.breakers.Load("t2")
	if !ok1 || !ok2 {
		t.Fatal("expected both tenant breakers to have been created")
	}
	if v1 == v2 {
		t.Fatal("expected distinct breaker instances per tenant")
	}
}
