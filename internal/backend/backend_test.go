package backend

import (
	"testing"
	"time"
)

func TestConnectRespectsMaxConnections(t *testing.T) {
	b := New("http://localhost:9000", 1, 2)
	if !b.Connect() {
		t.Fatal("first connect should succeed")
	}
	if !b.Connect() {
		t.Fatal("second connect should succeed")
	}
	if b.Connect() {
		t.Fatal("third connect should fail at capacity")
	}
	b.Disconnect()
	if !b.Connect() {
		t.Fatal("connect should succeed after a disconnect frees a slot")
	}
}

func TestSelectableReflectsAdminAndHealth(t *testing.T) {
	b := New("http://localhost:9000", 1, 0)
	b.SetHealthStatus(HealthHealthy)
	if !b.Selectable() {
		t.Fatal("active+healthy backend should be selectable")
	}
	b.SetHealthStatus(HealthUnhealthy)
	if b.Selectable() {
		t.Fatal("unhealthy backend should not be selectable")
	}
	b.SetHealthStatus(HealthHealthy)
	b.SetAdminStatus(StatusDisabled)
	if b.Selectable() {
		t.Fatal("disabled backend should not be selectable")
	}
}

func TestRecordRequestComputesEWMA(t *testing.T) {
	b := New("http://localhost:9000", 1, 0)
	b.RecordRequest(100*time.Millisecond, false)
	first := b.EWMALatency()
	if first != 100*time.Millisecond {
		t.Fatalf("first sample should seed the EWMA exactly, got %v", first)
	}
	b.RecordRequest(200*time.Millisecond, true)
	second := b.EWMALatency()
	if second <= first || second >= 200*time.Millisecond {
		t.Fatalf("expected EWMA between samples, got %v", second)
	}
	if b.TotalRequests() != 2 || b.TotalErrors() != 1 {
		t.Fatalf("got requests=%d errors=%d", b.TotalRequests(), b.TotalErrors())
	}
}

func TestPoolAddRemoveSelect(t *testing.T) {
	p := NewPool()
	a := New("http://localhost:1", 1, 0)
	b := New("http://localhost:2", 1, 0)
	p.AddBackend(a)
	p.AddBackend(b)
	p.ReportHealth(a.URL, HealthHealthy)
	p.ReportHealth(b.URL, HealthHealthy)

	if got := p.Count(); got != 2 {
		t.Fatalf("expected 2 selectable backends, got %d", got)
	}

	p.ReportHealth(b.URL, HealthUnhealthy)
	if got := p.Count(); got != 1 {
		t.Fatalf("expected 1 selectable backend after marking unhealthy, got %d", got)
	}

	if !p.RemoveBackend(a.URL) {
		t.Fatal("expected RemoveBackend to find a")
	}
	if p.Get(a.URL) != nil {
		t.Fatal("expected a to be gone after removal")
	}
}

func TestPoolDrainEnableDisable(t *testing.T) {
	p := NewPool()
	a := New("http://localhost:1", 1, 0)
	p.AddBackend(a)
	p.ReportHealth(a.URL, HealthHealthy)

	p.Drain(a.URL)
	if a.AdminStatus() != StatusDraining {
		t.Fatalf("expected draining status, got %v", a.AdminStatus())
	}
	if p.Count() != 0 {
		t.Fatal("draining backend should not be selectable")
	}

	p.Enable(a.URL)
	if p.Count() != 1 {
		t.Fatal("expected backend selectable again after Enable")
	}

	p.Disable(a.URL)
	if p.Count() != 0 {
		t.Fatal("disabled backend should not be selectable")
	}
}

func TestPoolSubscribeNotifiesOnTransition(t *testing.T) {
	p := NewPool()
	a := New("http://localhost:1", 1, 0)
	p.AddBackend(a)

	var gotOld, gotNew HealthStatus
	calls := 0
	p.Subscribe(func(b *Backend, old, new HealthStatus) {
		calls++
		gotOld, gotNew = old, new
	})

	p.ReportHealth(a.URL, HealthHealthy)
	if calls != 1 || gotOld != HealthUnknown || gotNew != HealthHealthy {
		t.Fatalf("unexpected notification: calls=%d old=%v new=%v", calls, gotOld, gotNew)
	}

	p.ReportHealth(a.URL, HealthHealthy)
	if calls != 1 {
		t.Fatalf("expected no notification for a no-op transition, got %d calls", calls)
	}
}

func TestPoolSubscribeRecoversPanickingListener(t *testing.T) {
	p := NewPool()
	a := New("http://localhost:1", 1, 0)
	p.AddBackend(a)
	p.Subscribe(func(b *Backend, old, new HealthStatus) { panic("boom") })

	p.ReportHealth(a.URL, HealthHealthy) // must not panic the test
}
