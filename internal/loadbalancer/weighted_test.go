package loadbalancer

import "testing"

func TestRandomOnlyReturnsHealthy(t *testing.T) {
	backends := []*Backend{
		{URL: "http://a", Weight: 1, Healthy: true},
		{URL: "http://b", Weight: 1, Healthy: false},
	}
	r := NewRandom(backends)
	for i := 0; i < 50; i++ {
		if b := r.Next(); b == nil || b.URL != "http://a" {
			t.Fatalf("expected only healthy backend a, got %v", b)
		}
	}
}

func TestRandomReturnsNilWhenNoneHealthy(t *testing.T) {
	backends := []*Backend{{URL: "http://a", Weight: 1, Healthy: false}}
	r := NewRandom(backends)
	if b := r.Next(); b != nil {
		t.Fatalf("expected nil, got %v", b)
	}
}

func TestWeightedRandomDistribution(t *testing.T) {
	backends := []*Backend{
		{URL: "http://heavy", Weight: 9, Healthy: true},
		{URL: "http://light", Weight: 1, Healthy: true},
	}
	wr := NewWeightedRandom(backends)

	counts := map[string]int{}
	const iterations = 10000
	for i := 0; i < iterations; i++ {
		b := wr.Next()
		if b == nil {
			t.Fatal("unexpected nil backend")
		}
		counts[b.URL]++
	}

	heavyRatio := float64(counts["http://heavy"]) / float64(iterations)
	if heavyRatio < 0.80 || heavyRatio > 0.98 {
		t.Fatalf("expected heavy backend to receive ~90%% of traffic, got %.2f%%", heavyRatio*100)
	}
}

func TestWeightedRandomSkipsUnhealthy(t *testing.T) {
	backends := []*Backend{
		{URL: "http://a", Weight: 5, Healthy: false},
		{URL: "http://b", Weight: 1, Healthy: true},
	}
	wr := NewWeightedRandom(backends)
	for i := 0; i < 50; i++ {
		if b := wr.Next(); b == nil || b.URL != "http://b" {
			t.Fatalf("expected only healthy backend b, got %v", b)
		}
	}
}
