package health

import gwbackend "github.com/nexusgw/gateway/internal/backend"

// statusMap translates a checker Status into the backend package's
// HealthStatus enum.
func statusMap(s Status) gwbackend.HealthStatus {
	switch s {
	case StatusHealthy:
		return gwbackend.HealthHealthy
	case StatusDegraded:
		return gwbackend.HealthDegraded
	case StatusUnhealthy:
		return gwbackend.HealthUnhealthy
	default:
		return gwbackend.HealthUnknown
	}
}

// PublishTo wires a Checker's status-change events into a backend.Pool,
// keeping the pool's administrative view of health current without the
// checker holding any reference back to the pool (the pool is the
// subscriber, the checker is the one-way event source).
func PublishTo(checker *Checker, pool *gwbackend.Pool) {
	checker.Subscribe(func(url string, status Status) {
		pool.ReportHealth(url, statusMap(status))
	})
}
