package loadbalancer

import "github.com/nexusgw/gateway/internal/config"

// New builds the Balancer named by cfg.Policy, defaulting to round_robin
// when unset or unrecognized.
func New(cfg config.LoadBalancerConfig, backends []*Backend) Balancer {
	switch cfg.Policy {
	case "weighted_round_robin":
		return NewWeightedRoundRobin(backends)
	case "least_connections":
		return NewLeastConnections(backends)
	case "weighted_least_connections":
		return NewWeightedLeastConnections(backends)
	case "random":
		return NewRandom(backends)
	case "weighted_random":
		return NewWeightedRandom(backends)
	case "ip_hash":
		return NewConsistentHash(backends, IPHashConfig{Key: "ip"})
	case "least_response_time":
		return NewLeastResponseTime(backends)
	case "resource_based":
		return NewResourceBased(backends)
	default:
		return NewRoundRobin(backends)
	}
}
