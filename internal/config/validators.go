package config

import "fmt"

var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

var validLBPolicies = map[string]bool{
	"":                           true, // defaults to round_robin
	"round_robin":                true,
	"weighted_round_robin":       true,
	"least_connections":          true,
	"weighted_least_connections": true,
	"random":                     true,
	"weighted_random":            true,
	"ip_hash":                    true,
	"least_response_time":        true,
	"resource_based":             true,
}

var validRateLimitAlgorithms = map[string]bool{
	"":                       true, // defaults to token_bucket
	"token_bucket":           true,
	"leaky_bucket":           true,
	"fixed_window":           true,
	"sliding_window_counter": true,
	"sliding_window_log":     true,
}

var validBackoffs = map[string]bool{
	"":                    true, // defaults to exponential
	"constant":            true,
	"linear":              true,
	"exponential":         true,
	"exponential_jitter":  true,
	"decorrelated_jitter": true,
}

var validAuthMethods = map[string]bool{
	"basic": true, "api_key": true, "bearer": true, "jwt": true, "oauth2": true,
}

// Validate checks a fully-merged Config for structural errors.
func Validate(cfg *Config) error {
	if cfg.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	routeIDs := make(map[string]bool)
	for i, r := range cfg.Routes {
		if r.ID == "" {
			return fmt.Errorf("route %d: id is required", i)
		}
		if routeIDs[r.ID] {
			return fmt.Errorf("duplicate route id: %s", r.ID)
		}
		routeIDs[r.ID] = true

		if r.Path == "" {
			return fmt.Errorf("route %s: path is required", r.ID)
		}
		for _, m := range r.Methods {
			if !validHTTPMethods[m] {
				return fmt.Errorf("route %s: invalid method %q", r.ID, m)
			}
		}
		if len(r.Backends) == 0 {
			return fmt.Errorf("route %s: at least one backend is required", r.ID)
		}
		for j, b := range r.Backends {
			if b.URL == "" {
				return fmt.Errorf("route %s: backend %d: url is required", r.ID, j)
			}
		}
		if !validLBPolicies[r.LoadBalancer.Policy] {
			return fmt.Errorf("route %s: invalid load_balancer.policy %q", r.ID, r.LoadBalancer.Policy)
		}
		if !validRateLimitAlgorithms[r.RateLimit.Algorithm] {
			return fmt.Errorf("route %s: invalid rate_limit.algorithm %q", r.ID, r.RateLimit.Algorithm)
		}
		if !validBackoffs[r.Retry.Backoff] {
			return fmt.Errorf("route %s: invalid retry.backoff %q", r.ID, r.Retry.Backoff)
		}
		for _, m := range r.Auth.Methods {
			if !validAuthMethods[m] {
				return fmt.Errorf("route %s: invalid auth method %q", r.ID, m)
			}
		}
	}

	for i, p := range cfg.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugin %d: name is required", i)
		}
	}

	for i, role := range cfg.ACL.Roles {
		if role.Name == "" {
			return fmt.Errorf("acl role %d: name is required", i)
		}
	}

	return nil
}
