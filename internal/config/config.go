// Package config defines the gateway's configuration schema and the
// loader that turns a YAML file (plus environment overlay) into it.
package config

import "time"

// Config is the complete gateway configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Admin          AdminConfig          `yaml:"admin"`
	Logging        LoggingConfig        `yaml:"logging"`
	Authentication AuthenticationConfig `yaml:"authentication"`
	ACL            ACLConfig            `yaml:"acl"`
	Plugins        []PluginConfig       `yaml:"plugins"`
	Routes         []RouteConfig        `yaml:"routes"`
}

// ServerConfig defines the HTTP listener's transport settings.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	DrainTimeout    time.Duration `yaml:"drain_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// AdminConfig defines the admin/observability surface.
type AdminConfig struct {
	Enabled bool          `yaml:"enabled"`
	Address string        `yaml:"address"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig controls the /metrics endpoint's exported format.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Format  string `yaml:"format"` // prometheus, openmetrics, json
}

// LoggingConfig configures the zap-backed structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// AuthenticationConfig configures the providers a route's auth.methods
// list may reference by name.
type AuthenticationConfig struct {
	Basic  BasicAuthConfig  `yaml:"basic"`
	APIKey APIKeyConfig     `yaml:"api_key"`
	Bearer BearerAuthConfig `yaml:"bearer"`
	JWT    JWTConfig        `yaml:"jwt"`
	OAuth2 OAuth2Config     `yaml:"oauth2"`
}

// BasicAuthConfig configures HTTP Basic auth.
type BasicAuthConfig struct {
	Enabled bool              `yaml:"enabled"`
	Realm   string            `yaml:"realm"`
	Users   map[string]string `yaml:"users"` // username -> "salt:pbkdf2hash"
}

// APIKeyConfig configures API-key auth.
type APIKeyConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Header     string        `yaml:"header"`
	QueryParam string        `yaml:"query_param"`
	Keys       []APIKeyEntry `yaml:"keys"`
}

// APIKeyEntry is a single issued API key.
type APIKeyEntry struct {
	Key      string   `yaml:"key"`
	ClientID string   `yaml:"client_id"`
	Name     string   `yaml:"name"`
	Roles    []string `yaml:"roles"`
	ExpiresAt string  `yaml:"expires_at"` // RFC3339, empty = never
}

// BearerAuthConfig configures opaque bearer-token auth.
type BearerAuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

// JWTConfig configures JWT auth.
type JWTConfig struct {
	Enabled        bool              `yaml:"enabled"`
	Secret         string            `yaml:"secret"`
	PublicKey      string            `yaml:"public_key"`
	JWKSURL        string            `yaml:"jwks_url"`
	Issuer         string            `yaml:"issuer"`
	Audience       []string          `yaml:"audience"`
	Algorithm      string            `yaml:"algorithm"` // HS256/HS384/HS512/RS256/ES256...
	Leeway         time.Duration     `yaml:"leeway"`
	RequiredClaims map[string]string `yaml:"required_claims"`
}

// OAuth2Config configures the gateway's own Authorization-Code /
// Client-Credentials / Refresh-Token grant issuance.
type OAuth2Config struct {
	Enabled           bool          `yaml:"enabled"`
	Clients           []OAuthClient `yaml:"clients"`
	AuthCodeTTL       time.Duration `yaml:"auth_code_ttl"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL   time.Duration `yaml:"refresh_token_ttl"`
	RequirePKCE       bool          `yaml:"require_pkce"`
}

// OAuthClient is a registered OAuth2 client.
type OAuthClient struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURIs []string `yaml:"redirect_uris"`
	Scopes       []string `yaml:"scopes"`
}

// ACLConfig configures the role/policy-based authorization engine.
type ACLConfig struct {
	Enabled bool         `yaml:"enabled"`
	Roles   []ACLRole    `yaml:"roles"`
	Policies []ACLPolicy `yaml:"policies"`
}

// ACLRole is a named role with inheritance and direct permissions.
type ACLRole struct {
	Name        string           `yaml:"name"`
	Inherits    []string         `yaml:"inherits"`
	Permissions []ACLPermission  `yaml:"permissions"`
}

// ACLPermission grants (or denies) an action on a resource pattern.
type ACLPermission struct {
	Resource string `yaml:"resource"` // glob, e.g. "/api/users/**"
	Action   string `yaml:"action"`   // e.g. "read", "write", "*"
	Effect   string `yaml:"effect"`   // "allow" or "deny"
}

// ACLPolicy binds principals (roles or client IDs) to permissions with
// optional conditions, independent of role inheritance.
type ACLPolicy struct {
	Name       string            `yaml:"name"`
	Principals []string          `yaml:"principals"`
	Resources  []string          `yaml:"resources"`
	Actions    []string          `yaml:"actions"`
	Effect     string            `yaml:"effect"`
	Conditions []ACLCondition    `yaml:"conditions"`
}

// ACLCondition is one boolean test evaluated against request variables.
type ACLCondition struct {
	Variable string   `yaml:"variable"`
	Operator string   `yaml:"operator"` // equals, not_equals, in, not_in, contains
	Values   []string `yaml:"values"`
	Expr     string   `yaml:"expr"` // raw boolean expression, takes precedence if set
}

// PluginConfig registers a named plugin with a priority bucket.
type PluginConfig struct {
	Name     string         `yaml:"name"`
	Priority string         `yaml:"priority"` // highest, high, normal, low, lowest
	FailClosed bool         `yaml:"fail_closed"`
	Options  map[string]any `yaml:"options"`
}

// RouteConfig defines a single route and everything that governs how
// requests matching it are handled.
type RouteConfig struct {
	ID          string            `yaml:"id"`
	Path        string            `yaml:"path"`
	Methods     []string          `yaml:"methods"`
	Priority    int               `yaml:"priority"`
	StripPrefix bool              `yaml:"strip_prefix"`
	Timeout     time.Duration     `yaml:"timeout"`
	MaxBodySize int64             `yaml:"max_body_size"`
	PreserveHost bool             `yaml:"preserve_host"`

	Backends      []BackendConfig     `yaml:"backends"`
	LoadBalancer  LoadBalancerConfig  `yaml:"load_balancer"`
	HealthCheck   HealthCheckConfig   `yaml:"health_check"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry         RetryConfig         `yaml:"retry"`
	Auth          RouteAuthConfig     `yaml:"auth"`
	ACL           RouteACLConfig      `yaml:"acl"`
	Transform     TransformConfig     `yaml:"transform"`
}

// BackendConfig is one static upstream target.
type BackendConfig struct {
	URL           string `yaml:"url"`
	Weight        int    `yaml:"weight"`
	MaxConnections int   `yaml:"max_connections"`
}

// LoadBalancerConfig selects and parameterizes the balancing policy.
type LoadBalancerConfig struct {
	Policy string `yaml:"policy"` // round_robin, weighted_round_robin, least_connections,
	// weighted_least_connections, random, weighted_random, ip_hash, least_response_time, resource_based
}

// HealthCheckConfig configures active health probing for a route's backends.
type HealthCheckConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Type           string        `yaml:"type"` // tcp, http, https
	Path           string        `yaml:"path"`
	Method         string        `yaml:"method"`
	Interval       time.Duration `yaml:"interval"`
	Timeout        time.Duration `yaml:"timeout"`
	HealthyAfter   int           `yaml:"healthy_after"`
	UnhealthyAfter int           `yaml:"unhealthy_after"`
	ExpectedStatus []string      `yaml:"expected_status"`
}

// RateLimitConfig configures request throttling for a route.
type RateLimitConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Algorithm string        `yaml:"algorithm"` // token_bucket, leaky_bucket, fixed_window, sliding_window_counter, sliding_window_log
	Rate      float64       `yaml:"rate"`      // requests per period
	Period    time.Duration `yaml:"period"`
	Burst     int           `yaml:"burst"`
	KeyBy     string        `yaml:"key_by"` // ip, header:<name>, client_id, jwt_claim:<name>
}

// CircuitBreakerConfig configures per-route circuit breaking.
type CircuitBreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	SuccessThreshold    int           `yaml:"success_threshold"`
	Timeout             time.Duration `yaml:"timeout"`
	HalfOpenMaxCalls    int           `yaml:"half_open_max_calls"`
	ExcludeExceptionKinds []string    `yaml:"exclude_exception_kinds"`
}

// RetryConfig configures the retry-with-backoff policy layered above the
// proxy forwarder's own fast retry-on-status loop.
type RetryConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MaxRetries        int           `yaml:"max_retries"`
	Backoff           string        `yaml:"backoff"` // constant, linear, exponential, exponential_jitter, decorrelated_jitter
	InitialInterval   time.Duration `yaml:"initial_interval"`
	MaxInterval       time.Duration `yaml:"max_interval"`
	Multiplier        float64       `yaml:"multiplier"`
	RetryableStatuses []int         `yaml:"retryable_statuses"`
	RetryableMethods  []string      `yaml:"retryable_methods"`
	PerTryTimeout     time.Duration `yaml:"per_try_timeout"`
	Budget            BudgetConfig  `yaml:"budget"`
	Hedging           HedgingConfig `yaml:"hedging"`
}

// BudgetConfig caps the fraction of traffic that may be retried, to keep a
// struggling backend from being buried under its own retry storm.
type BudgetConfig struct {
	Ratio      float64       `yaml:"ratio"`       // max retries as a fraction of requests, e.g. 0.1
	MinRetries int           `yaml:"min_retries"` // always-allowed retries per second regardless of ratio
	Window     time.Duration `yaml:"window"`       // sliding window size
}

// HedgingConfig sends speculative duplicate requests to cut tail latency.
type HedgingConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxRequests int           `yaml:"max_requests"` // including the original
	Delay       time.Duration `yaml:"delay"`        // wait before firing a hedge
}

// RouteAuthConfig declares which auth providers a route accepts.
type RouteAuthConfig struct {
	Required bool     `yaml:"required"`
	Methods  []string `yaml:"methods"` // basic, api_key, bearer, jwt, oauth2, tried in order
}

// RouteACLConfig declares the resource/action this route represents for
// the ACL engine.
type RouteACLConfig struct {
	Resource string `yaml:"resource"`
	Action   string `yaml:"action"`
}

// TransformConfig defines request/response header rewriting.
type TransformConfig struct {
	RequestHeaders  HeaderTransform `yaml:"request_headers"`
	ResponseHeaders HeaderTransform `yaml:"response_headers"`
}

// HeaderTransform adds, sets, or removes headers.
type HeaderTransform struct {
	Add    map[string]string `yaml:"add"`
	Set    map[string]string `yaml:"set"`
	Remove []string          `yaml:"remove"`
}

// TransportConfig overlays non-zero fields onto the proxy's default HTTP
// transport settings for a named upstream. Pointer fields distinguish
// "not set" from the zero value for the corresponding bool.
type TransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout"`
	DisableKeepAlives     bool          `yaml:"disable_keep_alives"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	CAFile                string        `yaml:"ca_file"`
	CertFile              string        `yaml:"cert_file"`
	KeyFile               string        `yaml:"key_file"`
	ForceHTTP2            *bool         `yaml:"force_http2"`
	EnableHTTP3           *bool         `yaml:"enable_http3"`
}

// DefaultConfig returns a configuration with sensible defaults, used as
// the base layer before a file and environment overlay are applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			DrainTimeout:   15 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":8081",
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
				Format:  "prometheus",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Authentication: AuthenticationConfig{
			APIKey: APIKeyConfig{Header: "X-API-Key"},
			JWT:    JWTConfig{Algorithm: "HS256"},
			OAuth2: OAuth2Config{
				AuthCodeTTL:     10 * time.Minute,
				AccessTokenTTL:  1 * time.Hour,
				RefreshTokenTTL: 30 * 24 * time.Hour,
				RequirePKCE:     true,
			},
		},
	}
}
