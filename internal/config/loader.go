package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// envVarPattern matches ${VAR_NAME} for in-file expansion.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// envPrefix is the prefix environment-overlay variables must carry, e.g.
// GATEWAY_SERVER_ADDRESS overrides Server.Address.
const envPrefix = "GATEWAY_"

// Loader reads, expands, overlays, and validates gateway configuration.
type Loader struct{}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads a YAML config file, applies defaults/env overlay/validation.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses YAML bytes into a Config, expanding ${VAR} references,
// layering file values over DefaultConfig, then layering GATEWAY_*
// environment variables over the result (file > defaults, env > file).
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	applyEnvOverlay(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// applyEnvOverlay walks the small set of top-level scalar fields operators
// commonly override at deploy time; route-level overrides belong in the
// file, since they don't have a sane flat env-var naming scheme.
func applyEnvOverlay(cfg *Config) {
	overlay := map[string]func(string){
		"SERVER_ADDRESS":      func(v string) { cfg.Server.Address = v },
		"SERVER_READ_TIMEOUT": func(v string) { setDuration(&cfg.Server.ReadTimeout, v) },
		"SERVER_WRITE_TIMEOUT": func(v string) { setDuration(&cfg.Server.WriteTimeout, v) },
		"ADMIN_ADDRESS":   func(v string) { cfg.Admin.Address = v },
		"ADMIN_ENABLED":   func(v string) { setBool(&cfg.Admin.Enabled, v) },
		"LOGGING_LEVEL":   func(v string) { cfg.Logging.Level = v },
		"LOGGING_OUTPUT":  func(v string) { cfg.Logging.Output = v },
		"JWT_SECRET":      func(v string) { cfg.Authentication.JWT.Secret = v },
		"JWT_ISSUER":      func(v string) { cfg.Authentication.JWT.Issuer = v },
	}

	for _, env := range os.Environ() {
		k, v, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(k, envPrefix) {
			continue
		}
		key := strings.TrimPrefix(k, envPrefix)
		if fn, ok := overlay[key]; ok {
			fn(v)
		}
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}
