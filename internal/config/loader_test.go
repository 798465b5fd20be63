package config

import (
	"os"
	"testing"
	"time"
)

const minimalYAML = `
server:
  address: ":9090"
routes:
  - id: users
    path: /api/users/*
    methods: [GET]
    backends:
      - url: http://127.0.0.1:9001
`

func TestParseAppliesDefaults(t *testing.T) {
	l := NewLoader()
	cfg, err := l.Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("Server.Address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout default not applied: %v", cfg.Server.ReadTimeout)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].ID != "users" {
		t.Fatalf("unexpected routes: %+v", cfg.Routes)
	}
}

func TestParseExpandsEnvVars(t *testing.T) {
	os.Setenv("TEST_GW_ADDR", ":7777")
	defer os.Unsetenv("TEST_GW_ADDR")

	yamlData := `
server:
  address: "${TEST_GW_ADDR}"
routes:
  - id: a
    path: /a
    backends: [{url: "http://localhost:1"}]
`
	cfg, err := NewLoader().Parse([]byte(yamlData))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Errorf("Address = %q, want :7777 (expanded from env)", cfg.Server.Address)
	}
}

func TestEnvOverlayTakesPrecedenceOverFile(t *testing.T) {
	os.Setenv("GATEWAY_SERVER_ADDRESS", ":6000")
	defer os.Unsetenv("GATEWAY_SERVER_ADDRESS")

	cfg, err := NewLoader().Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.Address != ":6000" {
		t.Errorf("env overlay did not win: got %q", cfg.Server.Address)
	}
}

func TestValidateRejectsMissingBackend(t *testing.T) {
	bad := `
server: {address: ":8080"}
routes:
  - id: x
    path: /x
`
	if _, err := NewLoader().Parse([]byte(bad)); err == nil {
		t.Fatal("expected validation error for route with no backends")
	}
}

func TestValidateRejectsDuplicateRouteID(t *testing.T) {
	bad := `
server: {address: ":8080"}
routes:
  - id: dup
    path: /a
    backends: [{url: "http://localhost:1"}]
  - id: dup
    path: /b
    backends: [{url: "http://localhost:2"}]
`
	if _, err := NewLoader().Parse([]byte(bad)); err == nil {
		t.Fatal("expected validation error for duplicate route id")
	}
}

func TestValidateRejectsBadLoadBalancerPolicy(t *testing.T) {
	bad := `
server: {address: ":8080"}
routes:
  - id: x
    path: /x
    backends: [{url: "http://localhost:1"}]
    load_balancer: {policy: "not_a_policy"}
`
	if _, err := NewLoader().Parse([]byte(bad)); err == nil {
		t.Fatal("expected validation error for invalid load balancer policy")
	}
}
