package config

import (
	"testing"
	"time"
)

func TestMergeNonZeroScalars(t *testing.T) {
	base := ServerConfig{Address: ":8080", ReadTimeout: 10 * time.Second}
	overlay := ServerConfig{ReadTimeout: 20 * time.Second}

	merged := MergeNonZero(base, overlay)
	if merged.Address != ":8080" {
		t.Errorf("Address = %q, want base preserved", merged.Address)
	}
	if merged.ReadTimeout != 20*time.Second {
		t.Errorf("ReadTimeout = %v, want overlay value", merged.ReadTimeout)
	}
}

func TestMergeNonZeroNestedStruct(t *testing.T) {
	base := Config{
		Server:  ServerConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
	overlay := Config{
		Logging: LoggingConfig{Level: "debug"},
	}

	merged := MergeNonZero(base, overlay)
	if merged.Server.Address != ":8080" {
		t.Errorf("Server.Address should be preserved from base")
	}
	if merged.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", merged.Logging.Level)
	}
}

func TestMergeNonZeroSliceReplacesWhenNonEmpty(t *testing.T) {
	base := Config{Routes: []RouteConfig{{ID: "base-route"}}}
	overlay := Config{Routes: []RouteConfig{{ID: "overlay-route"}}}

	merged := MergeNonZero(base, overlay)
	if len(merged.Routes) != 1 || merged.Routes[0].ID != "overlay-route" {
		t.Errorf("expected overlay routes to replace base, got %+v", merged.Routes)
	}
}

func TestMergeNonZeroEmptySliceKeepsBase(t *testing.T) {
	base := Config{Routes: []RouteConfig{{ID: "base-route"}}}
	overlay := Config{}

	merged := MergeNonZero(base, overlay)
	if len(merged.Routes) != 1 || merged.Routes[0].ID != "base-route" {
		t.Errorf("expected base routes preserved when overlay empty, got %+v", merged.Routes)
	}
}
