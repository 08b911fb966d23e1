package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear relevant envs
	for _, k := range []string{"PORT", "GRPC_PORT", "LOG_LEVEL", "SDK_SCRIPT_URL", "SDK_LOAD_TIMEOUT", "JOURNAL_MAX_EVENTS"} {
		t.Setenv(k, "")
	}

	c := Load()

	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Server.GRPCPort != "9090" {
		t.Fatalf("expected default grpc port 9090, got %q", c.Server.GRPCPort)
	}
	if c.Server.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
	}
	if c.SDK.LoadTimeout != 10*time.Second {
		t.Fatalf("expected default load timeout 10s, got %s", c.SDK.LoadTimeout)
	}
	if c.Journal.MaxEvents != 200 {
		t.Fatalf("expected default journal cap 200, got %d", c.Journal.MaxEvents)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SDK_SCRIPT_URL", "https://cdn.example.com/sdk.js")
	t.Setenv("SDK_DIAL_TIMEOUT", "3s")
	t.Setenv("JOURNAL_MAX_EVENTS", "50")

	c := Load()

	if c.Server.Port != "9999" {
		t.Fatalf("expected port from env, got %q", c.Server.Port)
	}
	if c.SDK.ScriptURL != "https://cdn.example.com/sdk.js" {
		t.Fatalf("unexpected script url %q", c.SDK.ScriptURL)
	}
	if c.SDK.DialTimeout != 3*time.Second {
		t.Fatalf("expected dial timeout 3s, got %s", c.SDK.DialTimeout)
	}
	if c.Journal.MaxEvents != 50 {
		t.Fatalf("expected journal cap 50, got %d", c.Journal.MaxEvents)
	}
}
