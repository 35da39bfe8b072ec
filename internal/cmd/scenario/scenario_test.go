package scenario

import (
	"context"
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("scenario", flag.ContinueOnError)

	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "http://localhost:8090" {
		t.Fatalf("addr = %q, want http://localhost:8090", cfg.Addr)
	}
	if !cfg.Assertions {
		t.Fatal("expected assertions to default to true")
	}
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("timeout = %s, want 10s", cfg.Timeout)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("OVERLAY_USERS_ADDR", "http://registry:9000")
	t.Setenv("OVERLAY_USERS_SCENARIO_ASSERT", "false")

	fs := flag.NewFlagSet("scenario", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-scenario", "smoke.lua", "-timeout", "2s"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "http://registry:9000" {
		t.Fatalf("addr = %q, want http://registry:9000", cfg.Addr)
	}
	if cfg.Assertions {
		t.Fatal("expected assertions to be disabled")
	}
	if cfg.Scenario != "smoke.lua" {
		t.Fatalf("scenario = %q, want smoke.lua", cfg.Scenario)
	}
	if cfg.Timeout != 2*time.Second {
		t.Fatalf("timeout = %s, want 2s", cfg.Timeout)
	}
}

func TestRunValidatesConfig(t *testing.T) {
	err := Run(context.Background(), Config{}, nil, nil)
	if err == nil || err.Error() != "scenario path is required" {
		t.Fatalf("error = %v, want scenario path is required", err)
	}

	err = Run(context.Background(), Config{Scenario: "smoke.lua"}, nil, nil)
	if err == nil || err.Error() != "OVERLAY_USERS_GRANT_PRIVATE_KEY is required" {
		t.Fatalf("error = %v, want signing key required", err)
	}

	err = Run(context.Background(), Config{Scenario: "smoke.lua", SigningKey: "not-base64!"}, nil, nil)
	if err == nil {
		t.Fatal("expected error for malformed signing key")
	}
}
