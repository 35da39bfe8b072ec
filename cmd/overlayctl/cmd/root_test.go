package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/louisbranch/overlay/internal/services/users/grant"
)

func TestNewClientDecodesSigningKey(t *testing.T) {
	restoreKey := signingKey
	restoreAddr := registryAddr
	defer func() {
		signingKey = restoreKey
		registryAddr = restoreAddr
	}()
	registryAddr = "http://localhost:8090"

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	signingKey = grant.EncodeKey(key)
	if _, err := newClient(); err != nil {
		t.Fatalf("new client: %v", err)
	}

	signingKey = "not-base64!"
	if _, err := newClient(); err == nil {
		t.Fatal("expected error for malformed key")
	}

	signingKey = ""
	if _, err := newClient(); err != nil {
		t.Fatalf("new client without key: %v", err)
	}
}

func TestIdentityRequiresOrigin(t *testing.T) {
	restore := origin
	defer func() { origin = restore }()

	origin = ""
	if _, err := identity(); err == nil {
		t.Fatal("expected error for missing origin")
	}

	origin = "acc-owner"
	id, err := identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.Origin != "acc-owner" {
		t.Fatalf("origin = %q, want acc-owner", id.Origin)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("OVERLAYCTL_TEST_VALUE", "from-env")
	if got := envOr("OVERLAYCTL_TEST_VALUE", "fallback"); got != "from-env" {
		t.Fatalf("envOr = %q, want from-env", got)
	}
	if got := envOr("OVERLAYCTL_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("envOr = %q, want fallback", got)
	}
}
