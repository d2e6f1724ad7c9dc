package httpapi

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestAuthConfigKeyMatches(t *testing.T) {
	plain := AuthConfig{APIKey: "secret-key"}
	if !plain.keyMatches("secret-key") {
		t.Fatalf("expected plain key to match")
	}
	if plain.keyMatches("wrong") {
		t.Fatalf("expected wrong key to be rejected")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("generate hash: %v", err)
	}
	hashed := AuthConfig{APIKeyHash: string(hash)}
	if !hashed.keyMatches("secret-key") {
		t.Fatalf("expected hashed key to match")
	}
	if hashed.keyMatches("wrong") {
		t.Fatalf("expected wrong key to be rejected against hash")
	}

	// The plain key takes precedence when both are configured.
	both := AuthConfig{APIKey: "secret-key", APIKeyHash: string(hash)}
	if !both.keyMatches("secret-key") {
		t.Fatalf("expected plain key match with both configured")
	}
}

func TestAuthConfigDisabled(t *testing.T) {
	if (AuthConfig{}).enabled() {
		t.Fatalf("empty config must disable auth")
	}
	if !(AuthConfig{APIKey: "k"}).enabled() {
		t.Fatalf("plain key must enable auth")
	}
	if !(AuthConfig{APIKeyHash: "h"}).enabled() {
		t.Fatalf("hash must enable auth")
	}
}
