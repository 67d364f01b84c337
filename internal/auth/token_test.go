package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	secret := []byte("secret")
	token, issued, err := Issue(secret, "cli_1", "dana-whitfield", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if claims.Sub != "cli_1" || claims.Slug != "dana-whitfield" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.JTI == "" || claims.JTI != issued.JTI {
		t.Fatalf("expected stable token id, got %q and %q", claims.JTI, issued.JTI)
	}
	if claims.Exp <= time.Now().Unix() {
		t.Fatalf("expected future expiry, got %d", claims.Exp)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	token, _, err := Issue(secret, "cli_1", "dana-whitfield", -time.Minute)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := Parse(secret, token); err != ErrExpiredToken {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	token, _, err := Issue(secret, "cli_1", "dana-whitfield", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	other, _, err := Issue(secret, "cli_2", "someone-else", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	swapped := strings.Split(other, ".")[0] + "." + strings.Split(token, ".")[1]
	if _, err := Parse(secret, swapped); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for swapped payload, got %v", err)
	}

	if _, err := Parse([]byte("wrong"), token); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken under wrong secret, got %v", err)
	}
	if _, err := Parse(secret, "not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for malformed token, got %v", err)
	}
}

func TestIssuedTokensAreUnique(t *testing.T) {
	secret := []byte("secret")
	a, _, err := Issue(secret, "cli_1", "dana-whitfield", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	b, _, err := Issue(secret, "cli_1", "dana-whitfield", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if a == b {
		t.Fatal("expected distinct tokens for the same client")
	}
	if HashToken(a) == HashToken(b) {
		t.Fatal("expected distinct session keys for the same client")
	}
}
