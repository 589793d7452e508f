package auth

import (
	"testing"
	"time"
)

func TestSignAndParseJWT(t *testing.T) {
	tok, err := SignJWT("test-secret", "user-1", time.Hour)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	cl, err := ParseJWT("test-secret", tok)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cl.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", cl.UserID)
	}
}

func TestParseJWTWrongSecret(t *testing.T) {
	tok, _ := SignJWT("test-secret", "user-1", time.Hour)
	if _, err := ParseJWT("other-secret", tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseJWTExpired(t *testing.T) {
	tok, _ := SignJWT("test-secret", "user-1", -time.Minute)
	if _, err := ParseJWT("test-secret", tok); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseJWTGarbage(t *testing.T) {
	if _, err := ParseJWT("test-secret", "not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
