package server

import (
	"testing"
	"time"
)

func TestMintAndVerifySessionToken(t *testing.T) {
	now := time.Now()
	token := mintSessionToken("u1", "secret", now)

	userID, ok := verifySessionToken(token, "secret")
	if !ok {
		t.Fatalf("verifySessionToken() ok = false, want true")
	}
	if userID != "u1" {
		t.Errorf("userID = %q, want u1", userID)
	}
}

func TestVerifySessionTokenRejectsBadSignature(t *testing.T) {
	token := mintSessionToken("u1", "secret", time.Now())
	if _, ok := verifySessionToken(token, "wrong-secret"); ok {
		t.Errorf("verifySessionToken() ok = true with wrong secret, want false")
	}
}

func TestVerifySessionTokenRejectsExpired(t *testing.T) {
	stale := time.Now().Add(-48 * time.Hour)
	token := mintSessionToken("u1", "secret", stale)
	if _, ok := verifySessionToken(token, "secret"); ok {
		t.Errorf("verifySessionToken() ok = true for expired token, want false")
	}
}

func TestVerifySessionTokenRejectsMalformed(t *testing.T) {
	for _, tok := range []string{"", "garbage", "a.b"} {
		if _, ok := verifySessionToken(tok, "secret"); ok {
			t.Errorf("verifySessionToken(%q) ok = true, want false", tok)
		}
	}
}
