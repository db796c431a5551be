package authz

import (
	"testing"
	"time"

	"escrowflow/escrow"
)

func TestTokens_RoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	actor := escrow.Actor{ID: "buyer-1", Role: escrow.RoleBuyer}

	signed, err := tokens.Issue(actor)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, err := tokens.ParseActor(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != actor {
		t.Errorf("parsed actor = %+v, want %+v", got, actor)
	}
}

func TestTokens_RejectsWrongSecret(t *testing.T) {
	signed, err := NewTokens("secret-a", time.Hour).Issue(escrow.Actor{ID: "buyer-1", Role: escrow.RoleBuyer})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewTokens("secret-b", time.Hour).ParseActor(signed); err == nil {
		t.Fatalf("expected verification failure with wrong secret")
	}
}

func TestTokens_RejectsExpired(t *testing.T) {
	tokens := NewTokens("test-secret", -time.Hour)
	// negative ttl falls back to the default, so build a short-lived one
	short := &Tokens{secret: []byte("test-secret"), ttl: -time.Minute}
	signed, err := short.Issue(escrow.Actor{ID: "buyer-1", Role: escrow.RoleBuyer})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tokens.ParseActor(signed); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestTokens_RejectsUnknownRole(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	signed, err := tokens.Issue(escrow.Actor{ID: "buyer-1", Role: "superadmin"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := tokens.ParseActor(signed); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
}

func TestTokens_RejectsGarbage(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	if _, err := tokens.ParseActor("not-a-token"); err == nil {
		t.Fatalf("expected parse failure")
	}
}
