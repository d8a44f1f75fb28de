package auth

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ringdesk/ringdesk-backend/pkg/config"
)

func TestIssueAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "test-secret", Issuer: "ringdesk"}
	accountID := uuid.New()

	token, err := IssueAccessToken(cfg, accountID)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.AccountID != accountID {
		t.Fatalf("expected account %s, got %s", accountID, claims.AccountID)
	}
}

func TestParseAccessTokenRejectsWrongSecret(t *testing.T) {
	cfg := config.JWTConfig{Secret: "test-secret", Issuer: "ringdesk"}
	token, err := IssueAccessToken(cfg, uuid.New())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := ParseAccessToken(config.JWTConfig{Secret: "other", Issuer: "ringdesk"}, token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseAccessTokenRejectsWrongIssuer(t *testing.T) {
	token, err := IssueAccessToken(config.JWTConfig{Secret: "test-secret", Issuer: "someone-else"}, uuid.New())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := ParseAccessToken(config.JWTConfig{Secret: "test-secret", Issuer: "ringdesk"}, token); err == nil {
		t.Fatal("expected issuer error")
	}
}
