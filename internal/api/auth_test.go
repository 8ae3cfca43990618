package api

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateAndValidateToken(t *testing.T) {
	secret := []byte("s3cret")
	token, err := GenerateToken("ops", secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ValidateToken(token, secret)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("expected subject ops, got %s", claims.Subject)
	}
	if claims.ExpiresAt-claims.IssuedAt != int64(time.Hour/time.Second) {
		t.Errorf("unexpected validity window %d..%d", claims.IssuedAt, claims.ExpiresAt)
	}
}

func TestValidateTokenErrors(t *testing.T) {
	secret := []byte("s3cret")

	expired, _ := GenerateToken("ops", secret, -time.Minute)
	if _, err := ValidateToken(expired, secret); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}

	other, _ := GenerateToken("ops", []byte("other"), time.Hour)
	if _, err := ValidateToken(other, secret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}

	if _, err := ValidateToken("garbage", secret); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for garbage, got %v", err)
	}

	if _, err := GenerateToken("ops", nil, time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
		err    error
	}{
		{name: "header", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "query", query: "?token=xyz", want: "xyz"},
		{name: "missing", err: ErrMissingToken},
		{name: "wrong scheme", header: "Basic abc", err: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/tiers"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := bearerToken(req)
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected error %v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClaimsFromEmptyContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if _, err := ClaimsFrom(req.Context()); !errors.Is(err, ErrMissingToken) {
		t.Errorf("expected ErrMissingToken, got %v", err)
	}
}
