package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func TestIssueAndValidate(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	s := NewSigner("secret", time.Hour, WithClock(func() time.Time { return now }))

	token, issued, err := s.Issue("admin")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if !issued.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("Issue() expiresAt = %v, want %v", issued.ExpiresAt, now.Add(time.Hour))
	}

	claims, err := s.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("Validate() subject = %v, want %v", claims.Subject, "admin")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s := NewSigner("secret", time.Hour, WithClock(clock))
	token, _, _ := s.Issue("admin")

	now = now.Add(2 * time.Hour)
	if _, err := s.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Validate() error = %v, want ErrTokenExpired", err)
	}
}

func TestValidateRejectsForgedTokens(t *testing.T) {
	s := NewSigner("secret", time.Hour)
	other := NewSigner("other-secret", time.Hour)
	foreign, _, _ := other.Issue("admin")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "admin",
		Issuer:    Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	wrongIssuer, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "admin",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))

	token, _, _ := s.Issue("admin")
	tampered := token[:strings.LastIndex(token, ".")] + ".AAAA"

	tests := []struct{ name, token string }{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"alg none", unsigned},
		{"wrong issuer", wrongIssuer},
		{"tampered signature", tampered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Validate(tt.token); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("Validate() error = %v, want ErrTokenInvalid", err)
			}
		})
	}
}

func TestCredentials(t *testing.T) {
	c, err := NewCredentials("admin", "cinema2024", "")
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	if !c.Verify("admin", "cinema2024") {
		t.Errorf("Verify(admin, cinema2024) = false, want true")
	}
	if c.Verify("admin", "wrong") {
		t.Errorf("Verify(admin, wrong) = true, want false")
	}
	if c.Verify("root", "cinema2024") {
		t.Errorf("Verify(root, cinema2024) = true, want false")
	}
}

func TestCredentialsFromHash(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	c, err := NewCredentials("admin", "ignored", string(hash))
	if err != nil {
		t.Fatalf("NewCredentials() error = %v", err)
	}
	if !c.Verify("admin", "s3cret") {
		t.Errorf("Verify() with hash = false, want true")
	}
	if _, err := NewCredentials("admin", "", "not-a-hash"); err == nil {
		t.Errorf("NewCredentials() with malformed hash error = nil, want error")
	}
}
