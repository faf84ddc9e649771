// Package auth signs and verifies admin session tokens and checks admin credentials.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every admin token.
const Issuer = "cinematic"

// Token validation errors
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the verified contents of an admin token.
type Claims struct {
	Subject   string    // Admin username
	IssuedAt  time.Time // When the token was issued
	ExpiresAt time.Time // When the token stops being accepted
}

// Option customizes a Signer.
type Option func(*Signer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// Signer issues and validates HS256 admin tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer keyed by secret. Tokens live for ttl.
func NewSigner(secret string, ttl time.Duration, opts ...Option) *Signer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for username.
func (s *Signer) Issue(username string) (string, Claims, error) {
	now := s.now().UTC().Truncate(time.Second)
	claims := Claims{Subject: username, IssuedAt: now, ExpiresAt: now.Add(s.ttl)}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   claims.Subject,
		Issuer:    Issuer,
		IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Validate verifies the signature, issuer and expiry of a token.
func (s *Signer) Validate(tokenString string) (Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &rc, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if rc.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	claims := Claims{Subject: rc.Subject, ExpiresAt: rc.ExpiresAt.Time}
	if rc.IssuedAt != nil {
		claims.IssuedAt = rc.IssuedAt.Time
	}
	return claims, nil
}
