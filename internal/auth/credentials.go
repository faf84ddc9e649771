package auth

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Credentials holds the admin username and bcrypt password hash.
type Credentials struct {
	username string
	hash     []byte
}

// NewCredentials builds admin credentials. A non-empty passwordHash is used
// as is; otherwise password is hashed.
func NewCredentials(username, password, passwordHash string) (*Credentials, error) {
	if passwordHash != "" {
		if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
			return nil, fmt.Errorf("admin password hash: %w", err)
		}
		return &Credentials{username: username, hash: []byte(passwordHash)}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	return &Credentials{username: username, hash: hash}, nil
}

// Verify reports whether username and password match. The password is
// always checked so a wrong username takes as long as a wrong password.
func (c *Credentials) Verify(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(c.username), []byte(username)) == 1
	passOK := bcrypt.CompareHashAndPassword(c.hash, []byte(password)) == nil
	return userOK && passOK
}
