package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// PasswordHashHeader carries the password digest on GET and DELETE requests.
const PasswordHashHeader = "X-Password-Hash"

var (
	ErrMissingPasswordHash = errors.New("password hash missing")
	ErrInvalidPassword     = errors.New("password hash mismatch")
)

// HashPassword returns the lowercase hex SHA-256 digest clients send instead of
// the password itself.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// PasswordGuard checks supplied digests against the configured shared secret.
// A guard built from an empty password accepts everything.
type PasswordGuard struct {
	digest string
}

func NewPasswordGuard(password string) *PasswordGuard {
	if password == "" {
		return &PasswordGuard{}
	}
	return &PasswordGuard{digest: HashPassword(password)}
}

// Required reports whether callers must present a digest.
func (g *PasswordGuard) Required() bool {
	return g != nil && g.digest != ""
}

// Check validates a supplied digest.
func (g *PasswordGuard) Check(supplied string) error {
	if !g.Required() {
		return nil
	}
	supplied = strings.TrimSpace(supplied)
	if supplied == "" {
		return ErrMissingPasswordHash
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(g.digest)) != 1 {
		return ErrInvalidPassword
	}
	return nil
}
