// Package gate authorizes writes to the verification registry with a single
// shared secret.
package gate

import (
	"crypto/subtle"

	"civverify/internal/platform/config"
	dErrors "civverify/pkg/domain-errors"
)

// Gate compares a presented token against the configured secret.
//
// A Gate built in insecure mode admits every write. This exists so a fresh
// loopback-only install works with the default token; config refuses to start
// that mode on any other address.
type Gate struct {
	secret   []byte
	insecure bool
}

// FromConfig returns the gate cfg asks for: open when CIV_TOKEN is the
// default token, enforcing it otherwise.
func FromConfig(cfg config.Server) *Gate {
	if cfg.InsecureMode() {
		return NewInsecure()
	}
	return New(cfg.CivToken)
}

// New returns a Gate enforcing secret.
func New(secret string) *Gate {
	return &Gate{secret: []byte(secret)}
}

// NewInsecure returns a Gate that admits every write.
func NewInsecure() *Gate {
	return &Gate{insecure: true}
}

// Insecure reports whether the gate is open.
func (g *Gate) Insecure() bool {
	return g.insecure
}

// Authorize returns a CodeUnauthorized error unless token equals the secret
// byte for byte.
func (g *Gate) Authorize(token string) error {
	if g.insecure {
		return nil
	}
	// Use constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(token), g.secret) != 1 {
		return dErrors.New(dErrors.CodeUnauthorized, "Invalid token")
	}
	return nil
}
