// Package gate implements the passcode confirmation step required before a
// mailing run is started. It is a confirmation speed bump, not access
// control.
package gate

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Gate errors
var (
	ErrPasscodeMismatch = errors.New("invalid passcode")
	ErrNotConfigured    = errors.New("confirmation passcode is not configured")
)

// Gate checks a typed passcode against a plain constant or a bcrypt hash.
type Gate struct {
	passcode []byte
	hash     []byte
}

// New creates a Gate. A non-empty hash takes precedence over passcode.
func New(passcode, hash string) *Gate {
	g := &Gate{}
	if hash != "" {
		g.hash = []byte(hash)
	} else if passcode != "" {
		g.passcode = []byte(passcode)
	}
	return g
}

// Check returns nil when input matches exactly.
func (g *Gate) Check(input string) error {
	switch {
	case g.hash != nil:
		if err := bcrypt.CompareHashAndPassword(g.hash, []byte(input)); err != nil {
			return ErrPasscodeMismatch
		}
		return nil
	case g.passcode != nil:
		if subtle.ConstantTimeCompare(g.passcode, []byte(input)) != 1 {
			return ErrPasscodeMismatch
		}
		return nil
	default:
		return ErrNotConfigured
	}
}

// Hash returns a bcrypt hash suitable for gate.passcode_hash.
func Hash(passcode string) (string, error) {
	if passcode == "" {
		return "", fmt.Errorf("passcode must not be empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash passcode: %w", err)
	}
	return string(h), nil
}
