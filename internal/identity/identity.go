// Package identity manages the locally persisted session identity: the
// session token, the display identity, and their expiry. The app's login
// flow writes this file; the realtime client only reads it, and clears it
// when the server force-terminates the session.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials is returned when no usable identity is persisted.
var ErrNoCredentials = errors.New("no persisted credentials")

// Credentials is the persisted session identity.
type Credentials struct {
	Token     string    `json:"token"`
	Identity  string    `json:"identity"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the credentials are complete and not expired.
func (c Credentials) Valid(now time.Time) bool {
	if c.Token == "" || c.Identity == "" {
		return false
	}
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Store reads and clears the persisted identity file.
type Store struct {
	path string

	mu sync.Mutex
}

// NewStore creates a Store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the identity file and returns the credentials. When the token
// parses as a JWT, the earlier of the stored expiry and the token's exp
// claim wins; the parse is unverified since validation is the server's job.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("read identity file: %w", err)
	}

	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse identity file: %w", err)
	}
	if c.Token == "" || c.Identity == "" {
		return Credentials{}, ErrNoCredentials
	}

	if exp, ok := tokenExpiry(c.Token); ok {
		if c.ExpiresAt.IsZero() || exp.Before(c.ExpiresAt) {
			c.ExpiresAt = exp
		}
	}
	return c, nil
}

// Save persists credentials. Exposed for the login flow and tests.
func (s *Store) Save(c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}

// Clear removes the persisted identity. Idempotent; a missing file is not
// an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove identity file: %w", err)
	}
	return nil
}

// tokenExpiry extracts the exp claim from a JWT session token.
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
