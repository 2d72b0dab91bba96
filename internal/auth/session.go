package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

// User is the logged-in identity returned by the API.
type User struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type persisted struct {
	Token string `json:"token"`
	User  *User  `json:"user,omitempty"`
}

// Session holds the bearer token. It is persisted to path when path is set.
type Session struct {
	mu    sync.RWMutex
	path  string
	token string
	user  *User
	now   func() time.Time
}

// NewSession loads the session stored at path; a missing file means logged out.
func NewSession(path string) (*Session, error) {
	s := &Session{path: path, now: time.Now}
	if path == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var p persisted
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	s.token = p.Token
	s.user = p.User
	return s, nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsAuthenticated reports a present token that, when it is a JWT, has not expired.
// Tokens that do not parse as JWTs are treated as opaque and accepted.
func (s *Session) IsAuthenticated() bool {
	tok := s.Token()
	if tok == "" {
		return false
	}
	parsed, _, err := new(jwt.Parser).ParseUnverified(tok, jwt.MapClaims{})
	if err != nil {
		return true
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return true
	}
	return claims.VerifyExpiresAt(s.now().Unix(), false)
}

// Save stores the token and user and persists them.
func (s *Session) Save(token string, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.user = user
	return s.persistLocked()
}

// Logout clears the session and removes the persisted file.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = nil
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session: %w", err)
	}
	return nil
}

func (s *Session) persistLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.Marshal(persisted{Token: s.token, User: s.user})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
