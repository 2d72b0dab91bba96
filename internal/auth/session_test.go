package auth

import (
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": "user-1", "exp": exp.Unix()})
	s, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func TestSession_PersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	s, err := NewSession(path)
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	if s.IsAuthenticated() {
		t.Fatalf("fresh session is authenticated")
	}
	if err := s.Save("opaque-token", &User{UserID: "user-1", Name: "Ann"}); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	again, err := NewSession(path)
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	if again.Token() != "opaque-token" || !again.IsAuthenticated() {
		t.Fatalf("reloaded token = %q, authenticated=%v", again.Token(), again.IsAuthenticated())
	}
	if u := again.User(); u == nil || u.Name != "Ann" {
		t.Fatalf("reloaded user = %+v", u)
	}

	if err := again.Logout(); err != nil {
		t.Fatalf("Logout returned error: %v", err)
	}
	third, err := NewSession(path)
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}
	if third.IsAuthenticated() {
		t.Fatalf("session survived logout")
	}
}

func TestSession_ExpiredJWTIsNotAuthenticated(t *testing.T) {
	s, _ := NewSession("")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.Save(signed(t, now.Add(time.Hour)), nil); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !s.IsAuthenticated() {
		t.Fatalf("valid JWT rejected")
	}
	if err := s.Save(signed(t, now.Add(-time.Hour)), nil); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if s.IsAuthenticated() {
		t.Fatalf("expired JWT accepted")
	}
}
