package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestAuthenticator(t *testing.T, opts ...Option) *Authenticator {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	a, err := NewAuthenticator("secret", opts...)
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	return a
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestAuthenticateBearer(t *testing.T) {
	a := newTestAuthenticator(t)
	token, err := a.Issue("alice", connection.DeviceMobile, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")

	identity, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.UserID != "alice" {
		t.Fatalf("user = %q, want alice", identity.UserID)
	}
	if identity.DeviceType != string(connection.DeviceMobile) {
		t.Fatalf("device = %q, want %q", identity.DeviceType, connection.DeviceMobile)
	}
	if identity.Locale != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", identity.Locale)
	}
}

func TestAuthenticateDefaultsUnknownDevice(t *testing.T) {
	a := newTestAuthenticator(t)
	token, err := a.Issue("bob", "", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	identity, err := a.Authenticate(req)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.DeviceType != string(connection.DeviceUnknown) {
		t.Fatalf("device = %q, want %q", identity.DeviceType, connection.DeviceUnknown)
	}
	if identity.Locale != "en-US" {
		t.Fatalf("locale = %q, want en-US", identity.Locale)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	a := newTestAuthenticator(t, WithIssuer("imrelay"))
	other, err := NewAuthenticator("other-secret", WithIssuer("imrelay"), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	expired := newTestAuthenticator(t, WithIssuer("imrelay"), WithClock(func() time.Time { return fixedNow.Add(-2 * time.Hour) }))
	wrongIssuer := newTestAuthenticator(t, WithIssuer("someone-else"))

	mustIssue := func(a *Authenticator, userID string, ttl time.Duration) string {
		t.Helper()
		token, err := a.Issue(userID, connection.DeviceWeb, ttl)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		return token
	}
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "eve"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	tests := map[string]string{
		"missing":       "",
		"garbage":       "not-a-token",
		"wrong secret":  mustIssue(other, "alice", time.Hour),
		"expired":       mustIssue(expired, "alice", time.Hour),
		"wrong issuer":  mustIssue(wrongIssuer, "alice", time.Hour),
		"empty subject": mustIssue(a, " ", time.Hour),
		"alg none":      none,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			_, err := a.Authenticate(req)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := apperrors.CodeOf(err); code != apperrors.CodeUnauthenticated {
				t.Fatalf("code = %s, want %s", code, apperrors.CodeUnauthenticated)
			}
		})
	}
}

func TestTokenFromRequestPrecedence(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=from-query", nil)
	if got := TokenFromRequest(req); got != "from-query" {
		t.Fatalf("token = %q, want from-query", got)
	}
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "from-cookie"})
	if got := TokenFromRequest(req); got != "from-cookie" {
		t.Fatalf("token = %q, want from-cookie", got)
	}
	req.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(req); got != "from-header" {
		t.Fatalf("token = %q, want from-header", got)
	}
	req.Header.Set("Authorization", "Basic abc")
	if got := TokenFromRequest(req); got != "from-cookie" {
		t.Fatalf("token = %q, want from-cookie for non-bearer header", got)
	}
	if got := TokenFromRequest(nil); got != "" {
		t.Fatalf("token = %q, want empty for nil request", got)
	}
}
