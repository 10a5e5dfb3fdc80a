// Package auth verifies the HMAC-signed tokens clients present on the
// WebSocket handshake.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/platform/i18n"
	"github.com/louisbranch/imrelay/internal/platform/requestctx"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
)

const (
	// CookieName carries the token for browser clients.
	CookieName = "im_token"
	// QueryParam carries the token where headers cannot be set.
	QueryParam = "token"
)

// Claims is the token body.
type Claims struct {
	jwt.RegisteredClaims
	Device string `json:"device,omitempty"`
	Locale string `json:"locale,omitempty"`
}

// Authenticator verifies HS256 tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithIssuer requires tokens to carry iss.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) {
		a.issuer = strings.TrimSpace(issuer)
	}
}

// WithClock overrides the validation clock.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator returns an Authenticator keyed by secret.
func NewAuthenticator(secret string, opts ...Option) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	a := &Authenticator{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate resolves the caller of a handshake request.
func (a *Authenticator) Authenticate(r *http.Request) (requestctx.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return requestctx.Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "token is required")
	}
	claims, err := a.Verify(token)
	if err != nil {
		return requestctx.Identity{}, err
	}
	return requestctx.Identity{
		UserID:     claims.Subject,
		DeviceType: string(connection.ParseDeviceType(claims.Device)),
		Locale:     i18n.Negotiate(claims.Locale, r.Header.Get("Accept-Language")),
	}, nil
}

// Verify parses token and checks its signature, times and subject.
func (a *Authenticator) Verify(token string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithLeeway(5 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}
	claims.Subject = strings.TrimSpace(claims.Subject)
	if claims.Subject == "" {
		return Claims{}, apperrors.New(apperrors.CodeUnauthenticated, "token has no subject")
	}
	return claims, nil
}

// Issue signs a token for userID. A zero ttl issues a token without exp.
func (a *Authenticator) Issue(userID string, device connection.DeviceType, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   a.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Device: string(device),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest reads the bearer header, then the cookie, then the query.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryParam))
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token is expired", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token is not active yet", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token issuer mismatch", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token signature is invalid", err)
	default:
		return apperrors.Wrap(apperrors.CodeUnauthenticated, "token is malformed", err)
	}
}
