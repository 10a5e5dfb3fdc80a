// Package requestctx carries authenticated caller identity through request contexts.
package requestctx

import "context"

// Identity is the authenticated caller of a client-facing request.
type Identity struct {
	UserID     string
	DeviceType string
	Locale     string
}

type identityContextKey struct{}

// WithIdentity stores the caller identity in context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the caller identity stored in context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}

// UserIDFromContext returns the user identifier stored in context.
func UserIDFromContext(ctx context.Context) string {
	identity, _ := IdentityFromContext(ctx)
	return identity.UserID
}
