package requestctx

import (
	"context"
	"testing"
)

func TestIdentityRoundTrip(t *testing.T) {
	want := Identity{UserID: "user-42", DeviceType: "MOBILE", Locale: "pt-BR"}
	got, ok := IdentityFromContext(WithIdentity(context.Background(), want))
	if !ok {
		t.Fatal("expected identity in context")
	}
	if got != want {
		t.Fatalf("identity = %+v, want %+v", got, want)
	}
	if id := UserIDFromContext(WithIdentity(context.Background(), want)); id != "user-42" {
		t.Fatalf("UserIDFromContext = %q, want %q", id, "user-42")
	}
}

func TestIdentityFromContextEmpty(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity")
	}
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestIdentityFromContextNil(t *testing.T) {
	if got := UserIDFromContext(nil); got != "" {
		t.Fatalf("expected empty string for nil context, got %q", got)
	}
}

func TestWithIdentityNilContext(t *testing.T) {
	ctx := WithIdentity(nil, Identity{UserID: "user-99"})
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	if got := UserIDFromContext(ctx); got != "user-99" {
		t.Fatalf("UserIDFromContext = %q, want %q", got, "user-99")
	}
}
