package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func decode(t *testing.T, value string) uuid.UUID {
	t.Helper()
	raw, err := encoding.DecodeString(strings.ToUpper(value))
	if err != nil {
		t.Fatalf("decode %q: %v", value, err)
	}
	parsed, err := uuid.FromBytes(raw)
	if err != nil {
		t.Fatalf("uuid from %q: %v", value, err)
	}
	return parsed
}

func TestNewIDIsLowercaseBase32UUIDv4(t *testing.T) {
	value, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(value) != 26 || strings.Contains(value, "=") {
		t.Fatalf("id = %q, want 26 unpadded characters", value)
	}
	if strings.Trim(value, "abcdefghijklmnopqrstuvwxyz234567") != "" {
		t.Fatalf("id = %q, want lowercase base32 alphabet", value)
	}

	parsed := decode(t, value)
	if parsed.Version() != 4 {
		t.Fatalf("version = %d, want 4", parsed.Version())
	}
	if parsed.Variant() != uuid.RFC4122 {
		t.Fatalf("variant = %v, want RFC4122", parsed.Variant())
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for range 64 {
		value := MustNewID()
		if _, ok := seen[value]; ok {
			t.Fatalf("duplicate id %q", value)
		}
		seen[value] = struct{}{}
	}
}
