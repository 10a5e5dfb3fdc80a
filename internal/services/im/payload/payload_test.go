package payload

import (
	"testing"
	"time"
)

func TestKindRoutePaths(t *testing.T) {
	want := map[Kind]string{
		KindMessage:        "/im/route/message",
		KindRevokedMessage: "/im/route/revoked-message",
		KindSessionStatus:  "/im/route/session-status",
		KindKick:           "/im/route/kick",
	}
	for _, kind := range Kinds() {
		if got := kind.RoutePath(); got != want[kind] {
			t.Fatalf("%s.RoutePath() = %q, want %q", kind, got, want[kind])
		}
		if kind.EventName() == "" {
			t.Fatalf("%s has no event name", kind)
		}
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	if _, err := ParseKind("presence"); err == nil {
		t.Fatal("expected unknown kind error")
	}
	kind, err := ParseKind(" revoked-message ")
	if err != nil {
		t.Fatalf("parse kind: %v", err)
	}
	if kind != KindRevokedMessage {
		t.Fatalf("kind = %q, want %q", kind, KindRevokedMessage)
	}
}

func TestDecodeResolvesVariant(t *testing.T) {
	sentAt := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	data, err := Encode(ChatMessage{MessageID: "m-1", SessionID: "s-1", SenderUserID: "u-1", Body: "hi", SentAt: sentAt})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := Decode(KindMessage, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg, ok := decoded.(ChatMessage)
	if !ok {
		t.Fatalf("decoded type = %T, want ChatMessage", decoded)
	}
	if msg.Body != "hi" || !msg.SentAt.Equal(sentAt) {
		t.Fatalf("decoded message = %+v", msg)
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(KindKick, nil); err == nil {
		t.Fatal("expected empty body error")
	}
	if _, err := Decode(KindSessionStatus, []byte("{")); err == nil {
		t.Fatal("expected malformed body error")
	}
	if _, err := Decode(Kind("other"), []byte("{}")); err == nil {
		t.Fatal("expected unknown kind error")
	}
	if _, err := Encode(nil); err == nil {
		t.Fatal("expected nil payload error")
	}
}
