package route

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	apperrors "github.com/louisbranch/imrelay/internal/platform/errors"
	"github.com/louisbranch/imrelay/internal/services/im/payload"
)

func TestForwardPostsEnvelopeToKindRoute(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var got Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/internal/im/route/revoked-message" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/internal/im/route/revoked-message")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	env, err := NewEnvelope(Target{
		SessionID:    "s-1",
		UserID:       "u-2",
		DeviceType:   "MOBILE",
		ConnectionID: "c-9",
		Metadata:     map[string]string{"locale": "en-US"},
	}, payload.RevokeCommand{MessageID: "m-1", SessionID: "s-1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}

	client := NewClient("internal/")
	if err := client.Forward(context.Background(), strings.TrimPrefix(srv.URL, "http://"), env); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if got.ReceiveUserID != "u-2" || got.ReceiveClientDeviceType != "MOBILE" {
		t.Fatalf("envelope = %+v", got)
	}
	if got.ConnectionID() != "c-9" {
		t.Fatalf("connection id = %q, want %q", got.ConnectionID(), "c-9")
	}
	if got.Metadata["locale"] != "en-US" {
		t.Fatalf("metadata = %v", got.Metadata)
	}
}

func TestForwardMapsErrorBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMisdirectedRequest)
		_ = json.NewEncoder(w).Encode(ErrorBody{Code: apperrors.CodeRouteNotLocal, Message: "target is not local"})
	}))
	defer srv.Close()

	env, err := NewEnvelope(Target{SessionID: "s-1", UserID: "u-1"}, payload.ChatMessage{MessageID: "m-1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	err = NewClient("/internal").Forward(context.Background(), strings.TrimPrefix(srv.URL, "http://"), env)
	if apperrors.CodeOf(err) != apperrors.CodeRouteNotLocal {
		t.Fatalf("error code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeRouteNotLocal)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want exactly one attempt", calls.Load())
	}
}

func TestForwardUnreachableNode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	env, err := NewEnvelope(Target{SessionID: "s-1", UserID: "u-1"}, payload.Kick{ConnectionID: "c-1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	err = NewClient("").Forward(context.Background(), addr, env)
	if !errors.Is(err, apperrors.New(apperrors.CodeRouteDeliveryFailed, "")) {
		t.Fatalf("forward error = %v, want delivery failure", err)
	}
}

func TestForwardRequiresNodeAddress(t *testing.T) {
	t.Parallel()

	env, err := NewEnvelope(Target{SessionID: "s-1", UserID: "u-1"}, payload.Kick{ConnectionID: "c-1"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	err = NewClient("").Forward(context.Background(), " ", env)
	if apperrors.CodeOf(err) != apperrors.CodeRouteTargetNotFound {
		t.Fatalf("error code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeRouteTargetNotFound)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	if err := (Envelope{}).Validate(); err == nil {
		t.Fatal("expected missing session error")
	}
	if err := (Envelope{SessionID: "s"}).Validate(); err == nil {
		t.Fatal("expected missing user error")
	}
	if err := (Envelope{SessionID: "s", ReceiveUserID: "u"}).Validate(); err == nil {
		t.Fatal("expected missing payload error")
	}
	if err := (Envelope{SessionID: "s", ReceiveUserID: "u", Payload: json.RawMessage(`{}`)}).Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()

	cases := map[string]string{"": "", "/": "", "internal": "/internal", "/internal/": "/internal", " /a/b ": "/a/b"}
	for in, want := range cases {
		if got := NormalizePrefix(in); got != want {
			t.Fatalf("NormalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
