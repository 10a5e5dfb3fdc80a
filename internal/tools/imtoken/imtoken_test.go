package imtoken

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/imrelay/internal/services/im/auth"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("IM_JWT_SECRET", "env-secret")
	fs := flag.NewFlagSet("imtoken", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Bytes != 32 || cfg.TTL != time.Hour || cfg.Device != "WEB" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Secret != "env-secret" {
		t.Fatalf("secret = %q, want env value", cfg.Secret)
	}
}

func TestParseConfigBadArgs(t *testing.T) {
	fs := flag.NewFlagSet("imtoken", flag.ContinueOnError)
	fs.SetOutput(&bytes.Buffer{})
	if _, err := ParseConfig(fs, []string{"-invalid"}); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestRunWritesSecret(t *testing.T) {
	buf := &bytes.Buffer{}
	reader := bytes.NewReader([]byte{0x01, 0x02, 0x03, 0x04})
	if err := Run(Config{NewKey: true, Bytes: 4}, buf, reader); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "IM_JWT_SECRET=01020304" {
		t.Fatalf("output = %q", got)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, fmt.Errorf("read error") }

func TestRunSecretErrors(t *testing.T) {
	if err := Run(Config{NewKey: true, Bytes: 0}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for non-positive bytes")
	}
	if err := Run(Config{NewKey: true, Bytes: 4}, &bytes.Buffer{}, errReader{}); err == nil {
		t.Fatal("expected error from failing reader")
	}
	if err := Run(Config{NewKey: true, Bytes: 4}, nil, nil); err == nil {
		t.Fatal("expected error for nil output")
	}
}

func TestRunIssuesVerifiableToken(t *testing.T) {
	buf := &bytes.Buffer{}
	cfg := Config{Secret: "secret", Issuer: "imrelay", UserID: "alice", Device: "mobile", TTL: time.Minute}
	if err := Run(cfg, buf, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	verifier, err := auth.NewAuthenticator("secret", auth.WithIssuer("imrelay"))
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	claims, err := verifier.Verify(strings.TrimSpace(buf.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "alice" || claims.Device != "MOBILE" {
		t.Fatalf("claims = %q %q, want alice MOBILE", claims.Subject, claims.Device)
	}
}

func TestRunTokenRequiresUserAndSecret(t *testing.T) {
	if err := Run(Config{Secret: "secret"}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error without user")
	}
	if err := Run(Config{UserID: "alice"}, &bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error without secret")
	}
}
