// Package imtoken generates IM signing secrets and issues development tokens.
package imtoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	entrypoint "github.com/louisbranch/imrelay/internal/platform/cmd"
	"github.com/louisbranch/imrelay/internal/services/im/auth"
	"github.com/louisbranch/imrelay/internal/services/im/connection"
)

// Config holds configuration for secret generation or token issuance.
type Config struct {
	Secret string `env:"IM_JWT_SECRET"`
	Issuer string `env:"IM_JWT_ISSUER"`
	NewKey bool
	Bytes  int
	UserID string
	Device string
	TTL    time.Duration
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Bytes: 32, Device: string(connection.DeviceWeb), TTL: time.Hour}
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.BoolVar(&cfg.NewKey, "new-secret", cfg.NewKey, "print a fresh IM_JWT_SECRET instead of a token")
	fs.IntVar(&cfg.Bytes, "bytes", cfg.Bytes, "number of random secret bytes")
	fs.StringVar(&cfg.UserID, "user", cfg.UserID, "token subject")
	fs.StringVar(&cfg.Device, "device", cfg.Device, "device type claim (WEB, MOBILE, DESKTOP, PAD)")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime (0 never expires)")
	fs.StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "token issuer")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run writes either a secret env line or a signed token to out.
func Run(cfg Config, out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if cfg.NewKey {
		return writeSecret(cfg.Bytes, out, reader)
	}

	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return errors.New("user is required")
	}
	authenticator, err := auth.NewAuthenticator(cfg.Secret, auth.WithIssuer(cfg.Issuer))
	if err != nil {
		return err
	}
	token, err := authenticator.Issue(userID, connection.ParseDeviceType(cfg.Device), cfg.TTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func writeSecret(size int, out io.Writer, reader io.Reader) error {
	if size <= 0 {
		return errors.New("bytes must be greater than zero")
	}
	if reader == nil {
		reader = rand.Reader
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return fmt.Errorf("generate random bytes: %w", err)
	}
	_, err := fmt.Fprintf(out, "IM_JWT_SECRET=%s\n", hex.EncodeToString(buf))
	return err
}
