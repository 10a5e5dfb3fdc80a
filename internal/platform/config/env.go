package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
//
// Fields tagged `required` fail the parse when the variable is unset, so
// commands surface missing secrets before any listener starts.
func ParseEnv(target any) error {
	if target == nil {
		return fmt.Errorf("parse env: target is required")
	}
	if err := env.ParseWithOptions(target, env.Options{}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
