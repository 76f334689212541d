package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for invalid values.
//
// Struct tags drive field-level validation (ranges, oneof sets, required
// fields); cross-field rules that tags cannot express are checked explicitly
// afterwards.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q validation (value: %v)",
					fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
		}
		return err
	}

	// Cross-field rules.
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry.profiling.endpoint is required when profiling is enabled")
	}
	if err := validateQualities(cfg.Pyramid.Qualities); err != nil {
		return err
	}

	return nil
}

// validateQualities enforces strictly increasing pyramid quality levels.
// Range checks are covered by struct tags; ordering is not expressible there.
func validateQualities(qualities []int) error {
	prev := 0
	for _, q := range qualities {
		if q <= prev {
			return fmt.Errorf("pyramid.qualities must be strictly increasing, got %v", qualities)
		}
		prev = q
	}
	return nil
}
