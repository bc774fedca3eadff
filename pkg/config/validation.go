package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	names := make(map[string]bool)
	for i, sp := range cfg.Spaces {
		if names[sp.Name] {
			return fmt.Errorf("spaces[%d]: duplicate space name %q", i, sp.Name)
		}
		names[sp.Name] = true
	}

	if cfg.Metadata.Type == "sql" {
		if dsn, _ := cfg.Metadata.SQL["dsn"].(string); dsn == "" {
			return fmt.Errorf("metadata.sql: dsn is required")
		}
	}

	if cfg.Content.Type == "s3" {
		for _, key := range []string{"bucket", "region"} {
			if v, _ := cfg.Content.S3[key].(string); v == "" {
				return fmt.Errorf("content.s3: %s is required", key)
			}
		}
	}

	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port == 0 {
		return fmt.Errorf("server.metrics: port is required when metrics are enabled")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
