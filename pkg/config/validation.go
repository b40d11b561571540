package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct validation tags and
// the cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid configuration: %s", describeFirst(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}
	if cfg.Queue.BackoffBase > cfg.Queue.BackoffMax {
		return fmt.Errorf("queue.backoff_base must not exceed queue.backoff_max")
	}
	return nil
}

// describeFirst renders the first validation error in config-file terms.
func describeFirst(errs validator.ValidationErrors) string {
	e := errs[0]
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", e.Namespace(), e.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", e.Namespace(), e.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", e.Namespace(), e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", e.Namespace(), e.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", e.Namespace(), e.Tag())
	}
}
