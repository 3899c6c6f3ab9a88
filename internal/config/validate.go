package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// At least one delivery channel must be configured.
	if cfg.TelegramToken == "" && cfg.EmailFrom == "" {
		errs = append(errs, ValidationError{
			Field:   "TELEGRAM_TOKEN/EMAIL_FROM",
			Message: "at least one delivery channel is required",
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"JOB_TIMEOUT", cfg.JobTimeoutStr},
		{"ATTEMPT_TIMEOUT", cfg.AttemptTimeoutStr},
		{"BACKOFF_BASE", cfg.BackoffBaseStr},
		{"BACKOFF_MAX", cfg.BackoffMaxStr},
		{"BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeoutStr},
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"RECONCILE_INTERVAL", cfg.ReconcileIntervalStr},
		{"RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr},
		{"RETENTION_TTL", cfg.RetentionTTLStr},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if parsed <= 0 {
			errs = append(errs, ValidationError{
				Field:   d.field,
				Message: "must be positive",
			})
		}
	}

	if cfg.BackoffBase > 0 && cfg.BackoffMax > 0 && cfg.BackoffMax < cfg.BackoffBase {
		errs = append(errs, ValidationError{
			Field:   "BACKOFF_MAX",
			Message: "must not be less than BACKOFF_BASE",
		})
	}

	if cfg.ReconcileThreshold > 0 && cfg.JobTimeout > 0 && cfg.ReconcileThreshold <= cfg.JobTimeout {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_THRESHOLD",
			Message: "must exceed JOB_TIMEOUT",
		})
	}

	if cfg.RetentionSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.RetentionSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "RETENTION_SCHEDULE",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
