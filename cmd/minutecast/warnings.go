package main

import (
	"log"

	"github.com/minutecast/minutecast/internal/config"
)

// logConfigWarnings flags configurations that are valid but weaken the
// engine's delivery guarantees.
func logConfigWarnings(cfg config.Config) {
	if cfg.DatabaseURL == "" {
		log.Println("minutecast: WARNING [P0]: DATABASE_URL not set. " +
			"Job state lives in memory only and is lost on restart; the attempt audit trail is disabled.")
	}

	if !cfg.ReconcileEnabled {
		log.Println("minutecast: WARNING [P0]: RECONCILE_ENABLED=false. " +
			"A distribution whose goroutine fails to settle stays in_progress forever.")
	}

	if !cfg.MetricsEnabled {
		log.Println("minutecast: WARNING [P1]: METRICS_ENABLED=false. " +
			"Delivery outcomes and breaker states will not be observable.")
	}

	if cfg.TelegramToken == "" || cfg.EmailFrom == "" {
		log.Println("minutecast: INFO: single channel configured. " +
			"Recipients preferring the missing channel fail immediately; preference \"both\" cannot fail over.")
	}
}
