package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the minutecast application.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// TelegramToken: empty disables the direct-message channel.
	TelegramToken     string `json:"telegram_token,omitempty"`
	TelegramRateLimit int    `json:"telegram_rate_limit"`

	// EmailFrom: empty disables the email channel. AWS credentials and
	// region come from the SDK default chain.
	EmailFrom      string `json:"email_from,omitempty"`
	EmailRateLimit int    `json:"email_rate_limit"`

	BatchSize          int `json:"batch_size"`
	ChannelConcurrency int `json:"channel_concurrency"`

	JobTimeout    time.Duration `json:"-"`
	JobTimeoutStr string        `json:"job_timeout"`

	MaxRetries        int           `json:"max_retries"`
	AttemptTimeout    time.Duration `json:"-"`
	AttemptTimeoutStr string        `json:"attempt_timeout"`
	BackoffBase       time.Duration `json:"-"`
	BackoffBaseStr    string        `json:"backoff_base"`
	BackoffMax        time.Duration `json:"-"`
	BackoffMaxStr     string        `json:"backoff_max"`

	BreakerWindowSize       int           `json:"breaker_window_size"`
	BreakerFailureThreshold float64       `json:"breaker_failure_threshold"`
	BreakerMinSamples       int           `json:"breaker_min_samples"`
	BreakerResetTimeout     time.Duration `json:"-"`
	BreakerResetTimeoutStr  string        `json:"breaker_reset_timeout"`
	BreakerTrialLimit       int           `json:"breaker_trial_limit"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the coordinator's job timeout so the
	// reconciler only settles jobs whose goroutine is truly gone.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	RetentionSchedule string        `json:"retention_schedule"`
	RetentionTTL      time.Duration `json:"-"`
	RetentionTTLStr   string        `json:"retention_ttl"`

	// Kafka settings are only used by the worker binary.
	KafkaBrokers string `json:"kafka_brokers,omitempty"`
	KafkaTopic   string `json:"kafka_topic"`
	KafkaGroupID string `json:"kafka_group_id"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		TelegramToken:          os.Getenv("TELEGRAM_TOKEN"),
		EmailFrom:              os.Getenv("EMAIL_FROM"),
		JobTimeoutStr:          os.Getenv("JOB_TIMEOUT"),
		AttemptTimeoutStr:      os.Getenv("ATTEMPT_TIMEOUT"),
		BackoffBaseStr:         os.Getenv("BACKOFF_BASE"),
		BackoffMaxStr:          os.Getenv("BACKOFF_MAX"),
		BreakerResetTimeoutStr: os.Getenv("BREAKER_RESET_TIMEOUT"),
		DBOpTimeoutStr:         os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:   os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:            os.Getenv("METRICS_PATH"),
		ReconcileEnabled:       os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:   os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr:  os.Getenv("RECONCILE_THRESHOLD"),
		RetentionSchedule:      os.Getenv("RETENTION_SCHEDULE"),
		RetentionTTLStr:        os.Getenv("RETENTION_TTL"),
		KafkaBrokers:           os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:             os.Getenv("KAFKA_TOPIC"),
		KafkaGroupID:           os.Getenv("KAFKA_GROUP_ID"),
	}

	cfg.TelegramRateLimit = loadInt("TELEGRAM_RATE_LIMIT", 25)
	cfg.EmailRateLimit = loadInt("EMAIL_RATE_LIMIT", 14)
	cfg.BatchSize = loadInt("BATCH_SIZE", 50)
	cfg.ChannelConcurrency = loadInt("CHANNEL_CONCURRENCY", 20)
	cfg.MaxRetries = loadInt("MAX_RETRIES", 3)
	cfg.BreakerWindowSize = loadInt("BREAKER_WINDOW_SIZE", 20)
	cfg.BreakerMinSamples = loadInt("BREAKER_MIN_SAMPLES", 10)
	cfg.BreakerTrialLimit = loadInt("BREAKER_TRIAL_LIMIT", 1)
	cfg.DBMaxOpenConns = loadInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = loadInt("DB_MAX_IDLE_CONNS", 5)

	cfg.BreakerFailureThreshold = 0.5
	if thresholdStr := os.Getenv("BREAKER_FAILURE_THRESHOLD"); thresholdStr != "" {
		if f, err := strconv.ParseFloat(thresholdStr, 64); err == nil && f > 0 && f <= 1 {
			cfg.BreakerFailureThreshold = f
		} else {
			log.Printf("config: invalid BREAKER_FAILURE_THRESHOLD %q (must be in (0,1]), using default 0.5", thresholdStr)
		}
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.JobTimeoutStr == "" {
		cfg.JobTimeoutStr = "15m"
	}
	if cfg.AttemptTimeoutStr == "" {
		cfg.AttemptTimeoutStr = "30s"
	}
	if cfg.BackoffBaseStr == "" {
		cfg.BackoffBaseStr = "1s"
	}
	if cfg.BackoffMaxStr == "" {
		cfg.BackoffMaxStr = "5s"
	}
	if cfg.BreakerResetTimeoutStr == "" {
		cfg.BreakerResetTimeoutStr = "30s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "20m"
	}
	if cfg.RetentionSchedule == "" {
		cfg.RetentionSchedule = "@hourly"
	}
	if cfg.RetentionTTLStr == "" {
		cfg.RetentionTTLStr = "24h"
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "minutecast.distributions"
	}
	if cfg.KafkaGroupID == "" {
		cfg.KafkaGroupID = "minutecast-worker"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.JobTimeoutStr); err == nil {
		cfg.JobTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AttemptTimeoutStr); err == nil {
		cfg.AttemptTimeout = d
	}
	if d, err := time.ParseDuration(cfg.BackoffBaseStr); err == nil {
		cfg.BackoffBase = d
	}
	if d, err := time.ParseDuration(cfg.BackoffMaxStr); err == nil {
		cfg.BackoffMax = d
	}
	if d, err := time.ParseDuration(cfg.BreakerResetTimeoutStr); err == nil {
		cfg.BreakerResetTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.RetentionTTLStr); err == nil {
		cfg.RetentionTTL = d
	}

	return cfg
}

// loadInt reads a positive integer from the environment, logging and
// falling back to def on anything else.
func loadInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := parseInt(s)
	if err != nil || n <= 0 {
		log.Printf("config: invalid %s %q (must be a positive integer), using default %d", key, s, def)
		return def
	}
	return n
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string  `json:"database_url,omitempty"`
		RedisAddr               string  `json:"redis_addr,omitempty"`
		HTTPAddr                string  `json:"http_addr"`
		TelegramToken           string  `json:"telegram_token,omitempty"`
		TelegramRateLimit       int     `json:"telegram_rate_limit"`
		EmailFrom               string  `json:"email_from,omitempty"`
		EmailRateLimit          int     `json:"email_rate_limit"`
		BatchSize               int     `json:"batch_size"`
		ChannelConcurrency      int     `json:"channel_concurrency"`
		JobTimeout              string  `json:"job_timeout"`
		MaxRetries              int     `json:"max_retries"`
		AttemptTimeout          string  `json:"attempt_timeout"`
		BackoffBase             string  `json:"backoff_base"`
		BackoffMax              string  `json:"backoff_max"`
		BreakerWindowSize       int     `json:"breaker_window_size"`
		BreakerFailureThreshold float64 `json:"breaker_failure_threshold"`
		BreakerMinSamples       int     `json:"breaker_min_samples"`
		BreakerResetTimeout     string  `json:"breaker_reset_timeout"`
		BreakerTrialLimit       int     `json:"breaker_trial_limit"`
		DBOpTimeout             string  `json:"db_op_timeout"`
		DBMaxOpenConns          int     `json:"db_max_open_conns"`
		DBMaxIdleConns          int     `json:"db_max_idle_conns"`
		DBConnMaxLifetime       string  `json:"db_conn_max_lifetime"`
		HTTPShutdownTimeout     string  `json:"http_shutdown_timeout"`
		MetricsEnabled          bool    `json:"metrics_enabled"`
		MetricsPath             string  `json:"metrics_path"`
		ReconcileEnabled        bool    `json:"reconcile_enabled"`
		ReconcileInterval       string  `json:"reconcile_interval"`
		ReconcileThreshold      string  `json:"reconcile_threshold"`
		RetentionSchedule       string  `json:"retention_schedule"`
		RetentionTTL            string  `json:"retention_ttl"`
		KafkaBrokers            string  `json:"kafka_brokers,omitempty"`
		KafkaTopic              string  `json:"kafka_topic"`
		KafkaGroupID            string  `json:"kafka_group_id"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		TelegramToken:           maskToken(c.TelegramToken),
		TelegramRateLimit:       c.TelegramRateLimit,
		EmailFrom:               c.EmailFrom,
		EmailRateLimit:          c.EmailRateLimit,
		BatchSize:               c.BatchSize,
		ChannelConcurrency:      c.ChannelConcurrency,
		JobTimeout:              c.JobTimeoutStr,
		MaxRetries:              c.MaxRetries,
		AttemptTimeout:          c.AttemptTimeoutStr,
		BackoffBase:             c.BackoffBaseStr,
		BackoffMax:              c.BackoffMaxStr,
		BreakerWindowSize:       c.BreakerWindowSize,
		BreakerFailureThreshold: c.BreakerFailureThreshold,
		BreakerMinSamples:       c.BreakerMinSamples,
		BreakerResetTimeout:     c.BreakerResetTimeoutStr,
		BreakerTrialLimit:       c.BreakerTrialLimit,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
		DBConnMaxLifetime:       c.DBConnMaxLifetimeStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		RetentionSchedule:       c.RetentionSchedule,
		RetentionTTL:            c.RetentionTTLStr,
		KafkaBrokers:            c.KafkaBrokers,
		KafkaTopic:              c.KafkaTopic,
		KafkaGroupID:            c.KafkaGroupID,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

// maskToken masks a bot token, keeping a short prefix for identification.
func maskToken(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 6 {
		return "***"
	}
	return s[:6] + "***"
}
