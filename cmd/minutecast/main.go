package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/minutecast/minutecast/internal/analytics"
	"github.com/minutecast/minutecast/internal/api"
	"github.com/minutecast/minutecast/internal/backoff"
	"github.com/minutecast/minutecast/internal/channel"
	"github.com/minutecast/minutecast/internal/circuitbreaker"
	"github.com/minutecast/minutecast/internal/config"
	"github.com/minutecast/minutecast/internal/coordinator"
	"github.com/minutecast/minutecast/internal/domain"
	"github.com/minutecast/minutecast/internal/metrics"
	"github.com/minutecast/minutecast/internal/reconciler"
	"github.com/minutecast/minutecast/internal/retention"
	"github.com/minutecast/minutecast/internal/retry"
	"github.com/minutecast/minutecast/internal/store/postgres"
	"github.com/minutecast/minutecast/internal/tracker"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// engineDrainTimeout bounds how long shutdown waits for running
// distributions before giving up on them.
const engineDrainTimeout = 30 * time.Second

// breakerPollInterval is how often breaker states are exported as gauges.
const breakerPollInterval = 10 * time.Second

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`minutecast - reliable multi-channel minutes distribution engine

Usage:
  minutecast <command>

Commands:
  serve      Start the distribution engine and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (optional, enables durability)
  REDIS_ADDR                Redis address for analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  TELEGRAM_TOKEN            Telegram bot token; enables the direct message channel
  TELEGRAM_RATE_LIMIT       Direct messages per second (default: "25")
  EMAIL_FROM                Sender address; enables the email channel via SES
  EMAIL_RATE_LIMIT          Emails per second (default: "14")

  BATCH_SIZE                Recipients per batch (default: "50")
  CHANNEL_CONCURRENCY       Concurrent sends per channel (default: "20")
  JOB_TIMEOUT               Deadline for a whole distribution (default: "15m")
  MAX_RETRIES               Retries per recipient per channel (default: "3")
  ATTEMPT_TIMEOUT           Deadline for a single send (default: "30s")
  BACKOFF_BASE              Base retry delay (default: "1s")
  BACKOFF_MAX               Retry delay cap (default: "5s")

  BREAKER_WINDOW_SIZE       Outcomes tracked per channel (default: "20")
  BREAKER_FAILURE_THRESHOLD Failure rate that opens the breaker (default: "0.5")
  BREAKER_MIN_SAMPLES       Samples required before opening (default: "10")
  BREAKER_RESET_TIMEOUT     Open duration before trial attempts (default: "30s")
  BREAKER_TRIAL_LIMIT       Trial attempts while half-open (default: "1")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  RECONCILE_ENABLED         Enable the stuck job reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for stuck jobs (default: "5m")
  RECONCILE_THRESHOLD       Age before a job counts as stuck (default: "20m")

  RETENTION_SCHEDULE        Cron schedule for terminal job pruning (default: "@hourly")
  RETENTION_TTL             How long terminal jobs are kept (default: "24h")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(cfg)

	// Connect to PostgreSQL when durability is configured
	var db *sql.DB
	var pgStore *postgres.Store
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}
		pgStore = postgres.New(db)
		log.Printf("minutecast: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	} else {
		log.Println("minutecast: DATABASE_URL not set; jobs are tracked in memory only")
	}

	// Channel adapters
	adapters, err := buildAdapters(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build channel adapters: %v\n", err)
		return exitRuntimeError
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("minutecast: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("minutecast: METRICS_ENABLED not set; metrics disabled")
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		WindowSize:       cfg.BreakerWindowSize,
		FailureThreshold: cfg.BreakerFailureThreshold,
		MinSamples:       cfg.BreakerMinSamples,
		ResetTimeout:     cfg.BreakerResetTimeout,
		TrialLimit:       cfg.BreakerTrialLimit,
	})

	tr := tracker.New()
	engine := coordinator.New(tr, breaker, adapters, coordinator.Config{
		BatchSize:          cfg.BatchSize,
		ChannelConcurrency: int64(cfg.ChannelConcurrency),
		JobTimeout:         cfg.JobTimeout,
		Retry: retry.Policy{
			MaxRetries:     cfg.MaxRetries,
			AttemptTimeout: cfg.AttemptTimeout,
			Backoff: backoff.Policy{
				Base: cfg.BackoffBase,
				Max:  cfg.BackoffMax,
			},
		},
	})
	if pgStore != nil {
		engine = engine.WithStore(pgStore)
	}
	if metricsSink != nil {
		engine = engine.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		engine = engine.WithAnalytics(analytics.NewRedisSink(redisClient))
		log.Printf("minutecast: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("minutecast: REDIS_ADDR not set; analytics disabled")
	}

	apiHandler := api.NewHandler(engine)
	if pgStore != nil {
		apiHandler = apiHandler.WithAttemptLister(pgStore).WithHealthChecker(db)
	}

	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler.Router())

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Printf("minutecast: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("minutecast: http server error: %v", err)
		}
	}()

	// Export breaker states as gauges while metrics are enabled
	var pollerWg sync.WaitGroup
	var cancelPoller context.CancelFunc
	if metricsSink != nil {
		var pollerCtx context.Context
		pollerCtx, cancelPoller = context.WithCancel(context.Background())
		pollerWg.Add(1)
		go func() {
			defer pollerWg.Done()
			pollBreakerState(pollerCtx, breaker, metricsSink)
		}()
	}

	// Start reconciler if enabled
	var reconcilerWg sync.WaitGroup
	var cancelReconciler context.CancelFunc
	if cfg.ReconcileEnabled {
		var reconcilerCtx context.Context
		reconcilerCtx, cancelReconciler = context.WithCancel(context.Background())
		recon := reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: reconciler.DefaultConfig().BatchSize,
			},
			tr,
			engine,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		reconcilerWg.Add(1)
		go func() {
			defer reconcilerWg.Done()
			recon.Run(reconcilerCtx)
		}()
	} else {
		log.Println("minutecast: RECONCILE_ENABLED not set; reconciler disabled")
	}

	// Retention janitor
	janitor := retention.New(cfg.RetentionSchedule, cfg.RetentionTTL, tr)
	if pgStore != nil {
		janitor = janitor.WithStore(pgStore)
	}
	if err := janitor.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start retention janitor: %v\n", err)
		if cancelPoller != nil {
			cancelPoller()
		}
		if cancelReconciler != nil {
			cancelReconciler()
		}
		return exitRuntimeError
	}

	log.Printf("minutecast: started (http=%s, channels=%d)", cfg.HTTPAddr, len(adapters))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("minutecast: received signal %v, shutting down", received)

	// Phase 1: Stop accepting HTTP requests
	log.Println("minutecast: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("minutecast: http server shutdown error: %v", err)
	}
	log.Println("minutecast: http server stopped")

	// Phase 2: Stop reconciler and retention (no forced settlements mid-drain)
	if cancelReconciler != nil {
		log.Println("minutecast: stopping reconciler...")
		cancelReconciler()
		reconcilerWg.Wait()
	}
	janitor.Stop()

	// Phase 3: Drain running distributions
	log.Println("minutecast: draining distributions...")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), engineDrainTimeout)
	defer drainCancel()
	if err := engine.Shutdown(drainCtx); err != nil {
		log.Printf("minutecast: engine drain incomplete: %v", err)
	}
	log.Println("minutecast: engine stopped")

	// Phase 4: Stop the breaker state poller
	if cancelPoller != nil {
		cancelPoller()
		pollerWg.Wait()
	}

	log.Println("minutecast: stopped")
	return exitSuccess
}

// buildAdapters constructs one adapter per configured channel.
func buildAdapters(cfg config.Config) (map[domain.Channel]channel.Adapter, error) {
	adapters := make(map[domain.Channel]channel.Adapter)

	if cfg.TelegramToken != "" {
		transport, err := channel.NewTelegramTransport(cfg.TelegramToken)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		adapters[domain.ChannelDirectMessage] = channel.NewDirectMessageAdapter(transport, cfg.TelegramRateLimit)
		log.Printf("minutecast: direct message channel enabled (rate=%d/s)", cfg.TelegramRateLimit)
	}

	if cfg.EmailFrom != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("aws config: %w", err)
		}
		transport, err := channel.NewSESTransport(awsCfg, cfg.EmailFrom)
		if err != nil {
			return nil, fmt.Errorf("ses: %w", err)
		}
		adapters[domain.ChannelEmail] = channel.NewEmailAdapter(transport, cfg.EmailRateLimit)
		log.Printf("minutecast: email channel enabled (from=%s, rate=%d/s)", cfg.EmailFrom, cfg.EmailRateLimit)
	}

	return adapters, nil
}

// pollBreakerState periodically mirrors breaker states into gauges.
func pollBreakerState(ctx context.Context, breaker *circuitbreaker.Breaker, sink *metrics.PrometheusSink) {
	ticker := time.NewTicker(breakerPollInterval)
	defer ticker.Stop()
	channels := []domain.Channel{domain.ChannelDirectMessage, domain.ChannelEmail}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range channels {
				sink.BreakerStateUpdate(ch, string(breaker.State(ch)))
			}
		}
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("minutecast version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
