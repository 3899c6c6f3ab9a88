// The worker consumes distribution requests from Kafka and runs them
// through the engine, without exposing the HTTP API. It is deployed
// alongside the serve binary when the minutes pipeline publishes
// directly to the queue.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/minutecast/minutecast/internal/analytics"
	"github.com/minutecast/minutecast/internal/backoff"
	"github.com/minutecast/minutecast/internal/channel"
	"github.com/minutecast/minutecast/internal/circuitbreaker"
	"github.com/minutecast/minutecast/internal/config"
	"github.com/minutecast/minutecast/internal/coordinator"
	"github.com/minutecast/minutecast/internal/domain"
	"github.com/minutecast/minutecast/internal/metrics"
	"github.com/minutecast/minutecast/internal/queue"
	"github.com/minutecast/minutecast/internal/retry"
	"github.com/minutecast/minutecast/internal/store/postgres"
	"github.com/minutecast/minutecast/internal/tracker"

	_ "github.com/lib/pq"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

const drainTimeout = 30 * time.Second

func main() {
	_ = godotenv.Load()

	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "run":
		os.Exit(runConsumer())
	case "publish":
		os.Exit(runPublish())
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
	fmt.Println(`minutecast-worker - queue-fed distribution worker

Usage:
  minutecast-worker [command]

Commands:
  run        Consume distribution requests from Kafka (default)
  publish    Read one JSON distribution message from stdin and publish it

Environment Variables:
  KAFKA_BROKERS   Comma separated broker list (required)
  KAFKA_TOPIC     Topic carrying distribution requests (default: "minutecast.distributions")
  KAFKA_GROUP_ID  Consumer group (default: "minutecast-worker")

The engine itself is configured the same way as the serve binary; see
minutecast --help for the full list.`)
}

func runConsumer() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	if cfg.KafkaBrokers == "" {
		fmt.Fprintln(os.Stderr, "configuration error: KAFKA_BROKERS is required")
		return exitInvalidConfig
	}

	// Metrics are served on HTTP_ADDR; the worker has no other HTTP
	// surface.
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.HTTPAddr, Handler: metricsMux}
		go func() {
			log.Printf("worker: metrics server listening on %s", cfg.HTTPAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("worker: metrics server error: %v", err)
			}
		}()
	}

	engine, cleanup, err := buildEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build engine: %v\n", err)
		return exitRuntimeError
	}
	defer cleanup()
	if metricsSink != nil {
		engine = engine.WithMetrics(metricsSink)
	}

	consumer := queue.NewConsumer(
		queue.SplitBrokers(cfg.KafkaBrokers),
		cfg.KafkaTopic,
		cfg.KafkaGroupID,
		engine,
	)
	if metricsSink != nil {
		consumer = consumer.WithMetrics(metricsSink)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- consumer.Run(ctx)
	}()

	log.Printf("worker: consuming (brokers=%s, topic=%s, group=%s)",
		cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case received := <-sig:
		log.Printf("worker: received signal %v, shutting down", received)
		cancel()
		<-done
	case err := <-done:
		cancel()
		if err != nil {
			log.Printf("worker: consumer failed: %v", err)
			return exitRuntimeError
		}
	}

	log.Println("worker: draining distributions...")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := engine.Shutdown(drainCtx); err != nil {
		log.Printf("worker: engine drain incomplete: %v", err)
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("worker: metrics server shutdown error: %v", err)
		}
	}

	log.Println("worker: stopped")
	return exitSuccess
}

func runPublish() int {
	cfg := config.Load()
	if cfg.KafkaBrokers == "" {
		fmt.Fprintln(os.Stderr, "configuration error: KAFKA_BROKERS is required")
		return exitInvalidConfig
	}

	var msg queue.DistributionMessage
	if err := json.NewDecoder(os.Stdin).Decode(&msg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to decode message: %v\n", err)
		return exitRuntimeError
	}
	// Surface malformed messages here rather than at the consumer.
	if _, _, _, err := msg.ToDomain(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid message: %v\n", err)
		return exitRuntimeError
	}

	producer := queue.NewProducer(queue.SplitBrokers(cfg.KafkaBrokers), cfg.KafkaTopic)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Publish(ctx, msg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to publish: %v\n", err)
		return exitRuntimeError
	}

	fmt.Printf("published minutes_id=%s recipients=%d\n", msg.MinutesID, len(msg.Recipients))
	return exitSuccess
}

// buildEngine wires a coordinator from the environment, mirroring the
// serve binary minus the HTTP surface.
func buildEngine(cfg config.Config) (*coordinator.Coordinator, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	adapters := make(map[domain.Channel]channel.Adapter)
	if cfg.TelegramToken != "" {
		transport, err := channel.NewTelegramTransport(cfg.TelegramToken)
		if err != nil {
			return nil, cleanup, fmt.Errorf("telegram: %w", err)
		}
		adapters[domain.ChannelDirectMessage] = channel.NewDirectMessageAdapter(transport, cfg.TelegramRateLimit)
	}
	if cfg.EmailFrom != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, cleanup, fmt.Errorf("aws config: %w", err)
		}
		transport, err := channel.NewSESTransport(awsCfg, cfg.EmailFrom)
		if err != nil {
			return nil, cleanup, fmt.Errorf("ses: %w", err)
		}
		adapters[domain.ChannelEmail] = channel.NewEmailAdapter(transport, cfg.EmailRateLimit)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		WindowSize:       cfg.BreakerWindowSize,
		FailureThreshold: cfg.BreakerFailureThreshold,
		MinSamples:       cfg.BreakerMinSamples,
		ResetTimeout:     cfg.BreakerResetTimeout,
		TrialLimit:       cfg.BreakerTrialLimit,
	})

	engine := coordinator.New(tracker.New(), breaker, adapters, coordinator.Config{
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

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open database: %w", err)
		}
		cleanups = append(cleanups, func() { db.Close() })
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		if err := db.Ping(); err != nil {
			return nil, cleanup, fmt.Errorf("connect database: %w", err)
		}
		engine = engine.WithStore(postgres.New(db))
	} else {
		log.Println("worker: DATABASE_URL not set; jobs are tracked in memory only")
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		engine = engine.WithAnalytics(analytics.NewRedisSink(redisClient))
	}

	return engine, cleanup, nil
}
