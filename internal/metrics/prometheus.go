package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/minutecast/minutecast/internal/domain"
)

// breakerStateValues maps breaker states to gauge values so dashboards
// can alert on state transitions.
var breakerStateValues = map[string]float64{
	"closed":    0,
	"half_open": 1,
	"open":      2,
}

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Delivery metrics
	sendAttemptsTotal     *prometheus.CounterVec
	sendDuration          *prometheus.HistogramVec
	deliveryOutcomesTotal *prometheus.CounterVec
	jobsCompletedTotal    *prometheus.CounterVec
	jobsInFlight          prometheus.Gauge
	batchDuration         prometheus.Histogram
	batchRecipients       prometheus.Histogram

	// Circuit breaker metrics
	breakerState *prometheus.GaugeVec

	// Queue metrics
	messagesConsumedTotal *prometheus.CounterVec

	// Reconciler metrics
	stuckJobs prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initDeliveryMetrics(reg)
	s.initBreakerMetrics(reg)
	s.initQueueMetrics(reg)
	s.initReconcilerMetrics(reg)
	return s
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.sendAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minutecast_send_attempts_total",
		Help: "Total number of send attempts, including circuit-open rejections.",
	}, []string{"channel", "outcome"})

	s.sendDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "minutecast_send_duration_seconds",
		Help:    "Channel send latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minutecast_delivery_outcomes_total",
		Help: "Total number of final per-recipient delivery outcomes.",
	}, []string{"channel", "outcome"})

	s.jobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minutecast_jobs_completed_total",
		Help: "Total number of distribution jobs reaching a terminal status.",
	}, []string{"status"})

	s.jobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "minutecast_jobs_in_flight",
		Help: "Number of distribution jobs currently running.",
	})

	s.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "minutecast_batch_duration_seconds",
		Help:    "Wall-clock duration of each recipient batch in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})

	s.batchRecipients = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "minutecast_batch_recipients",
		Help:    "Number of recipients per processed batch.",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})

	s.register(reg, s.sendAttemptsTotal, "minutecast_send_attempts_total")
	s.register(reg, s.sendDuration, "minutecast_send_duration_seconds")
	s.register(reg, s.deliveryOutcomesTotal, "minutecast_delivery_outcomes_total")
	s.register(reg, s.jobsCompletedTotal, "minutecast_jobs_completed_total")
	s.register(reg, s.jobsInFlight, "minutecast_jobs_in_flight")
	s.register(reg, s.batchDuration, "minutecast_batch_duration_seconds")
	s.register(reg, s.batchRecipients, "minutecast_batch_recipients")
}

func (s *PrometheusSink) initBreakerMetrics(reg prometheus.Registerer) {
	s.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "minutecast_breaker_state",
		Help: "Circuit breaker state per channel (0=closed, 1=half_open, 2=open).",
	}, []string{"channel"})

	s.register(reg, s.breakerState, "minutecast_breaker_state")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.messagesConsumedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "minutecast_queue_messages_consumed_total",
		Help: "Total number of submission messages consumed from the queue.",
	}, []string{"result"})

	s.register(reg, s.messagesConsumedTotal, "minutecast_queue_messages_consumed_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.stuckJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "minutecast_reconciler_stuck_jobs",
		Help: "Number of stuck jobs found in the last reconciler pass.",
	})

	s.register(reg, s.stuckJobs, "minutecast_reconciler_stuck_jobs")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Delivery metrics implementation

func (s *PrometheusSink) SendAttemptCompleted(ch domain.Channel, outcome domain.AttemptOutcome, duration time.Duration) {
	s.sendAttemptsTotal.WithLabelValues(string(ch), string(outcome)).Inc()
	if outcome != domain.AttemptCircuitOpen {
		s.sendDuration.WithLabelValues(string(ch)).Observe(duration.Seconds())
	}
}

func (s *PrometheusSink) DeliveryOutcome(ch domain.Channel, outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(string(ch), outcome).Inc()
}

func (s *PrometheusSink) JobCompleted(status domain.JobStatus) {
	s.jobsCompletedTotal.WithLabelValues(string(status)).Inc()
}

func (s *PrometheusSink) JobsInFlightIncr() {
	s.jobsInFlight.Inc()
}

func (s *PrometheusSink) JobsInFlightDecr() {
	s.jobsInFlight.Dec()
}

func (s *PrometheusSink) BatchCompleted(recipients int, duration time.Duration) {
	s.batchDuration.Observe(duration.Seconds())
	s.batchRecipients.Observe(float64(recipients))
}

// Circuit breaker metrics implementation

func (s *PrometheusSink) BreakerStateUpdate(ch domain.Channel, state string) {
	v, ok := breakerStateValues[state]
	if !ok {
		return
	}
	s.breakerState.WithLabelValues(string(ch)).Set(v)
}

// Queue metrics implementation

func (s *PrometheusSink) MessageConsumed(ok bool) {
	result := "rejected"
	if ok {
		result = "accepted"
	}
	s.messagesConsumedTotal.WithLabelValues(result).Inc()
}

// Reconciler metrics implementation

func (s *PrometheusSink) StuckJobsUpdate(count int) {
	s.stuckJobs.Set(float64(count))
}
