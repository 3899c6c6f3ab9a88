// Package circuitbreaker sheds load from a channel that is failing broadly.
// Breaker state reflects channel health, not any single recipient or job, so
// one instance is shared by every job in the process.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/minutecast/minutecast/internal/domain"
)

// ErrCircuitOpen is returned by Allow while a channel is shedding load.
// Rejections are systemic, not recipient-specific: callers must not count
// them against a recipient's retry budget.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds breaker tuning. Zero fields fall back to defaults.
type Config struct {
	// WindowSize is how many recent outcomes are tracked per channel.
	WindowSize int
	// FailureThreshold opens the breaker when the windowed failure rate
	// exceeds it, once MinSamples outcomes have been observed.
	FailureThreshold float64
	// MinSamples gates opening so a single early failure cannot trip a
	// mostly-idle channel.
	MinSamples int
	// ResetTimeout is how long an open channel rejects before admitting
	// trial attempts.
	ResetTimeout time.Duration
	// TrialLimit is how many attempts half-open admits before the breaker
	// commits to closed or open.
	TrialLimit int
}

// DefaultConfig returns the engine-wide breaker defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:       20,
		FailureThreshold: 0.5,
		MinSamples:       10,
		ResetTimeout:     30 * time.Second,
		TrialLimit:       1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.MinSamples <= 0 {
		c.MinSamples = d.MinSamples
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.TrialLimit <= 0 {
		c.TrialLimit = d.TrialLimit
	}
	return c
}

type channelState struct {
	state    State
	window   []bool // true = failure; ring buffer
	next     int
	filled   int
	openedAt time.Time
	trials   int // attempts admitted while half-open
}

// Breaker tracks per-channel health. Writes are serialized under one lock;
// the closed-state Allow check takes only the read lock so concurrent sends
// do not contend on the fast path.
type Breaker struct {
	mu       sync.RWMutex
	channels map[domain.Channel]*channelState
	cfg      Config
	clock    func() time.Time
}

func New(cfg Config) *Breaker {
	return &Breaker{
		channels: make(map[domain.Channel]*channelState),
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

// WithClock overrides the time source. Only for tests.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Allow reports whether a send attempt on the channel may proceed. While the
// channel is open it returns ErrCircuitOpen until ResetTimeout has elapsed;
// after that it admits up to TrialLimit attempts in half-open.
func (b *Breaker) Allow(ch domain.Channel) error {
	b.mu.RLock()
	s, ok := b.channels[ch]
	if !ok || s.state == StateClosed {
		b.mu.RUnlock()
		return nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok = b.channels[ch]
	if !ok || s.state == StateClosed {
		return nil
	}

	switch s.state {
	case StateOpen:
		if b.clock().Sub(s.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		s.state = StateHalfOpen
		s.trials = 1
		return nil
	case StateHalfOpen:
		if s.trials >= b.cfg.TrialLimit {
			return ErrCircuitOpen
		}
		s.trials++
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports a successful send. A half-open channel closes and
// its window resets. Successes on a healthy channel still enter the window
// so a later failure burst is rated against the full rolling window.
func (b *Breaker) RecordSuccess(ch domain.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateFor(ch)
	if s.state == StateHalfOpen {
		b.reset(s)
		return
	}
	if s.state == StateOpen {
		return
	}
	b.record(s, false)
}

// RecordFailure reports a failed send (transient, permanent, or timeout). A
// half-open channel reopens immediately; a closed channel opens once the
// windowed failure rate exceeds the threshold with enough samples.
func (b *Breaker) RecordFailure(ch domain.Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stateFor(ch)

	if s.state == StateHalfOpen {
		s.state = StateOpen
		s.openedAt = b.clock()
		s.trials = 0
		return
	}
	if s.state == StateOpen {
		return
	}

	b.record(s, true)
	if s.filled >= b.cfg.MinSamples && b.failureRate(s) > b.cfg.FailureThreshold {
		s.state = StateOpen
		s.openedAt = b.clock()
	}
}

// State returns the channel's current state without mutating it.
func (b *Breaker) State(ch domain.Channel) State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.channels[ch]
	if !ok {
		return StateClosed
	}
	return s.state
}

// stateFor returns the channel's state, creating it closed on first use.
// Callers must hold the write lock.
func (b *Breaker) stateFor(ch domain.Channel) *channelState {
	s, ok := b.channels[ch]
	if !ok {
		s = &channelState{state: StateClosed, window: make([]bool, b.cfg.WindowSize)}
		b.channels[ch] = s
	}
	return s
}

func (b *Breaker) record(s *channelState, failure bool) {
	s.window[s.next] = failure
	s.next = (s.next + 1) % len(s.window)
	if s.filled < len(s.window) {
		s.filled++
	}
}

func (b *Breaker) failureRate(s *channelState) float64 {
	failures := 0
	for i := 0; i < s.filled; i++ {
		if s.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(s.filled)
}

func (b *Breaker) reset(s *channelState) {
	s.state = StateClosed
	s.trials = 0
	s.next = 0
	s.filled = 0
	for i := range s.window {
		s.window[i] = false
	}
}
