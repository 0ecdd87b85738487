// Package breaker implements the per-host three-state circuit breaker of
// spec §4.4 (Closed/Open/HalfOpen), grounded on an atomics-first
// throttler shape plus a consecutive-failure counter tracked alongside
// it (promoted here into an additional trip condition per SPEC_FULL.md's
// supplemented features).
package breaker

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
)

// State is the breaker's three-state machine (spec §4.4).
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config is spec §6's breaker.* group.
type Config struct {
	FailureThreshold  int64
	ErrorRateThreshold float64
	MinRequestThreshold int64
	Timeout           time.Duration
	MaxTimeout        time.Duration // cap for exponential growth across cycles
	HalfOpenMaxCalls  int32
	SuccessThreshold  int32
	SmoothingFactor   float64 // alpha
}

// DefaultConfig mirrors spec §4.4 defaults plus reasonable constants for
// options the spec leaves to the implementation (min_request_threshold,
// max timeout cap).
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		ErrorRateThreshold:  0.5,
		MinRequestThreshold: 10,
		Timeout:             5 * time.Second,
		MaxTimeout:          2 * time.Minute,
		HalfOpenMaxCalls:    1,
		SuccessThreshold:    2,
		SmoothingFactor:     0.1,
	}
}

// Breaker is a single HostKey's breaker state (spec §3 HostBreaker). All
// fast-path fields are atomics; adapt/transition logic takes mu only for
// the brief critical section spec §5 describes.
type Breaker struct {
	cfg  Config
	host string

	mu                sync.Mutex
	state             State
	nextAttempt       time.Time
	cycleCount        int // consecutive Open cycles, for exponential timeout growth
	halfOpenSuccesses int32

	// failureCount doubles as spec's raw failure count (Closed-state trip
	// condition) and a consecutive-failure counter (supplemented trip
	// condition): both reset to 0 on any success.
	errorRateBits    atomic.Uint64 // float64 bits: smoothed error rate
	requestsSeen     atomic.Int64
	failureCount     atomic.Int64
	halfOpenInFlight atomic.Int32
}

func New(host string, cfg Config) *Breaker {
	return &Breaker{cfg: cfg, host: host, state: Closed}
}

// Allow reports whether a request to this host may proceed, and if not,
// returns ferrors.KindCircuitOpen (spec §4.4 Open/HalfOpen admission
// rules).
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		if time.Now().Before(b.nextAttempt) {
			return ferrors.NewCircuitOpen(b.host)
		}
		b.state = HalfOpen
		b.halfOpenSuccesses = 0
		b.halfOpenInFlight.Store(0)
		fallthrough
	case HalfOpen:
		if b.halfOpenInFlight.Load() >= b.cfg.HalfOpenMaxCalls {
			return ferrors.NewCircuitOpen(b.host)
		}
		b.halfOpenInFlight.Add(1)
		return nil
	}
	return nil
}

// RecordOutcome feeds one request's outcome into the breaker (spec §4.4,
// §7 feedback loops). What counts as failure is the caller's policy
// (default: transport errors and 5xx); this method only updates state
// given the already-classified bool.
func (b *Breaker) RecordOutcome(failed bool) {
	b.requestsSeen.Add(1)
	x := 0.0
	if failed {
		x = 1.0
		b.failureCount.Add(1)
	} else {
		b.failureCount.Store(0) // consecutive count resets on success
	}
	b.updateSmoothedRate(x)

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.evaluateTrip()
	case HalfOpen:
		b.halfOpenInFlight.Add(-1)
		if failed {
			b.tripOpen()
			return
		}
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.reset()
		}
	}
}

func (b *Breaker) updateSmoothedRate(x float64) {
	for {
		old := b.errorRateBits.Load()
		oldRate := math.Float64frombits(old)
		newRate := b.cfg.SmoothingFactor*x + (1-b.cfg.SmoothingFactor)*oldRate
		if b.errorRateBits.CompareAndSwap(old, math.Float64bits(newRate)) {
			return
		}
	}
}

// evaluateTrip implements spec §4.4's Closed-to-Open transition
// condition. Caller holds b.mu.
func (b *Breaker) evaluateTrip() {
	seen := b.requestsSeen.Load()
	if seen < b.cfg.MinRequestThreshold {
		return
	}
	smoothed := math.Float64frombits(b.errorRateBits.Load())
	rawFails := b.failureCount.Load()
	if smoothed >= b.cfg.ErrorRateThreshold || rawFails >= b.cfg.FailureThreshold {
		b.tripOpen()
	}
}

// tripOpen transitions into Open with exponential timeout growth across
// consecutive cycles, capped at MaxTimeout (spec §4.4 "may use exponential
// growth with a hard cap"). Caller holds b.mu.
func (b *Breaker) tripOpen() {
	b.state = Open
	b.cycleCount++
	timeout := b.cfg.Timeout
	for i := 1; i < b.cycleCount && timeout < b.cfg.MaxTimeout; i++ {
		timeout *= 2
	}
	if timeout > b.cfg.MaxTimeout {
		timeout = b.cfg.MaxTimeout
	}
	b.nextAttempt = time.Now().Add(timeout)
}

// reset transitions into Closed and clears counters (spec §4.4 "reset all
// counters"). Caller holds b.mu.
func (b *Breaker) reset() {
	b.state = Closed
	b.cycleCount = 0
	b.requestsSeen.Store(0)
	b.failureCount.Store(0)
	b.errorRateBits.Store(0)
}

// State reports the current state, for observability and tests.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsFailureStatus applies spec §4.4's default failure policy: transport
// errors and 5xx always count; 408/429 optionally do; other 4xx never do.
func IsFailureStatus(status int, countThrottle bool) bool {
	if status >= 500 {
		return true
	}
	if countThrottle && (status == 408 || status == 429) {
		return true
	}
	return false
}
