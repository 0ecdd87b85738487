// Package ratelimit implements the two-layer token bucket of spec §4.3: a
// global bucket plus adaptive per-host buckets. Each bucket's token state
// is guarded by its own mutex, which every try-consume, rate read, and
// 30s MIMD adaptation step takes, so the fast path is not lock-free; only
// the success/error outcome counters are atomics.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gcache"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
)

// BucketConfig is one bucket's tunables (spec §4.3 / §6).
type BucketConfig struct {
	Capacity float64
	Rate     float64 // tokens/sec
	RateMin  float64
	RateMax  float64
}

// bucket is a continuous-refill token bucket (spec §4.3 "standard
// continuous refill"). tokens, lastRefill, and rate are plain fields
// guarded by mu; successCount/errorCount are atomics, so recordOutcome
// never takes the lock.
type bucket struct {
	mu              sync.Mutex // guards tokens/lastRefill/rate during refill+adapt; held briefly
	tokens          float64
	lastRefill      time.Time
	rate            float64
	capacity        float64
	rateMin         float64
	rateMax         float64
	successCount    atomic.Int64
	errorCount      atomic.Int64
}

func newBucket(cfg BucketConfig) *bucket {
	return &bucket{
		tokens:     cfg.Capacity,
		lastRefill: time.Now(),
		rate:       cfg.Rate,
		capacity:   cfg.Capacity,
		rateMin:    cfg.RateMin,
		rateMax:    cfg.RateMax,
	}
}

// tryConsume implements spec §4.3's try_consume: refill, then consume 1
// token if available.
func (b *bucket) tryConsume(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = minF(b.capacity, b.tokens+elapsed*b.rate)
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// recordOutcome feeds the MIMD adaptation counters (spec §4.3
// Adaptation). Called on every completed request for the owning host.
func (b *bucket) recordOutcome(success bool) {
	if success {
		b.successCount.Add(1)
	} else {
		b.errorCount.Add(1)
	}
}

// adapt applies the MIMD rule and resets counters (spec §4.3). It takes
// the same mutex that tryConsume and currentRate take.
func (b *bucket) adapt(errLow, errHigh, upFactor, downFactor float64) {
	successes := b.successCount.Swap(0)
	errors := b.errorCount.Swap(0)
	total := successes + errors
	if total == 0 {
		return
	}
	errorRate := float64(errors) / float64(total)

	b.mu.Lock()
	defer b.mu.Unlock()
	if errorRate < errLow {
		b.rate = minF(b.rateMax, b.rate*upFactor)
	} else if errorRate > errHigh {
		b.rate = maxF(b.rateMin, b.rate*downFactor)
	}
}

func (b *bucket) currentRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rate
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// AdaptationConfig is spec §6's rate_limit.* MIMD group.
type AdaptationConfig struct {
	Interval   time.Duration
	ErrorLow   float64
	ErrorHigh  float64
	UpFactor   float64
	DownFactor float64
}

// DefaultAdaptationConfig mirrors spec §4.3/§6 defaults.
func DefaultAdaptationConfig() AdaptationConfig {
	return AdaptationConfig{
		Interval:   30 * time.Second,
		ErrorLow:   0.01,
		ErrorHigh:  0.05,
		UpFactor:   1.1,
		DownFactor: 0.9,
	}
}

// Limiter composes the global bucket and the per-host adaptive buckets
// (spec §4.3). Construction of a host's bucket is lazy, on first
// observation, guarded by hostsMu per spec §5's "fine-grained locked
// writes per bucket".
type Limiter struct {
	global      *bucket
	adaptation  AdaptationConfig
	hostDefault BucketConfig

	// hosts bounds the number of distinct per-host buckets kept resident
	// using gcache's LRU builder instead of growing an unbounded map per
	// observed host.
	hostsMu sync.Mutex
	hosts   gcache.Cache[string, *bucket]

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// maxTrackedHosts bounds the per-host bucket population; least-recently
// observed hosts fall back to a fresh bucket at hostDefault rather than
// growing the map without limit.
const maxTrackedHosts = 10000

// New builds a Limiter. hostDefault seeds every per-host bucket created on
// first observation of a HostKey (spec §4.3 "Per-host bucket").
func New(global BucketConfig, hostDefault BucketConfig, adaptation AdaptationConfig) *Limiter {
	l := &Limiter{
		global:      newBucket(global),
		adaptation:  adaptation,
		hostDefault: hostDefault,
		hosts:       gcache.New[string, *bucket](maxTrackedHosts).LRU().Build(),
		stopCh:      make(chan struct{}),
	}
	l.wg.Add(1)
	go l.adaptLoop()
	return l
}

// Close stops the background adaptation loop.
func (l *Limiter) Close() {
	close(l.stopCh)
	l.wg.Wait()
}

func (l *Limiter) hostBucket(host string) *bucket {
	if b, err := l.hosts.Get(host); err == nil {
		return b
	}
	l.hostsMu.Lock()
	defer l.hostsMu.Unlock()
	if b, err := l.hosts.Get(host); err == nil {
		return b
	}
	b := newBucket(l.hostDefault)
	l.hosts.Set(host, b)
	return b
}

// Allow consumes one token from both the global and the per-host bucket
// (spec §4.3: "Every request consumes 1 token" at each layer). It returns
// a ferrors.Limited{scope} error naming whichever layer refused first.
func (l *Limiter) Allow(host string) error {
	now := time.Now()
	if !l.global.tryConsume(now) {
		return ferrors.NewLimited(ferrors.ScopeGlobal)
	}
	hb := l.hostBucket(host)
	if !hb.tryConsume(now) {
		return ferrors.NewLimited(ferrors.ScopeHost)
	}
	return nil
}

// RecordOutcome feeds the per-host MIMD counters (spec §4.3, §7 feedback
// loops). success is false for transport errors, 5xx, and (per policy)
// throttling responses folded in from the breaker's failure accounting.
func (l *Limiter) RecordOutcome(host string, success bool) {
	l.hostBucket(host).recordOutcome(success)
}

// HostRate reports a host bucket's current refill rate, creating the
// bucket at hostDefault if the host has not been observed yet.
func (l *Limiter) HostRate(host string) float64 {
	return l.hostBucket(host).currentRate()
}

func (l *Limiter) adaptLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.adaptation.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			for _, host := range l.hosts.Keys(false) {
				b, err := l.hosts.Get(host)
				if err != nil {
					continue
				}
				b.adapt(l.adaptation.ErrorLow, l.adaptation.ErrorHigh, l.adaptation.UpFactor, l.adaptation.DownFactor)
			}
		}
	}
}
