package ratelimit

import (
	"testing"
	"time"
)

func TestAllowGlobalThenHostLimited(t *testing.T) {
	l := New(
		BucketConfig{Capacity: 10, Rate: 0, RateMin: 0, RateMax: 0},
		BucketConfig{Capacity: 1000, Rate: 0, RateMin: 0, RateMax: 0},
		DefaultAdaptationConfig(),
	)
	defer l.Close()

	succeeded := 0
	for i := 0; i < 20; i++ {
		if err := l.Allow("example.com"); err == nil {
			succeeded++
		}
	}
	if succeeded != 10 {
		t.Fatalf("expected exactly 10 admits from a capacity-10 zero-refill global bucket, got %d", succeeded)
	}
}

func TestAdaptIncreasesRateOnLowErrorRate(t *testing.T) {
	b := newBucket(BucketConfig{Capacity: 10, Rate: 10, RateMin: 1, RateMax: 100})
	for i := 0; i < 100; i++ {
		b.recordOutcome(true)
	}
	b.adapt(0.01, 0.05, 1.1, 0.9)
	if got := b.currentRate(); got <= 10 {
		t.Fatalf("expected rate to increase above 10, got %v", got)
	}
}

func TestAdaptDecreasesRateOnHighErrorRate(t *testing.T) {
	b := newBucket(BucketConfig{Capacity: 10, Rate: 10, RateMin: 1, RateMax: 100})
	for i := 0; i < 10; i++ {
		b.recordOutcome(false)
	}
	b.adapt(0.01, 0.05, 1.1, 0.9)
	if got := b.currentRate(); got >= 10 {
		t.Fatalf("expected rate to decrease below 10, got %v", got)
	}
}

func TestAdaptRespectsFloorAndCeiling(t *testing.T) {
	b := newBucket(BucketConfig{Capacity: 10, Rate: 1.0, RateMin: 1.0, RateMax: 2.0})
	for round := 0; round < 20; round++ {
		for i := 0; i < 50; i++ {
			b.recordOutcome(true)
		}
		b.adapt(0.01, 0.05, 1.1, 0.9)
	}
	if got := b.currentRate(); got > 2.0 {
		t.Fatalf("rate exceeded ceiling: %v", got)
	}
	for round := 0; round < 20; round++ {
		for i := 0; i < 50; i++ {
			b.recordOutcome(false)
		}
		b.adapt(0.01, 0.05, 1.1, 0.9)
	}
	if got := b.currentRate(); got < 1.0 {
		t.Fatalf("rate fell below floor: %v", got)
	}
}

func TestTryConsumeRefillsOverTime(t *testing.T) {
	b := newBucket(BucketConfig{Capacity: 1, Rate: 1000, RateMin: 1, RateMax: 1000})
	now := time.Now()
	if !b.tryConsume(now) {
		t.Fatal("expected first consume to succeed")
	}
	if b.tryConsume(now) {
		t.Fatal("expected immediate second consume to fail (no time elapsed)")
	}
	if !b.tryConsume(now.Add(10 * time.Millisecond)) {
		t.Fatal("expected consume to succeed after refill window")
	}
}
