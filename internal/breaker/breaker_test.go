package breaker

import (
	"testing"
	"time"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
)

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		ErrorRateThreshold:  0.9, // high, so raw failure count trips first in these tests
		MinRequestThreshold: 1,
		Timeout:             100 * time.Millisecond,
		MaxTimeout:          time.Second,
		HalfOpenMaxCalls:    1,
		SuccessThreshold:    2,
		SmoothingFactor:     0.1,
	}
}

func TestClosedNeverRejectsOnPolicyAlone(t *testing.T) {
	b := New("h", testConfig())
	for i := 0; i < 100; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("closed breaker rejected: %v", err)
		}
		b.RecordOutcome(false)
	}
}

func TestTripsOpenAfterFailureThreshold(t *testing.T) {
	b := New("h", testConfig())
	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("request %d unexpectedly rejected: %v", i, err)
		}
		b.RecordOutcome(true)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected 4th request to be rejected with CircuitOpen")
	} else if ferrors.Kind(err) != ferrors.KindCircuitOpen {
		t.Fatalf("expected KindCircuitOpen, got %v", ferrors.Kind(err))
	}
	if b.State() != Open {
		t.Fatalf("expected state Open, got %v", b.State())
	}
}

func TestHalfOpenProbeSucceedsThenCloses(t *testing.T) {
	b := New("h", testConfig())
	for i := 0; i < 3; i++ {
		b.Allow()
		b.RecordOutcome(true)
	}
	if b.State() != Open {
		t.Fatal("expected Open after threshold failures")
	}
	time.Sleep(150 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open probe to be admitted: %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen, got %v", b.State())
	}
	b.RecordOutcome(false) // success

	if err := b.Allow(); err != nil {
		t.Fatalf("expected second half-open probe to be admitted: %v", err)
	}
	b.RecordOutcome(false) // success threshold 2 reached

	if b.State() != Closed {
		t.Fatalf("expected Closed after success_threshold probes, got %v", b.State())
	}
}

func TestHalfOpenProbeFailureReturnsToOpen(t *testing.T) {
	b := New("h", testConfig())
	for i := 0; i < 3; i++ {
		b.Allow()
		b.RecordOutcome(true)
	}
	time.Sleep(150 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected probe admission: %v", err)
	}
	b.RecordOutcome(true) // probe fails

	if b.State() != Open {
		t.Fatalf("expected back to Open after failed probe, got %v", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected immediate rejection after returning to Open")
	}
}

func TestHalfOpenRespectsMaxConcurrentCalls(t *testing.T) {
	cfg := testConfig()
	cfg.HalfOpenMaxCalls = 1
	b := New("h", cfg)
	for i := 0; i < 3; i++ {
		b.Allow()
		b.RecordOutcome(true)
	}
	time.Sleep(150 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("first probe should be admitted: %v", err)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("second concurrent probe should be rejected while first is in flight")
	}
}

func TestManagerIsolatesHosts(t *testing.T) {
	m := NewManager(testConfig())
	a := m.For("a.example.com")
	b := m.For("b.example.com")
	for i := 0; i < 3; i++ {
		a.Allow()
		a.RecordOutcome(true)
	}
	if a.State() != Open {
		t.Fatal("expected host a to be open")
	}
	if b.State() != Closed {
		t.Fatal("expected host b to remain closed, independent of host a")
	}
}
