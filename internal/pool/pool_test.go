package pool

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/slicingmelon/gofetch-mcp/internal/pool/dialer"
	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// fakeDialer hands out net.Pipe connections instead of routing through
// fastdialer's real DNS resolution, so Acquire/Release can be exercised
// without touching the network.
type fakeDialer struct {
	mu     sync.Mutex
	dialed int
}

func (f *fakeDialer) DialPlain(ctx context.Context, addr string) (net.Conn, error) {
	f.mu.Lock()
	f.dialed++
	f.mu.Unlock()
	client, server := net.Pipe()
	go discard(server)
	return client, nil
}

func (f *fakeDialer) DialTLSNegotiated(ctx context.Context, addr string) (*dialer.NegotiatedConn, error) {
	client, server := net.Pipe()
	go discard(server)
	return &dialer.NegotiatedConn{Conn: client, Protocol: "http/1.1"}, nil
}

func discard(c net.Conn) {
	buf := make([]byte, 512)
	for {
		if _, err := c.Read(buf); err != nil {
			return
		}
	}
}

func testHost() types.HostKey {
	return types.HostKey{Scheme: "http", Host: "example.test", Port: "80"}
}

func TestAcquireDialsNewConnectionBelowCap(t *testing.T) {
	fd := &fakeDialer{}
	cfg := DefaultConfig()
	cfg.InitialCap = 2
	p := New(cfg, fd)
	defer p.Close()

	ctx := context.Background()
	c1, err := p.Acquire(ctx, testHost())
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	c2, err := p.Acquire(ctx, testHost())
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if c1 == c2 {
		t.Fatal("expected two distinct connections")
	}
	if fd.dialed != 2 {
		t.Fatalf("expected 2 dials, got %d", fd.dialed)
	}
}

func TestAcquireReusesReleasedIdleConnection(t *testing.T) {
	fd := &fakeDialer{}
	cfg := DefaultConfig()
	cfg.InitialCap = 1
	p := New(cfg, fd)
	defer p.Close()

	ctx := context.Background()
	c1, err := p.Acquire(ctx, testHost())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release(testHost(), c1, true, 10*time.Millisecond)

	c2, err := p.Acquire(ctx, testHost())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if c2 != c1 {
		t.Fatal("expected idle connection to be reused")
	}
	if fd.dialed != 1 {
		t.Fatalf("expected exactly 1 dial, got %d", fd.dialed)
	}
}

func TestAcquireBlocksAtCapUntilReleaseOrTimeout(t *testing.T) {
	fd := &fakeDialer{}
	cfg := DefaultConfig()
	cfg.InitialCap = 1
	p := New(cfg, fd)
	defer p.Close()

	ctx := context.Background()
	c1, err := p.Acquire(ctx, testHost())
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	ctxTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctxTimeout, testHost()); err == nil {
		t.Fatal("expected pool-exhausted error while at cap")
	}

	p.Release(testHost(), c1, true, time.Millisecond)
	c2, err := p.Acquire(ctx, testHost())
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if c2 != c1 {
		t.Fatal("expected released connection to satisfy the waiter")
	}
}

func TestUnhealthyReleaseClosesInsteadOfReuse(t *testing.T) {
	fd := &fakeDialer{}
	cfg := DefaultConfig()
	p := New(cfg, fd)
	defer p.Close()

	ctx := context.Background()
	c1, _ := p.Acquire(ctx, testHost())
	p.Release(testHost(), c1, false, time.Millisecond)

	c2, _ := p.Acquire(ctx, testHost())
	if c2 == c1 {
		t.Fatal("expected a fresh connection, not the closed one")
	}
	if fd.dialed != 2 {
		t.Fatalf("expected 2 dials (one discarded), got %d", fd.dialed)
	}
}

func TestAdaptCapReducesOnSustainedP95Doubling(t *testing.T) {
	hp := newHostPool(testHost(), Config{InitialCap: 8, MinCap: 2, MaxCap: 16, LatencyWindow: 16})
	for i := 0; i < 10; i++ {
		hp.recordLatency(10 * time.Millisecond)
	}
	hp.adaptCap()
	if hp.baselineP95 == 0 {
		t.Fatal("expected baseline to be set")
	}
	base := hp.cap

	hp.active = hp.cap // saturate so the later recovery branch is exercised elsewhere
	for i := 0; i < 10; i++ {
		hp.recordLatency(40 * time.Millisecond)
	}
	hp.adaptCap() // first consecutive window over threshold: no cut yet
	if hp.cap != base {
		t.Fatalf("expected no cut on first window, cap changed to %d", hp.cap)
	}
	hp.adaptCap() // second consecutive window: cut now applies
	if hp.cap >= base {
		t.Fatalf("expected cap to shrink below %d, got %d", base, hp.cap)
	}
	if hp.cap < hp.cfg.MinCap {
		t.Fatalf("cap %d fell below floor %d", hp.cap, hp.cfg.MinCap)
	}
}

func TestAdaptCapNeverBelowFloor(t *testing.T) {
	hp := newHostPool(testHost(), Config{InitialCap: 3, MinCap: 2, MaxCap: 16, LatencyWindow: 16})
	for i := 0; i < 10; i++ {
		hp.recordLatency(10 * time.Millisecond)
	}
	hp.adaptCap()
	hp.active = hp.cap
	for round := 0; round < 10; round++ {
		for i := 0; i < 10; i++ {
			hp.recordLatency(100 * time.Millisecond)
		}
		hp.adaptCap()
		if hp.cap < hp.cfg.MinCap {
			t.Fatalf("cap %d went below floor %d at round %d", hp.cap, hp.cfg.MinCap, round)
		}
	}
}
