package cache

import (
	"testing"
	"time"

	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

func fp(n uint64) types.Fingerprint {
	return types.Fingerprint{n, n + 1}
}

func entry(ttl time.Duration) *Entry {
	now := time.Now()
	e := &Entry{Response: &types.Response{Status: 200}, CreatedAt: now}
	if ttl != 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c := New(4)
	c.Set(fp(1), entry(time.Hour))
	got, ok := c.Get(fp(1))
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Response.Status != 200 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestGetMissOnUnknownKey(t *testing.T) {
	c := New(4)
	if _, ok := c.Get(fp(99)); ok {
		t.Fatal("expected miss on unknown key")
	}
}

func TestGetExpiredEntryIsMiss(t *testing.T) {
	c := New(4)
	c.Set(fp(1), entry(-time.Second)) // already expired
	if _, ok := c.Get(fp(1)); ok {
		t.Fatal("expected miss on expired entry")
	}
}

func TestResidentSizeNeverExceedsCapacity(t *testing.T) {
	c := New(4)
	for i := uint64(0); i < 50; i++ {
		c.Set(fp(i*2), entry(time.Hour))
		stats := c.Stats()
		if stats.T1+stats.T2 > stats.Capacity {
			t.Fatalf("resident size %d exceeded capacity %d at i=%d", stats.T1+stats.T2, stats.Capacity, i)
		}
	}
}

func TestGhostListsBoundedByCapacity(t *testing.T) {
	c := New(4)
	for i := uint64(0); i < 100; i++ {
		c.Set(fp(i*2), entry(time.Hour))
		stats := c.Stats()
		if stats.B1+stats.B2 > stats.Capacity {
			t.Fatalf("ghost size %d exceeded capacity %d at i=%d", stats.B1+stats.B2, stats.Capacity, i)
		}
	}
}

func TestPStaysWithinBounds(t *testing.T) {
	c := New(8)
	for i := uint64(0); i < 200; i++ {
		c.Set(fp(i*2), entry(time.Hour))
		// re-touch some keys to exercise the ghost-hit adaptation paths
		if i > 0 {
			c.Get(fp((i - 1) * 2))
		}
		stats := c.Stats()
		if stats.P < 0 || stats.P > stats.Capacity {
			t.Fatalf("p=%d out of [0,%d] at i=%d", stats.P, stats.Capacity, i)
		}
	}
}

func TestGhostHitOnReinsertedKeyAdaptsP(t *testing.T) {
	c := New(2)
	c.Set(fp(1), entry(time.Hour))
	c.Set(fp(2), entry(time.Hour))
	c.Set(fp(3), entry(time.Hour)) // evicts fp(1) into B1
	before := c.Stats().P

	c.Set(fp(1), entry(time.Hour)) // re-insert a B1 ghost hit
	after := c.Stats().P
	if after <= before {
		t.Fatalf("expected p to grow on B1 ghost hit: before=%d after=%d", before, after)
	}
}

func TestGhostHitPromotesDirectlyToT2(t *testing.T) {
	c := New(2)
	c.Set(fp(1), entry(time.Hour))
	c.Set(fp(2), entry(time.Hour))
	c.Set(fp(3), entry(time.Hour)) // evicts fp(1) into B1

	c.Set(fp(1), entry(time.Hour)) // B1 ghost hit: should land in T2, not T1
	el, ok := c.index[fp(1)]
	if !ok {
		t.Fatal("expected fp(1) to be resident after re-insert")
	}
	if got := el.Value.(*node).tag; got != tagT2 {
		t.Fatalf("expected ghost-hit reinsert to promote straight to T2, got tag %d", got)
	}
}

func TestDeleteRemovesFromResident(t *testing.T) {
	c := New(4)
	c.Set(fp(1), entry(time.Hour))
	c.Delete(fp(1))
	if _, ok := c.Get(fp(1)); ok {
		t.Fatal("expected miss after delete")
	}
}
