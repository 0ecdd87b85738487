// Package cache implements the Adaptive Replacement Cache of spec §4.5:
// resident lists T1/T2, ghost lists B1/B2, and the adaptation parameter p
// that steers the split between them. gcache's ARC builder (gcache is
// used elsewhere in this repo through its LRU builder, for
// internal/ratelimit's bounded host map) does not expose p, the ghost lists, or their sizes for the white-box testing
// spec §8 requires ("resident size ≤ c; ghost-list sizes ≤ c; p ∈ [0, c]
// always"), so this is hand-rolled over container/list instead, since the
// off-the-shelf primitive doesn't expose what's needed.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// Entry is spec §3's CacheEntry.
type Entry struct {
	Response  *types.Response
	CreatedAt time.Time
	ExpiresAt time.Time
	ETag      string
	LastMod   string
	Size      int
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// ARC is a fingerprint-keyed Adaptive Replacement Cache (spec §4.5). All
// list/map mutation happens under one mutex; the critical section is
// bounded to O(1) list operations, per spec §5.
type ARC struct {
	mu sync.Mutex

	capacity int
	p        int // adaptation parameter, p in [0, capacity]

	t1 *list.List // recent, resident
	t2 *list.List // frequent, resident
	b1 *list.List // recent, ghost (ETag/Last-Modified not retained, keys only)
	b2 *list.List // frequent, ghost

	index map[types.Fingerprint]*list.Element // points into whichever list currently holds the key

	now func() time.Time
}

// listTag identifies which of T1/T2/B1/B2 currently holds a node, so
// membership lookup is O(1) instead of scanning all four lists.
type listTag int

const (
	tagT1 listTag = iota
	tagT2
	tagB1
	tagB2
)

type node struct {
	key   types.Fingerprint
	entry *Entry // nil for ghost-list nodes
	tag   listTag
}

func New(capacity int) *ARC {
	return &ARC{
		capacity: capacity,
		t1:       list.New(),
		t2:       list.New(),
		b1:       list.New(),
		b2:       list.New(),
		index:    make(map[types.Fingerprint]*list.Element),
		now:      time.Now,
	}
}

// Get looks up fp (spec §4.5 "Cache lookup by fingerprint"). A hit on a
// resident, unexpired entry promotes the key to T2 and returns (entry,
// true). Lazily-expired or ghost-list hits return (nil, false); a ghost
// hit still adjusts p per ARC's replacement-history rule.
func (c *ARC) Get(fp types.Fingerprint) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[fp]
	if !ok {
		return nil, false
	}
	n := el.Value.(*node)

	switch n.tag {
	case tagT1:
		if n.entry.expired(c.now()) {
			c.t1.Remove(el)
			delete(c.index, fp)
			return nil, false
		}
		c.t1.Remove(el)
		n.tag = tagT2
		c.index[fp] = c.t2.PushFront(n)
		return n.entry, true
	case tagT2:
		if n.entry.expired(c.now()) {
			c.t2.Remove(el)
			delete(c.index, fp)
			return nil, false
		}
		c.t2.MoveToFront(el)
		return n.entry, true
	case tagB1:
		c.adaptUp(c.b1.Len(), c.b2.Len())
		c.b1.Remove(el)
		delete(c.index, fp)
		return nil, false
	case tagB2:
		c.adaptDown(c.b1.Len(), c.b2.Len())
		c.b2.Remove(el)
		delete(c.index, fp)
		return nil, false
	}
	return nil, false
}

// Set inserts or replaces the entry for fp (spec §4.5 "cache is updated if
// response is storable"). It runs the full ARC replacement algorithm: a
// miss on a key previously seen in a ghost list grows the corresponding
// resident list's target size before inserting.
func (c *ARC) Set(fp types.Fingerprint, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fpInB2 := false
	ghostHit := false
	if el, ok := c.index[fp]; ok {
		n := el.Value.(*node)
		switch n.tag {
		case tagT2:
			n.entry = entry
			c.t2.MoveToFront(el)
			return
		case tagT1:
			n.entry = entry
			c.t1.Remove(el)
			n.tag = tagT2
			c.index[fp] = c.t2.PushFront(n)
			return
		case tagB1:
			c.adaptUp(c.b1.Len(), c.b2.Len())
			c.b1.Remove(el)
			ghostHit = true
		case tagB2:
			c.adaptDown(c.b1.Len(), c.b2.Len())
			c.b2.Remove(el)
			fpInB2 = true
			ghostHit = true
		}
		delete(c.index, fp)
	}

	c.replace(fpInB2)
	// A B1/B2 hit is evidence of repeat access, so it's promoted straight
	// into T2 instead of re-entering T1 (canonical ARC's REPLACE case IV);
	// only a genuine first-time miss lands in T1.
	if ghostHit {
		c.index[fp] = c.t2.PushFront(&node{key: fp, entry: entry, tag: tagT2})
	} else {
		c.index[fp] = c.t1.PushFront(&node{key: fp, entry: entry, tag: tagT1})
	}
	c.trimGhosts()
}

func (c *ARC) adaptUp(b1Len, b2Len int) {
	delta := 1
	if b1Len > 0 && b2Len > b1Len {
		delta = b2Len / b1Len
	}
	c.p = minInt(c.capacity, c.p+delta)
}

func (c *ARC) adaptDown(b1Len, b2Len int) {
	delta := 1
	if b2Len > 0 && b1Len > b2Len {
		delta = b1Len / b2Len
	}
	c.p = maxInt(0, c.p-delta)
}

// replace implements ARC's REPLACE procedure: evict from T1 or T2
// depending on the p boundary, moving the victim's key into the
// corresponding ghost list.
func (c *ARC) replace(fpInB2 bool) {
	residentLen := c.t1.Len() + c.t2.Len()
	if residentLen < c.capacity {
		return
	}
	if c.t1.Len() > 0 && (c.t1.Len() > c.p || (fpInB2 && c.t1.Len() == c.p)) {
		c.evictTailTo(c.t1, c.b1, tagB1)
	} else if c.t2.Len() > 0 {
		c.evictTailTo(c.t2, c.b2, tagB2)
	} else if c.t1.Len() > 0 {
		c.evictTailTo(c.t1, c.b1, tagB1)
	}
}

func (c *ARC) evictTailTo(resident, ghost *list.List, ghostTag listTag) {
	tail := resident.Back()
	if tail == nil {
		return
	}
	n := tail.Value.(*node)
	resident.Remove(tail)
	delete(c.index, n.key)
	n.entry = nil
	n.tag = ghostTag
	c.index[n.key] = ghost.PushFront(n)
}

// trimGhosts keeps |B1|+|B2| bounded so the combined ghost size mirrors
// the resident size bound (spec §3 invariant, §8 "sum of ghost-list sizes
// <= c").
func (c *ARC) trimGhosts() {
	for c.b1.Len()+c.b2.Len() > c.capacity {
		var victim *list.List
		if c.b1.Len() > maxInt(0, c.capacity-c.p) {
			victim = c.b1
		} else {
			victim = c.b2
		}
		tail := victim.Back()
		if tail == nil {
			break
		}
		n := tail.Value.(*node)
		victim.Remove(tail)
		delete(c.index, n.key)
	}
}

func (c *ARC) listFor(tag listTag) *list.List {
	switch tag {
	case tagT1:
		return c.t1
	case tagT2:
		return c.t2
	case tagB1:
		return c.b1
	default:
		return c.b2
	}
}

// Delete removes fp from every list (resident or ghost), used by
// cache_management's invalidation operation.
func (c *ARC) Delete(fp types.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[fp]; ok {
		n := el.Value.(*node)
		c.listFor(n.tag).Remove(el)
		delete(c.index, fp)
	}
}

// Clear empties every list, used by cache_management's "clear" action.
func (c *ARC) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t1.Init()
	c.t2.Init()
	c.b1.Init()
	c.b2.Init()
	c.p = 0
	c.index = make(map[types.Fingerprint]*list.Element)
}

// Stats snapshots sizes for cache://stats (spec §6 Resources) and for the
// §8 white-box invariant tests.
type Stats struct {
	T1, T2, B1, B2, P, Capacity int
}

func (c *ARC) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{T1: c.t1.Len(), T2: c.t2.Len(), B1: c.b1.Len(), B2: c.b2.Len(), P: c.p, Capacity: c.capacity}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
