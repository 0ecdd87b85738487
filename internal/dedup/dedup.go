// Package dedup coalesces concurrent identical requests onto a single
// in-flight execution, keyed by fingerprint (spec §4.5 "Dedup join").
// golang.org/x/sync/singleflight implements the install-or-join shape but
// ties fn to whichever caller happened to arrive first and gives callers
// no way to detach individually, so it cannot express spec §5's
// cancellation rule ("a cancelled dedup owner transfers ownership to the
// next waiter if any exists; otherwise the slot is dropped and the
// network operation aborts"). Coalescer instead runs fn against a context
// refcounted by the callers still attached to it: the execution keeps
// running as long as at least one caller remains, and is cancelled only
// once the last one detaches.
package dedup

import (
	"context"
	"sync"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// call is one in-flight execution shared by every caller that joined it.
type call struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	refs int
	resp *types.Response
	err  error
}

// Coalescer maps a fingerprint to its in-flight call, if any.
type Coalescer struct {
	mu    sync.Mutex
	calls map[string]*call
}

func New() *Coalescer {
	return &Coalescer{calls: make(map[string]*call)}
}

// Do installs a new in-flight slot for fp if none exists, or attaches as a
// waiter on an existing one (spec §4.5 point 2). At most one fn runs per
// fingerprint at any instant; all waiters receive the same *types.Response
// clone or the same error (spec §3 DedupSlot invariant, §8 Deduplication
// property).
//
// fn runs with a context independent of any single caller's ctx. If ctx is
// cancelled while other callers are still attached, this call simply
// detaches and returns a Cancelled error — the execution continues
// unaffected (spec §5: "detaches from any dedup slot it joined as a
// waiter, the owner proceeds"). If this is the last caller attached when
// it detaches,
// fn's context is cancelled and the execution aborts (spec §5: "a
// cancelled dedup owner transfers ownership to the next waiter if any
// exists; otherwise the slot is dropped"). Ownership has no fixed holder
// here — ownership "transfer" falls out of refcounting callers directly
// rather than needing to reassign an explicit owner.
func (c *Coalescer) Do(ctx context.Context, fp types.Fingerprint, fn func(context.Context) (*types.Response, error)) (*types.Response, error, bool) {
	key := fp.String()

	c.mu.Lock()
	cl, shared := c.calls[key]
	if !shared {
		callCtx, cancel := context.WithCancel(context.Background())
		cl = &call{cancel: cancel, done: make(chan struct{}), refs: 1}
		c.calls[key] = cl
		c.mu.Unlock()

		go func() {
			resp, err := fn(callCtx)
			cl.mu.Lock()
			cl.resp, cl.err = resp, err
			cl.mu.Unlock()
			close(cl.done)

			c.mu.Lock()
			if c.calls[key] == cl {
				delete(c.calls, key)
			}
			c.mu.Unlock()
		}()
	} else {
		cl.mu.Lock()
		cl.refs++
		cl.mu.Unlock()
		c.mu.Unlock()
	}

	select {
	case <-cl.done:
		c.detach(cl)
		cl.mu.Lock()
		resp, err := cl.resp, cl.err
		cl.mu.Unlock()
		if resp == nil {
			return nil, err, shared
		}
		if shared {
			// A waiter must not share the owner's mutable Response with
			// other waiters or the cache; each gets its own clone (spec
			// §3 "n waiters receive equivalent response clones").
			return resp.Clone(), err, shared
		}
		return resp, err, shared
	case <-ctx.Done():
		c.detach(cl)
		return nil, ferrors.NewCancelled(), shared
	}
}

// detach drops this caller's reference to cl. Once the last reference is
// gone and fn has not yet finished, cl's context is cancelled so the
// network operation aborts instead of running with no observer left.
func (c *Coalescer) detach(cl *call) {
	cl.mu.Lock()
	cl.refs--
	refs := cl.refs
	cl.mu.Unlock()
	if refs > 0 {
		return
	}
	select {
	case <-cl.done:
	default:
		cl.cancel()
	}
}
