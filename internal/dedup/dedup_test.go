package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/projectdiscovery/utils/errkit"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

func isCancelled(err error) bool {
	return err != nil && errkit.FromError(err).Kind() == ferrors.KindCancelled
}

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	c := New()
	fp := types.Fingerprint{1, 2}

	var calls atomic.Int32
	const n = 50
	var wg sync.WaitGroup
	results := make([]*types.Response, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err, _ := c.Do(context.Background(), fp, func(ctx context.Context) (*types.Response, error) {
				calls.Add(1)
				time.Sleep(20 * time.Millisecond)
				return &types.Response{Status: 200, Body: []byte("Y")}, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = resp
		}(i)
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 network execution, got %d", got)
	}
	for i, r := range results {
		if r == nil || string(r.Body) != "Y" {
			t.Fatalf("caller %d got unexpected response: %+v", i, r)
		}
	}
}

func TestDoReturnsSharedErrorToAllWaiters(t *testing.T) {
	c := New()
	fp := types.Fingerprint{3, 4}
	sentinel := assertErr{"boom"}

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err, _ := c.Do(context.Background(), fp, func(ctx context.Context) (*types.Response, error) {
				time.Sleep(10 * time.Millisecond)
				return nil, sentinel
			})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != sentinel {
			t.Fatalf("waiter %d got %v, want shared sentinel error", i, err)
		}
	}
}

func TestDistinctFingerprintsRunIndependently(t *testing.T) {
	c := New()
	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := uint64(0); i < 5; i++ {
		wg.Add(1)
		go func(i uint64) {
			defer wg.Done()
			c.Do(context.Background(), types.Fingerprint{i, i}, func(ctx context.Context) (*types.Response, error) {
				calls.Add(1)
				return &types.Response{Status: 200}, nil
			})
		}(i)
	}
	wg.Wait()
	if got := calls.Load(); got != 5 {
		t.Fatalf("expected 5 independent executions, got %d", got)
	}
}

// TestCancelledWaiterDetachesWithoutAffectingOwner covers spec §5's
// "detaches from any dedup slot it joined as a waiter, the owner
// proceeds": a waiter whose ctx is cancelled gets a Cancelled error
// immediately while the still-attached owner's call completes normally.
func TestCancelledWaiterDetachesWithoutAffectingOwner(t *testing.T) {
	c := New()
	fp := types.Fingerprint{5, 6}
	started := make(chan struct{})

	ownerCtx, ownerCancel := context.WithCancel(context.Background())
	defer ownerCancel()
	ownerDone := make(chan struct{})
	var ownerResp *types.Response
	var ownerErr error
	go func() {
		defer close(ownerDone)
		ownerResp, ownerErr = nil, nil
		resp, err, _ := c.Do(ownerCtx, fp, func(ctx context.Context) (*types.Response, error) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return &types.Response{Status: 200, Body: []byte("Y")}, nil
		})
		ownerResp, ownerErr = resp, err
	}()
	<-started

	waiterCtx, waiterCancel := context.WithCancel(context.Background())
	waiterDone := make(chan struct{})
	var waiterErr error
	go func() {
		defer close(waiterDone)
		_, err, _ := c.Do(waiterCtx, fp, func(ctx context.Context) (*types.Response, error) {
			t.Error("waiter must not install a second execution")
			return nil, nil
		})
		waiterErr = err
	}()
	waiterCancel()
	<-waiterDone

	if !isCancelled(waiterErr) {
		t.Fatalf("expected cancelled waiter to get a Cancelled error, got %v", waiterErr)
	}

	<-ownerDone
	if ownerErr != nil {
		t.Fatalf("expected owner to complete successfully despite waiter cancellation, got %v", ownerErr)
	}
	if ownerResp == nil || string(ownerResp.Body) != "Y" {
		t.Fatalf("expected owner to receive the real response, got %+v", ownerResp)
	}
}

// TestCancelledLastCallerAbortsExecution covers spec §5's "otherwise the
// slot is dropped and the network operation aborts": when the sole
// attached caller cancels, fn's context is cancelled too.
func TestCancelledLastCallerAbortsExecution(t *testing.T) {
	c := New()
	fp := types.Fingerprint{7, 8}
	started := make(chan struct{})
	aborted := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var gotErr error
	go func() {
		defer close(done)
		_, err, _ := c.Do(ctx, fp, func(fnCtx context.Context) (*types.Response, error) {
			close(started)
			<-fnCtx.Done()
			close(aborted)
			return nil, fnCtx.Err()
		})
		gotErr = err
	}()
	<-started
	cancel()
	<-done

	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("expected fn's context to be cancelled once the last caller detached")
	}
	if !isCancelled(gotErr) {
		t.Fatalf("expected caller to get a Cancelled error, got %v", gotErr)
	}
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
