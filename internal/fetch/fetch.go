// Package fetch wires the core pipeline of spec §2: admission, cache
// lookup, dedup join, scheduler, rate limiter, circuit breaker, connection
// pool, and wire I/O, with outcome feedback flowing back into the limiter
// and breaker after every network attempt. It is the single orchestration
// layer that runs one pipeline stage per subsystem, in order, for every
// request.
package fetch

import (
	"context"
	"math/rand"
	"time"

	"github.com/slicingmelon/gofetch-mcp/internal/admission"
	"github.com/slicingmelon/gofetch-mcp/internal/breaker"
	"github.com/slicingmelon/gofetch-mcp/internal/cache"
	"github.com/slicingmelon/gofetch-mcp/internal/dedup"
	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
	"github.com/slicingmelon/gofetch-mcp/internal/gflog"
	"github.com/slicingmelon/gofetch-mcp/internal/pool"
	"github.com/slicingmelon/gofetch-mcp/internal/ratelimit"
	"github.com/slicingmelon/gofetch-mcp/internal/scheduler"
	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// Config bounds the pipeline stages that aren't already configured on the
// subsystems it wires (spec §6).
type Config struct {
	DefaultRetry      types.RetryPolicy
	CountThrottleFail bool // whether 408/429 count as breaker failures (spec §4.4)
	WireTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultRetry:      types.DefaultRetryPolicy(),
		CountThrottleFail: true,
		WireTimeout:       30 * time.Second,
	}
}

// Fetcher runs spec §2's full control flow for one request at a time,
// sharing its subsystems across concurrent callers.
type Fetcher struct {
	cfg Config

	admission *admission.Admission
	cache     *cache.ARC
	dedup     *dedup.Coalescer
	sched     *scheduler.Scheduler
	limiter   *ratelimit.Limiter
	breakers  *breaker.Manager
	pool      *pool.Pool

	// exec is the network-execution seam: New wires it to f.runOverPool;
	// tests substitute a stub so Fetch's admission/cache/dedup/retry logic
	// can be exercised without a real dialer.
	exec func(ctx context.Context, host types.HostKey, req *types.Request) (*types.Response, error)
}

func New(a *admission.Admission, c *cache.ARC, d *dedup.Coalescer, s *scheduler.Scheduler, l *ratelimit.Limiter, b *breaker.Manager, p *pool.Pool, cfg Config) *Fetcher {
	if cfg.DefaultRetry.MaxAttempts <= 0 {
		cfg.DefaultRetry = types.DefaultRetryPolicy()
	}
	f := &Fetcher{
		cfg:       cfg,
		admission: a,
		cache:     c,
		dedup:     d,
		sched:     s,
		limiter:   l,
		breakers:  b,
		pool:      p,
	}
	f.exec = f.runOverPool
	return f
}

// Fetch runs the full pipeline for req (spec §2): admission, cache
// lookup, dedup join around scheduler+limiter+breaker+pool+wire I/O, and
// cache store on a storable response.
func (f *Fetcher) Fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	parsed, err := f.admission.Check(req)
	if err != nil {
		return nil, err
	}

	normalized := types.NormalizeURL(parsed.Scheme, parsed.Host, parsed.Port, parsed.Path, parsed.Query)
	fp := types.ComputeFingerprint(req.Method, normalized, req.Headers, req.Body)
	req.Fingerprint = fp
	host := types.HostKey{Scheme: parsed.Scheme, Host: parsed.Host, Port: parsed.Port}

	if !req.Cache.NoCache {
		if entry, ok := f.cache.Get(fp); ok {
			resp := entry.Response.Clone()
			resp.Cached = true
			return resp, nil
		}
	}

	resp, err, _ := f.dedup.Do(ctx, fp, func(callCtx context.Context) (*types.Response, error) {
		return f.executeWithRetry(callCtx, host, req)
	})
	if err != nil {
		return nil, err
	}

	if f.storable(req, resp) {
		f.cache.Set(fp, toEntry(resp))
	}
	return resp, nil
}

// executeWithRetry runs req.Retry's bounded-attempt backoff loop around a
// single network execution (spec §7 retry policy), following the
// RetryWaitMin/RetryWaitMax/RetryMax shape of retryablehttp.Options,
// generalized to a multiplicative backoff factor plus a total-timeout
// cap.
func (f *Fetcher) executeWithRetry(ctx context.Context, host types.HostKey, req *types.Request) (*types.Response, error) {
	policy := req.Retry
	if policy.MaxAttempts <= 0 {
		policy = f.cfg.DefaultRetry
	}

	var deadline time.Time
	if policy.TotalTimeoutCap > 0 {
		deadline = time.Now().Add(policy.TotalTimeoutCap)
	}

	delay := policy.InitialDelay
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}

		resp, err := f.exec(ctx, host, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !ferrors.Retriable(err) {
			return nil, err
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		sleep := delay
		if policy.Jitter {
			sleep = applyJitter(delay)
		}
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ferrors.NewCancelled()
		}
		delay = time.Duration(float64(delay) * policy.BackoffFactor)
	}
	gflog.Debug().Msgf("fetch: exhausted retries for %s: %v", host.String(), lastErr)
	return nil, lastErr
}

// applyJitter adds up to 25% uniform jitter to d, avoiding synchronized
// retry storms across workers.
func applyJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// runOverPool is the default exec seam (spec §2 control flow: Scheduler ->
// Rate limiter -> Circuit breaker -> Connection pool -> wire I/O ->
// record outcome). The scheduler decides *when* this request's worker
// slot runs; everything after that point runs inside the scheduled task
// so a request blocked on the limiter or breaker never occupies a pool
// connection, and a request blocked on the scheduler never consumes a
// rate-limit token.
func (f *Fetcher) runOverPool(ctx context.Context, host types.HostKey, req *types.Request) (*types.Response, error) {
	var resp *types.Response
	var stepErr error

	task := &scheduler.Task{
		Class:    classForPriority(req.Priority),
		Cost:     1,
		Deadline: req.Deadline,
		Fn: func(taskCtx context.Context) {
			resp, stepErr = f.runAdmittedOnce(taskCtx, host, req)
		},
	}

	if err := f.sched.SubmitWait(ctx, task); err != nil {
		return nil, err
	}
	return resp, stepErr
}

// runAdmittedOnce runs the rate limiter, breaker, pool, and wire I/O
// steps, in that order, once the scheduler has already granted this
// request a worker slot. It feeds the observed outcome back into the
// limiter and breaker regardless of which step failed (spec §4.3/§4.4
// feedback loops), except a limiter/breaker rejection itself, which
// carries no new outcome to record.
func (f *Fetcher) runAdmittedOnce(ctx context.Context, host types.HostKey, req *types.Request) (*types.Response, error) {
	if err := f.limiter.Allow(host.Host); err != nil {
		return nil, err
	}

	br := f.breakers.For(host.Host)
	if err := br.Allow(); err != nil {
		return nil, err
	}

	conn, err := f.pool.Acquire(ctx, host)
	if err != nil {
		br.RecordOutcome(true)
		f.limiter.RecordOutcome(host.Host, false)
		return nil, err
	}

	wireCtx := ctx
	var cancel context.CancelFunc
	if f.cfg.WireTimeout > 0 {
		wireCtx, cancel = context.WithTimeout(ctx, f.cfg.WireTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := writeAndRead(wireCtx, conn, req)
	latency := time.Since(start)
	f.pool.Release(host, conn, err == nil, latency)

	failed := err != nil || (resp != nil && breaker.IsFailureStatus(resp.Status, f.cfg.CountThrottleFail))
	br.RecordOutcome(failed)
	f.limiter.RecordOutcome(host.Host, !failed)

	if err != nil {
		return nil, err
	}
	if breaker.IsFailureStatus(resp.Status, false) {
		return resp, ferrors.NewHTTPStatus(resp.Status)
	}
	return resp, nil
}

// classForPriority maps a request's WFQ share selector onto the
// scheduler's string-keyed class space (spec §4.2 class weights are
// configured by name; priority is the caller-facing integer knob).
func classForPriority(priority int) string {
	switch {
	case priority > 0:
		return "high"
	case priority < 0:
		return "low"
	default:
		return "default"
	}
}

// storable implements spec §4.5's cache-store policy: 2xx by default,
// POST only when explicitly tagged, never when the response or request
// carries a no-store directive.
func (f *Fetcher) storable(req *types.Request, resp *types.Response) bool {
	if resp == nil || req.Cache.NoStore || resp.Directives.NoStore {
		return false
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return false
	}
	if req.Method == "POST" && !req.Cache.AllowStorePOST {
		return false
	}
	return true
}

func toEntry(resp *types.Response) *cache.Entry {
	now := time.Now()
	var expiresAt time.Time
	if resp.Directives.HasMaxAge {
		expiresAt = now.Add(resp.Directives.MaxAge)
	} else if !resp.Directives.Expires.IsZero() {
		expiresAt = resp.Directives.Expires
	}
	return &cache.Entry{
		Response:  resp,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		ETag:      resp.Directives.ETag,
		LastMod:   resp.Directives.LastModified,
		Size:      len(resp.Body),
	}
}
