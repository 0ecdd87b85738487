// Package pool implements the per-host connection pool of spec §4.6: a
// HostKey -> HostPool map, an acquire/release algorithm that dials on
// demand up to a per-host cap, H1 exclusive-borrow and H2 stream-slot
// multiplexing, p95-latency-driven cap adaptation, and idle reaping.
package pool

import (
	"container/ring"
	"context"
	"crypto/tls"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
	"github.com/slicingmelon/gofetch-mcp/internal/gflog"
	"github.com/slicingmelon/gofetch-mcp/internal/pool/dialer"
	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// Protocol is the negotiated application protocol for a PooledConnection.
type Protocol int

const (
	ProtoH1 Protocol = iota
	ProtoH2
)

// PooledConnection is spec §3's PooledConnection: a transport handle plus
// bookkeeping used by both the pool's own accounting and by the caller
// driving the actual request/response bytes over it.
type PooledConnection struct {
	Conn     net.Conn
	Protocol Protocol
	h2cc     *http2.ClientConn // non-nil only for ProtoH2

	createdAt time.Time
	lastUsed  atomicTime
	served    int64 // guarded by the owning HostPool's mutex
}

// H2ClientConn exposes the negotiated HTTP/2 connection so internal/fetch
// can call RoundTrip(*http.Request) on it directly; nil for an H1
// PooledConnection, whose Conn the caller frames by hand.
func (pc *PooledConnection) H2ClientConn() *http2.ClientConn {
	return pc.h2cc
}

func (pc *PooledConnection) canTakeH2Stream() bool {
	if pc.h2cc == nil {
		return false
	}
	return pc.h2cc.CanTakeNewRequest()
}

func (pc *PooledConnection) activeStreams() (active int, maxStreams uint32) {
	if pc.h2cc == nil {
		return 0, 0
	}
	st := pc.h2cc.State()
	return st.StreamsActive + st.StreamsReserved, st.MaxConcurrentStreams
}

func (pc *PooledConnection) idleAge(now time.Time) time.Duration {
	return now.Sub(pc.lastUsed.load())
}

func (pc *PooledConnection) close() {
	_ = pc.Conn.Close()
}

// atomicTime stores a time.Time behind a mutex; there is no lock-free
// atomic.Time in the standard library and this value is touched rarely
// enough (once per acquire/release) that a mutex is the right tool.
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) load() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

// Config bounds a single HostPool (spec §4.6 adaptation).
type Config struct {
	InitialCap     int32
	MinCap         int32
	MaxCap         int32
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	IdleGrace      time.Duration // pool removed from the map after this long fully idle
	LatencyWindow  int           // samples kept for p95 computation
}

func DefaultConfig() Config {
	return Config{
		InitialCap:     16,
		MinCap:         2,
		MaxCap:         64,
		IdleTimeout:    90 * time.Second,
		ConnectTimeout: 10 * time.Second,
		IdleGrace:      5 * time.Minute,
		LatencyWindow:  64,
	}
}

// HostPool is spec §3's HostPool: idle connection queue, active count, cap,
// and a rolling latency window used for cap adaptation.
type HostPool struct {
	host types.HostKey
	cfg  Config

	mu     sync.Mutex
	idle   []*PooledConnection
	active int32
	cap    int32

	h2conn *PooledConnection // the single shared H2 connection, if negotiated

	waiters []chan struct{}

	latencies      *ring.Ring
	latencyCount   int
	baselineP95    time.Duration
	aboveBaselineN int

	lastActivity time.Time
}

func newHostPool(host types.HostKey, cfg Config) *HostPool {
	return &HostPool{
		host:         host,
		cfg:          cfg,
		cap:          cfg.InitialCap,
		latencies:    ring.New(cfg.LatencyWindow),
		lastActivity: time.Now(),
	}
}

// Pool maps HostKey to HostPool (spec §4.6). Entries are created lazily and
// reaped by the idle-reaping loop; unlike internal/breaker's map (which
// must never evict live state), a HostPool with zero idle and zero active
// connections carries no state worth keeping, so a plain mutex-guarded map
// with explicit reaping is the right shape here too -- gcache's TTL
// eviction would close connections the pool still considers idle-but-valid
// purely because of elapsed wall time unrelated to IdleTimeout.
type Pool struct {
	cfg    Config
	dial   netDialer
	mu     sync.Mutex
	hosts  map[types.HostKey]*HostPool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// netDialer is the subset of *dialer.Dialer the pool needs, narrowed to an
// interface so tests can substitute an in-process net.Pipe dialer instead
// of routing through fastdialer's real DNS resolution.
type netDialer interface {
	DialPlain(ctx context.Context, addr string) (net.Conn, error)
	DialTLSNegotiated(ctx context.Context, addr string) (*dialer.NegotiatedConn, error)
}

func New(cfg Config, d netDialer) *Pool {
	p := &Pool{
		cfg:    cfg,
		dial:   d,
		hosts:  make(map[types.HostKey]*HostPool),
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.reapLoop()
	return p
}

func (p *Pool) Close() {
	close(p.stopCh)
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hp := range p.hosts {
		hp.mu.Lock()
		for _, c := range hp.idle {
			c.close()
		}
		if hp.h2conn != nil {
			hp.h2conn.close()
		}
		hp.mu.Unlock()
	}
}

func (p *Pool) hostPool(host types.HostKey) *HostPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	hp, ok := p.hosts[host]
	if !ok {
		hp = newHostPool(host, p.cfg)
		p.hosts[host] = hp
	}
	return hp
}

// Acquire implements spec §4.6's acquisition algorithm. host.Scheme
// selects plain-TCP (http) vs TLS-with-ALPN (https) dialing.
func (p *Pool) Acquire(ctx context.Context, host types.HostKey) (*PooledConnection, error) {
	hp := p.hostPool(host)

	for {
		hp.mu.Lock()
		// 1. an H2 connection with a spare stream slot always wins: it is
		// cheaper than anything else and spec treats it as multi-borrow.
		if hp.h2conn != nil && hp.h2conn.canTakeH2Stream() {
			hp.h2conn.lastUsed.store(time.Now())
			hp.h2conn.served++
			hp.mu.Unlock()
			return hp.h2conn, nil
		}

		// 2. an idle H1 connection not past its idle timeout.
		now := time.Now()
		for len(hp.idle) > 0 {
			c := hp.idle[len(hp.idle)-1]
			hp.idle = hp.idle[:len(hp.idle)-1]
			if c.idleAge(now) > hp.cfg.IdleTimeout {
				c.close()
				continue
			}
			hp.active++
			c.lastUsed.store(now)
			c.served++
			hp.mu.Unlock()
			return c, nil
		}

		// 3. below cap: dial a new connection.
		if hp.active < hp.cap && hp.h2conn == nil {
			hp.active++
			hp.mu.Unlock()
			c, err := p.dialNew(ctx, host)
			if err != nil {
				hp.mu.Lock()
				hp.active--
				hp.mu.Unlock()
				return nil, err
			}
			if c.Protocol == ProtoH2 {
				hp.mu.Lock()
				hp.active--
				hp.h2conn = c
				hp.mu.Unlock()
				return p.Acquire(ctx, host) // re-enter to take a stream slot
			}
			return c, nil
		}

		// 4. wait for a release signal or the context deadline.
		ready := make(chan struct{}, 1)
		hp.waiters = append(hp.waiters, ready)
		hp.mu.Unlock()

		select {
		case <-ready:
			continue
		case <-ctx.Done():
			return nil, ferrors.NewPoolExhausted(host.String())
		}
	}
}

func (p *Pool) dialNew(ctx context.Context, host types.HostKey) (*PooledConnection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	addr := net.JoinHostPort(host.Host, host.Port)
	now := time.Now()

	if host.Scheme != "https" {
		conn, err := p.dial.DialPlain(dialCtx, addr)
		if err != nil {
			return nil, ferrors.NewTransport(err)
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
			_ = tc.SetKeepAlive(true)
		}
		pc := &PooledConnection{Conn: conn, Protocol: ProtoH1, createdAt: now}
		pc.lastUsed.store(now)
		return pc, nil
	}

	nc, err := p.dial.DialTLSNegotiated(dialCtx, addr)
	if err != nil {
		return nil, ferrors.NewTransport(err)
	}
	if tc, ok := nc.Conn.(*tls.Conn); ok {
		if underlying, ok := tc.NetConn().(*net.TCPConn); ok {
			_ = underlying.SetNoDelay(true)
			_ = underlying.SetKeepAlive(true)
		}
	}
	if nc.Protocol == "h2" {
		t := &http2.Transport{}
		cc, err := t.NewClientConn(nc.Conn)
		if err != nil {
			nc.Conn.Close()
			return nil, ferrors.NewTransport(err)
		}
		pc := &PooledConnection{Conn: nc.Conn, Protocol: ProtoH2, h2cc: cc, createdAt: now}
		pc.lastUsed.store(now)
		return pc, nil
	}
	pc := &PooledConnection{Conn: nc.Conn, Protocol: ProtoH1, createdAt: now}
	pc.lastUsed.store(now)
	return pc, nil
}

// Release returns a connection to the pool (spec §4.6 "Release"). healthy
// is false on any I/O or protocol error, forcing a close instead of reuse.
func (p *Pool) Release(host types.HostKey, c *PooledConnection, healthy bool, latency time.Duration) {
	hp := p.hostPool(host)
	hp.mu.Lock()
	hp.lastActivity = time.Now()
	hp.recordLatency(latency)

	if c.Protocol == ProtoH2 {
		// nothing to return to an idle queue; the H2 connection stays
		// "acquired" by the pool as long as streams remain active
		// (spec §4.6 HTTP/2 multiplexing).
		if !healthy {
			c.close()
			hp.h2conn = nil
		}
		hp.wakeWaiter()
		hp.mu.Unlock()
		return
	}

	hp.active--
	if healthy && len(hp.idle) < int(hp.cap) {
		hp.idle = append(hp.idle, c)
	} else {
		c.close()
	}
	hp.wakeWaiter()
	hp.mu.Unlock()
}

func (hp *HostPool) wakeWaiter() {
	if len(hp.waiters) == 0 {
		return
	}
	w := hp.waiters[0]
	hp.waiters = hp.waiters[1:]
	select {
	case w <- struct{}{}:
	default:
	}
}

func (hp *HostPool) recordLatency(d time.Duration) {
	if d <= 0 {
		return
	}
	hp.latencies.Value = d
	hp.latencies = hp.latencies.Next()
	if hp.latencyCount < hp.latencies.Len() {
		hp.latencyCount++
	}
}

// p95 returns the 95th-percentile latency over the current window, or 0 if
// fewer than a handful of samples have been recorded.
func (hp *HostPool) p95() time.Duration {
	if hp.latencyCount < 5 {
		return 0
	}
	samples := make([]time.Duration, 0, hp.latencyCount)
	hp.latencies.Do(func(v interface{}) {
		if v == nil {
			return
		}
		samples = append(samples, v.(time.Duration))
	})
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := (len(samples) * 95) / 100
	if idx >= len(samples) {
		idx = len(samples) - 1
	}
	return samples[idx]
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

func (p *Pool) reapOnce() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, hp := range p.hosts {
		hp.mu.Lock()
		hp.adaptCap()
		kept := hp.idle[:0]
		for _, c := range hp.idle {
			if c.idleAge(now) > hp.cfg.IdleTimeout {
				c.close()
				continue
			}
			kept = append(kept, c)
		}
		hp.idle = kept
		if hp.h2conn != nil {
			if active, _ := hp.h2conn.activeStreams(); active == 0 && hp.h2conn.idleAge(now) > hp.cfg.IdleTimeout {
				hp.h2conn.close()
				hp.h2conn = nil
			}
		}
		empty := len(hp.idle) == 0 && hp.active == 0 && hp.h2conn == nil
		stale := now.Sub(hp.lastActivity) > hp.cfg.IdleGrace
		hp.mu.Unlock()
		if empty && stale {
			delete(p.hosts, key)
			gflog.Debug().Msgf("pool: reaped idle host pool for %s", key.String())
		}
	}
}

// adaptCap implements spec §4.6's p95-doubling heuristic: two consecutive
// windows at >= 2x baseline reduce the cap by ~25% (floor MinCap);
// recovery below baseline while saturating restores it in 25% steps
// (ceiling MaxCap). Assumes hp.mu is already held by the caller.
func (hp *HostPool) adaptCap() {
	cur := hp.p95()
	if cur == 0 {
		return
	}
	if hp.baselineP95 == 0 {
		hp.baselineP95 = cur
		return
	}
	saturating := hp.active >= hp.cap
	if cur >= hp.baselineP95*2 {
		hp.aboveBaselineN++
		if hp.aboveBaselineN >= 2 {
			newCap := hp.cap - (hp.cap+3)/4
			if newCap < hp.cfg.MinCap {
				newCap = hp.cfg.MinCap
			}
			hp.cap = newCap
			hp.aboveBaselineN = 0
		}
		return
	}
	hp.aboveBaselineN = 0
	if cur < hp.baselineP95 && saturating {
		newCap := hp.cap + (hp.cap+3)/4
		if newCap > hp.cfg.MaxCap {
			newCap = hp.cfg.MaxCap
		}
		hp.cap = newCap
	}
}

// Stats reports a snapshot for cache/pool introspection (cache_management
// tool, spec §6 Resources).
type Stats struct {
	Active int32
	Idle   int
	Cap    int32
	P95Ms  int64
}

func (p *Pool) Stats(host types.HostKey) Stats {
	hp := p.hostPool(host)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	return Stats{Active: hp.active, Idle: len(hp.idle), Cap: hp.cap, P95Ms: hp.p95().Milliseconds()}
}
