// Command gofetchmcp wires the core pipeline of spec §2 (admission,
// scheduler, rate limiter, circuit breaker, dedup+cache, connection pool)
// to an MCP JSON-RPC 2.0 server framed over stdio: build dependencies,
// hand them to a dispatcher, and run a long-lived RPC loop until
// shutdown instead of a one-shot CLI scan.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/slicingmelon/gofetch-mcp/internal/admission"
	"github.com/slicingmelon/gofetch-mcp/internal/breaker"
	"github.com/slicingmelon/gofetch-mcp/internal/cache"
	"github.com/slicingmelon/gofetch-mcp/internal/config"
	"github.com/slicingmelon/gofetch-mcp/internal/dedup"
	"github.com/slicingmelon/gofetch-mcp/internal/fetch"
	"github.com/slicingmelon/gofetch-mcp/internal/gflog"
	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
	"github.com/slicingmelon/gofetch-mcp/internal/pool"
	"github.com/slicingmelon/gofetch-mcp/internal/pool/dialer"
	"github.com/slicingmelon/gofetch-mcp/internal/ratelimit"
	"github.com/slicingmelon/gofetch-mcp/internal/scheduler"
	"github.com/slicingmelon/gofetch-mcp/internal/tools"
)

const (
	serverName    = "gofetch-mcp"
	serverVersion = "0.1.0"
)

func main() {
	gflog.Info().Msgf("Initializing %s...", serverName)

	cfg, err := config.Load()
	if err != nil {
		gflog.Error().Msgf("Config load failed: %v", err)
		os.Exit(1)
	}

	c, sched, lim, p, f := buildPipeline(cfg)
	defer sched.Close()
	defer lim.Close()
	defer p.Close()

	dispatcher := mcp.New(serverName, serverVersion)
	registerResources(dispatcher, sched, c, cfg)
	tools.Register(dispatcher, tools.Deps{Fetcher: f, Cache: c, Pool: p})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := serveStdio(ctx, dispatcher); err != nil && err != io.EOF {
		gflog.Error().Msgf("Serving stdio failed: %v", err)
		os.Exit(1)
	}
}

// buildPipeline wires spec §2's six components in the leaves-first order
// the spec itself enumerates them.
func buildPipeline(cfg config.Config) (*cache.ARC, *scheduler.Scheduler, *ratelimit.Limiter, *pool.Pool, *fetch.Fetcher) {
	a := admission.New(cfg.AdmissionPolicy(), resolverAdapter{})
	c := cache.New(cfg.CacheCapacity())
	dd := dedup.New()
	sched := scheduler.New(cfg.SchedulerConfig())
	lim := ratelimit.New(cfg.RateLimiterGlobal(), cfg.RateLimiterHostDefault(), cfg.RateLimiterAdaptation())
	br := breaker.NewManager(cfg.BreakerConfig())

	d, err := dialer.New(cfg.DialerConfig())
	if err != nil {
		gflog.Error().Msgf("Dialer init failed: %v", err)
		os.Exit(1)
	}
	p := pool.New(cfg.PoolConfig(), d)

	f := fetch.New(a, c, dd, sched, lim, br, p, cfg.FetchConfig())
	return c, sched, lim, p, f
}

// resolverAdapter bridges admission.Resolver's synchronous, ctx-free shape
// to the stdlib resolver, used only for the private-IP check on hostnames
// that aren't already IP literals (spec §4.1).
type resolverAdapter struct{}

func (resolverAdapter) LookupHost(host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(context.Background(), host)
}

func registerResources(d *mcp.Dispatcher, sched *scheduler.Scheduler, c *cache.ARC, cfg config.Config) {
	d.RegisterResource("cache://stats", "cache-stats", "ARC resident/ghost list sizes and adaptation parameter p", "application/json",
		func(ctx context.Context) (json.RawMessage, error) {
			return json.Marshal(c.Stats())
		})
	d.RegisterResource("metrics://performance", "performance-metrics", "scheduler worker-pool throughput counters", "application/json",
		func(ctx context.Context) (json.RawMessage, error) {
			return json.Marshal(sched.Stats())
		})
	d.RegisterResource("config://current", "current-config", "the configuration object this server started with", "application/json",
		func(ctx context.Context) (json.RawMessage, error) {
			return json.Marshal(cfg)
		})
}

// serveStdio is spec §1's "out of scope... framing, transport" external
// collaborator made concrete for the minimal stdio case: one JSON-RPC
// request per line in, one response per line out. WebSocket or any other
// framing is left to a different front-end built on the same Dispatcher.
func serveStdio(ctx context.Context, d *mcp.Dispatcher) error {
	reader := bufio.NewReaderSize(os.Stdin, 1<<20)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			handleLine(ctx, d, writer, line)
		}
		if err != nil {
			return err
		}
	}
}

func handleLine(ctx context.Context, d *mcp.Dispatcher, writer *bufio.Writer, line []byte) {
	var req mcp.Request
	if err := json.Unmarshal(line, &req); err != nil {
		resp := mcp.Response{JSONRPC: "2.0", Error: &mcp.Error{Code: mcp.CodeParseError, Message: err.Error()}}
		writeResponse(writer, resp)
		return
	}

	resp := d.Handle(ctx, &req)
	writeResponse(writer, *resp)
}

func writeResponse(writer *bufio.Writer, resp mcp.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		gflog.Error().Msgf("Marshaling response failed: %v", err)
		return
	}
	if _, err := writer.Write(data); err != nil {
		gflog.Error().Msgf("Writing response failed: %v", err)
		return
	}
	writer.WriteByte('\n')
	if err := writer.Flush(); err != nil {
		gflog.Error().Msgf("Flushing response failed: %v", err)
	}
}
