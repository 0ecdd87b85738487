// Package tools implements the eight tools/call targets of spec §6 atop
// internal/fetch's pipeline: fetch_url, fetch_batch, check_status,
// extract_links, robots_check, sitemap_parse, content_analyze, and
// cache_management. Each tool is a thin argument-parsing/response-shaping
// adapter around internal/fetch.Fetcher (or, for cache_management,
// internal/cache and internal/pool directly), keeping the actual
// fetching/caching logic out of the command-handling layer.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slicingmelon/gofetch-mcp/internal/cache"
	"github.com/slicingmelon/gofetch-mcp/internal/fetch"
	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
	"github.com/slicingmelon/gofetch-mcp/internal/pool"
	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// Deps is the shared set of pipeline handles every tool is built from.
// main constructs one Deps and passes it to Register.
type Deps struct {
	Fetcher *fetch.Fetcher
	Cache   *cache.ARC
	Pool    *pool.Pool
}

// Register builds all eight tools and adds them to d.
func Register(d *mcp.Dispatcher, deps Deps) {
	d.RegisterTool(&fetchURLTool{deps: deps})
	d.RegisterTool(&fetchBatchTool{deps: deps})
	d.RegisterTool(&checkStatusTool{deps: deps})
	d.RegisterTool(&extractLinksTool{deps: deps})
	d.RegisterTool(&robotsCheckTool{deps: deps})
	d.RegisterTool(&sitemapParseTool{deps: deps})
	d.RegisterTool(&contentAnalyzeTool{deps: deps})
	d.RegisterTool(&cacheManagementTool{deps: deps})
}

// argError reports malformed tools/call arguments the way a handler
// bails out early, before anything reaches the fetch pipeline.
func argError(err error) (mcp.ToolResult, error) {
	return mcp.ErrorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
}

// buildRequest turns a tool's method/url/headers/body arguments into a
// pipeline Request. method defaults to GET.
func buildRequest(method, url string, headers map[string]string, body []byte) *types.Request {
	if method == "" {
		method = "GET"
	}
	h := types.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &types.Request{Method: method, URL: url, Headers: h, Body: body}
}

// fetchResultJSON is the common shape every fetch-backed tool reports
// back through a text content block (clients read it as embedded JSON).
type fetchResultJSON struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	Cached  bool              `json:"cached"`
	Error   string            `json:"error,omitempty"`
}

func toFetchResultJSON(resp *types.Response, err error, includeBody bool) fetchResultJSON {
	if err != nil {
		return fetchResultJSON{Error: err.Error()}
	}
	out := fetchResultJSON{Status: resp.Status, Cached: resp.Cached}
	if includeBody {
		out.Body = string(resp.Body)
	}
	if len(resp.Headers) > 0 {
		out.Headers = make(map[string]string, len(resp.Headers))
		for k, v := range resp.Headers {
			if len(v) > 0 {
				out.Headers[k] = v[0]
			}
		}
	}
	return out
}

func marshalResult(v interface{}) mcp.ToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.ErrorResult(fmt.Sprintf("internal: marshaling result: %v", err))
	}
	return mcp.TextResult(string(b))
}

// fetchAndReport runs req through deps.Fetcher and shapes the outcome as
// a ToolResult, used by every tool whose job is "fetch once, report
// status/body" rather than something fetch_batch/sitemap_parse-specific.
func fetchAndReport(ctx context.Context, deps Deps, req *types.Request, includeBody bool) (mcp.ToolResult, error) {
	resp, err := deps.Fetcher.Fetch(ctx, req)
	return marshalResult(toFetchResultJSON(resp, err, includeBody)), nil
}
