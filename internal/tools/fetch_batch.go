package tools

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/projectdiscovery/ratelimit"

	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
)

// fetchBatchTool fans a URL list out across the fetch pipeline, pacing
// how fast new requests are handed to the scheduler with
// projectdiscovery/ratelimit rather than relying solely on
// internal/ratelimit's per-host adaptive bucket — a caller batching
// thousands of URLs against many distinct hosts would otherwise bypass
// per-host shaping entirely by fanning out unthrottled goroutines.
type fetchBatchTool struct{ deps Deps }

func (*fetchBatchTool) Name() string { return "fetch_batch" }
func (*fetchBatchTool) Description() string {
	return "Fetches a list of URLs concurrently, paced at a bounded rate, and returns one result per URL in the same order."
}
func (*fetchBatchTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"urls":            map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"rate_per_second": map[string]interface{}{"type": "integer", "description": "max new requests enqueued per second, defaults to 20"},
		},
		"required": []string{"urls"},
	}
}

type fetchBatchArgs struct {
	URLs          []string `json:"urls"`
	RatePerSecond uint     `json:"rate_per_second"`
}

func (t *fetchBatchTool) Call(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
	var args fetchBatchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return argError(err)
	}
	if len(args.URLs) == 0 {
		return mcp.ErrorResult("urls must be non-empty"), nil
	}
	rate := args.RatePerSecond
	if rate == 0 {
		rate = 20
	}

	limiter := ratelimit.New(ctx, rate, time.Second)
	defer limiter.Stop()

	results := make([]fetchResultJSON, len(args.URLs))
	var wg sync.WaitGroup
	for i, url := range args.URLs {
		limiter.Take()
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			req := buildRequest("GET", url, nil, nil)
			resp, err := t.deps.Fetcher.Fetch(ctx, req)
			results[i] = toFetchResultJSON(resp, err, true)
		}(i, url)
	}
	wg.Wait()

	return marshalResult(struct {
		Results []fetchResultJSON `json:"results"`
	}{Results: results}), nil
}
