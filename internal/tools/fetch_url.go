package tools

import (
	"context"
	"encoding/json"

	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
)

type fetchURLTool struct{ deps Deps }

func (*fetchURLTool) Name() string { return "fetch_url" }
func (*fetchURLTool) Description() string {
	return "Fetches a single URL through the pipeline (admission, cache, dedup, scheduler, rate limiting, circuit breaking) and returns its status, headers, and body."
}
func (*fetchURLTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":      map[string]interface{}{"type": "string", "description": "URL to fetch"},
			"method":   map[string]interface{}{"type": "string", "description": "HTTP method, defaults to GET"},
			"headers":  map[string]interface{}{"type": "object", "description": "request headers", "additionalProperties": map[string]interface{}{"type": "string"}},
			"no_cache": map[string]interface{}{"type": "boolean", "description": "bypass cache lookup for this request"},
		},
		"required": []string{"url"},
	}
}

type fetchURLArgs struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	NoCache bool              `json:"no_cache"`
}

func (t *fetchURLTool) Call(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
	var args fetchURLArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return argError(err)
	}
	req := buildRequest(args.Method, args.URL, args.Headers, nil)
	req.Cache.NoCache = args.NoCache
	return fetchAndReport(ctx, t.deps, req, true)
}
