package tools

import (
	"context"
	"encoding/json"

	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
)

// checkStatusTool is fetch_url narrowed to a HEAD request with no body
// returned, for callers that only want liveness/status.
type checkStatusTool struct{ deps Deps }

func (*checkStatusTool) Name() string { return "check_status" }
func (*checkStatusTool) Description() string {
	return "Issues a HEAD request and reports the resulting status code and headers without a response body."
}
func (*checkStatusTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "URL to check"},
		},
		"required": []string{"url"},
	}
}

type checkStatusArgs struct {
	URL string `json:"url"`
}

func (t *checkStatusTool) Call(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
	var args checkStatusArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return argError(err)
	}
	req := buildRequest("HEAD", args.URL, nil, nil)
	req.Cache.NoCache = true
	return fetchAndReport(ctx, t.deps, req, false)
}
