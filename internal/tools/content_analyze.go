package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
)

// titleRegex follows the same regexp-against-raw-HTML idiom as hrefRegex.
var titleRegex = regexp.MustCompile(`(?i)<title>(.*?)</title>`)

type contentAnalyzeTool struct{ deps Deps }

func (*contentAnalyzeTool) Name() string { return "content_analyze" }
func (*contentAnalyzeTool) Description() string {
	return "Fetches a page and reports its title, content type, byte length, and approximate word count."
}
func (*contentAnalyzeTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string"},
		},
		"required": []string{"url"},
	}
}

type contentAnalyzeArgs struct {
	URL string `json:"url"`
}

type contentAnalyzeResult struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Title       string `json:"title,omitempty"`
	Bytes       int    `json:"bytes"`
	Words       int    `json:"words"`
	Error       string `json:"error,omitempty"`
}

func (t *contentAnalyzeTool) Call(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
	var args contentAnalyzeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return argError(err)
	}
	req := buildRequest("GET", args.URL, nil, nil)
	resp, err := t.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return marshalResult(contentAnalyzeResult{Error: err.Error()}), nil
	}
	body := string(resp.Body)
	title := ""
	if m := titleRegex.FindStringSubmatch(body); len(m) > 1 {
		title = strings.TrimSpace(m[1])
	}
	return marshalResult(contentAnalyzeResult{
		Status:      resp.Status,
		ContentType: resp.Headers.Get("Content-Type"),
		Title:       title,
		Bytes:       len(resp.Body),
		Words:       len(strings.Fields(body)),
	}), nil
}
