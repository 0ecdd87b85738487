package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
)

// hrefRegex follows a regexp.MustCompile-against-raw-HTML idiom rather
// than pulling in a full HTML parser for a best-effort link scrape.
var hrefRegex = regexp.MustCompile(`(?i)<a\s[^>]*href\s*=\s*["']([^"'#][^"']*)["']`)

type extractLinksTool struct{ deps Deps }

func (*extractLinksTool) Name() string { return "extract_links" }
func (*extractLinksTool) Description() string {
	return "Fetches a page and extracts the href targets of its anchor tags."
}
func (*extractLinksTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string"},
		},
		"required": []string{"url"},
	}
}

type extractLinksArgs struct {
	URL string `json:"url"`
}

type extractLinksResult struct {
	Status int      `json:"status"`
	Links  []string `json:"links"`
	Error  string   `json:"error,omitempty"`
}

func (t *extractLinksTool) Call(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
	var args extractLinksArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return argError(err)
	}
	req := buildRequest("GET", args.URL, nil, nil)
	resp, err := t.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return marshalResult(extractLinksResult{Error: err.Error()}), nil
	}
	return marshalResult(extractLinksResult{Status: resp.Status, Links: extractLinks(string(resp.Body))}), nil
}

func extractLinks(body string) []string {
	matches := hrefRegex.FindAllStringSubmatch(body, -1)
	links := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		href := strings.TrimSpace(m[1])
		if href == "" || seen[href] {
			continue
		}
		seen[href] = true
		links = append(links, href)
	}
	return links
}
