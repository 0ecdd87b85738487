package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"

	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
)

type sitemapParseTool struct{ deps Deps }

func (*sitemapParseTool) Name() string { return "sitemap_parse" }
func (*sitemapParseTool) Description() string {
	return "Fetches a sitemap.xml (urlset or sitemapindex) and returns the URLs it lists."
}
func (*sitemapParseTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string", "description": "sitemap.xml URL"},
		},
		"required": []string{"url"},
	}
}

type sitemapParseArgs struct {
	URL string `json:"url"`
}

// sitemapURLSet and sitemapIndex cover both documents the sitemap
// protocol defines (a leaf urlset of <url><loc> entries, or an index of
// <sitemap><loc> entries pointing at further sitemaps).
type sitemapURLSet struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

type sitemapIndex struct {
	Sitemaps []struct {
		Loc string `xml:"loc"`
	} `xml:"sitemap"`
}

type sitemapParseResult struct {
	Status   int      `json:"status"`
	IsIndex  bool     `json:"is_index"`
	URLs     []string `json:"urls"`
	Error    string   `json:"error,omitempty"`
}

func (t *sitemapParseTool) Call(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
	var args sitemapParseArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return argError(err)
	}
	req := buildRequest("GET", args.URL, nil, nil)
	resp, err := t.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return marshalResult(sitemapParseResult{Error: err.Error()}), nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(resp.Body, &index); err == nil && len(index.Sitemaps) > 0 {
		urls := make([]string, 0, len(index.Sitemaps))
		for _, s := range index.Sitemaps {
			urls = append(urls, s.Loc)
		}
		return marshalResult(sitemapParseResult{Status: resp.Status, IsIndex: true, URLs: urls}), nil
	}

	var set sitemapURLSet
	if err := xml.Unmarshal(resp.Body, &set); err != nil {
		return marshalResult(sitemapParseResult{Status: resp.Status, Error: "parsing sitemap: " + err.Error()}), nil
	}
	urls := make([]string, 0, len(set.URLs))
	for _, u := range set.URLs {
		urls = append(urls, u.Loc)
	}
	return marshalResult(sitemapParseResult{Status: resp.Status, URLs: urls}), nil
}
