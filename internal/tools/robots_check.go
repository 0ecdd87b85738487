package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/slicingmelon/gofetch-mcp/internal/admission"
	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
)

type robotsCheckTool struct{ deps Deps }

func (*robotsCheckTool) Name() string { return "robots_check" }
func (*robotsCheckTool) Description() string {
	return "Fetches a site's robots.txt and reports whether a given path is allowed for a user agent."
}
func (*robotsCheckTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url":        map[string]interface{}{"type": "string", "description": "any URL on the site whose robots.txt should be checked"},
			"path":       map[string]interface{}{"type": "string", "description": "path to check, defaults to the URL's own path"},
			"user_agent": map[string]interface{}{"type": "string", "description": "defaults to *"},
		},
		"required": []string{"url"},
	}
}

type robotsCheckArgs struct {
	URL       string `json:"url"`
	Path      string `json:"path"`
	UserAgent string `json:"user_agent"`
}

type robotsCheckResult struct {
	RobotsURL string `json:"robots_url"`
	Path      string `json:"path"`
	Allowed   bool   `json:"allowed"`
	Status    int    `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (t *robotsCheckTool) Call(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
	var args robotsCheckArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return argError(err)
	}
	parsed, err := admission.ParseURL(args.URL)
	if err != nil {
		return marshalResult(robotsCheckResult{Error: err.Error()}), nil
	}
	path := args.Path
	if path == "" {
		path = parsed.Path
	}
	if path == "" {
		path = "/"
	}
	userAgent := args.UserAgent
	if userAgent == "" {
		userAgent = "*"
	}

	robotsURL := parsed.Scheme + "://" + parsed.Host
	if (parsed.Scheme == "http" && parsed.Port != "80") || (parsed.Scheme == "https" && parsed.Port != "443") {
		robotsURL += ":" + parsed.Port
	}
	robotsURL += "/robots.txt"

	req := buildRequest("GET", robotsURL, nil, nil)
	resp, err := t.deps.Fetcher.Fetch(ctx, req)
	if err != nil {
		return marshalResult(robotsCheckResult{RobotsURL: robotsURL, Path: path, Error: err.Error()}), nil
	}
	if resp.Status >= 400 {
		// No (or unreachable) robots.txt: treat as allow-all, the common
		// crawler convention.
		return marshalResult(robotsCheckResult{RobotsURL: robotsURL, Path: path, Allowed: true, Status: resp.Status}), nil
	}

	allowed := robotsAllows(string(resp.Body), userAgent, path)
	return marshalResult(robotsCheckResult{RobotsURL: robotsURL, Path: path, Allowed: allowed, Status: resp.Status}), nil
}

// robotsAllows implements the widely-deployed subset of the robots.txt
// convention: group rules by User-agent block, prefer an exact-named
// group over "*", and within the matched group the longest matching
// Disallow/Allow prefix wins.
func robotsAllows(body, userAgent, path string) bool {
	groups := parseRobotsGroups(body)
	group, ok := groups[strings.ToLower(userAgent)]
	if !ok {
		group, ok = groups["*"]
		if !ok {
			return true
		}
	}

	longestMatch := -1
	allowed := true
	for _, rule := range group {
		if !strings.HasPrefix(path, rule.prefix) {
			continue
		}
		if len(rule.prefix) > longestMatch {
			longestMatch = len(rule.prefix)
			allowed = rule.allow
		}
	}
	return allowed
}

type robotsRule struct {
	prefix string
	allow  bool
}

func parseRobotsGroups(body string) map[string][]robotsRule {
	groups := make(map[string][]robotsRule)
	var current []string
	inAgents := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			// consecutive User-agent lines share one block of rules
			if !inAgents {
				current = nil
			}
			inAgents = true
			ua := strings.ToLower(value)
			current = append(current, ua)
			if _, exists := groups[ua]; !exists {
				groups[ua] = nil
			}
		case "disallow":
			inAgents = false
			if value == "" {
				continue
			}
			for _, ua := range current {
				groups[ua] = append(groups[ua], robotsRule{prefix: value, allow: false})
			}
		case "allow":
			inAgents = false
			for _, ua := range current {
				groups[ua] = append(groups[ua], robotsRule{prefix: value, allow: true})
			}
		}
	}
	return groups
}
