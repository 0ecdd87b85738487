package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slicingmelon/gofetch-mcp/internal/admission"
	"github.com/slicingmelon/gofetch-mcp/internal/mcp"
	"github.com/slicingmelon/gofetch-mcp/internal/types"
)

// cacheManagementTool exposes the cache://stats payload plus mutating
// actions (invalidate one entry, clear everything) and a per-host pool
// snapshot, a handful of operator-facing diagnostics over the same
// underlying state the engine itself reads.
type cacheManagementTool struct{ deps Deps }

func (*cacheManagementTool) Name() string { return "cache_management" }
func (*cacheManagementTool) Description() string {
	return "Inspects or mutates cache state: action=stats reports ARC sizes, action=invalidate evicts one URL's entry, action=clear empties the cache, action=pool_stats reports a host's connection pool state."
}
func (*cacheManagementTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{"type": "string", "enum": []string{"stats", "invalidate", "clear", "pool_stats"}},
			"url":    map[string]interface{}{"type": "string", "description": "required for invalidate and pool_stats"},
			"method": map[string]interface{}{"type": "string", "description": "method of the entry to invalidate, defaults to GET"},
		},
		"required": []string{"action"},
	}
}

type cacheManagementArgs struct {
	Action string `json:"action"`
	URL    string `json:"url"`
	Method string `json:"method"`
}

func (t *cacheManagementTool) Call(ctx context.Context, raw json.RawMessage) (mcp.ToolResult, error) {
	var args cacheManagementArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return argError(err)
	}

	switch args.Action {
	case "stats", "":
		return marshalResult(t.deps.Cache.Stats()), nil
	case "clear":
		t.deps.Cache.Clear()
		return mcp.TextResult("cache cleared"), nil
	case "invalidate":
		if args.URL == "" {
			return mcp.ErrorResult("url is required for action=invalidate"), nil
		}
		parsed, err := admission.ParseURL(args.URL)
		if err != nil {
			return mcp.ErrorResult(fmt.Sprintf("parsing url: %v", err)), nil
		}
		method := args.Method
		if method == "" {
			method = "GET"
		}
		normalized := types.NormalizeURL(parsed.Scheme, parsed.Host, parsed.Port, parsed.Path, parsed.Query)
		fp := types.ComputeFingerprint(method, normalized, types.Header{}, nil)
		t.deps.Cache.Delete(fp)
		return mcp.TextResult("invalidated"), nil
	case "pool_stats":
		if args.URL == "" {
			return mcp.ErrorResult("url is required for action=pool_stats"), nil
		}
		parsed, err := admission.ParseURL(args.URL)
		if err != nil {
			return mcp.ErrorResult(fmt.Sprintf("parsing url: %v", err)), nil
		}
		host := types.HostKey{Scheme: parsed.Scheme, Host: parsed.Host, Port: parsed.Port}
		if t.deps.Pool == nil {
			return mcp.ErrorResult("connection pool not wired"), nil
		}
		return marshalResult(t.deps.Pool.Stats(host)), nil
	default:
		return mcp.ErrorResult(fmt.Sprintf("unknown action: %s", args.Action)), nil
	}
}
