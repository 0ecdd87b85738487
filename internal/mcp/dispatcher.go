package mcp

import (
	"context"
	"encoding/json"
	"sync"
)

// Tool is one tools/call target. Call receives the raw "arguments" field
// of a tools/call request and returns the content the caller sees;
// returning an error surfaces as a JSON-RPC error object rather than an
// in-band ToolResult, so a tool reporting a handled failure should return
// (ErrorResult(...), nil) instead.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Call(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// ResourceReader answers a resources/read call for one registered URI.
type ResourceReader func(ctx context.Context) (json.RawMessage, error)

type resourceEntry struct {
	desc   Resource
	reader ResourceReader
}

// Dispatcher routes JSON-RPC 2.0 requests to registered tools and
// resources (spec §6). It holds no pipeline state of its own; main wires
// concrete Tool implementations and ResourceReader funcs backed by
// internal/fetch, internal/cache, internal/pool, and internal/config.
type Dispatcher struct {
	info ServerInfo

	mu        sync.RWMutex
	tools     map[string]Tool
	toolOrder []string
	resources map[string]resourceEntry
	resOrder  []string
}

// New builds a Dispatcher identifying itself as name/version in
// initialize responses.
func New(name, version string) *Dispatcher {
	return &Dispatcher{
		info:      ServerInfo{Name: name, Version: version},
		tools:     make(map[string]Tool),
		resources: make(map[string]resourceEntry),
	}
}

// RegisterTool adds t to the tools/list and tools/call surface. Call
// order determines tools/list ordering, matching spec §8's "two
// successive tools/list calls return identical tool sets" property.
func (d *Dispatcher) RegisterTool(t Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := t.Name()
	if _, exists := d.tools[name]; !exists {
		d.toolOrder = append(d.toolOrder, name)
	}
	d.tools[name] = t
}

// RegisterResource publishes uri under resources/list and wires reader
// to answer resources/read calls for it.
func (d *Dispatcher) RegisterResource(uri, name, description, mimeType string, reader ResourceReader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.resources[uri]; !exists {
		d.resOrder = append(d.resOrder, uri)
	}
	d.resources[uri] = resourceEntry{
		desc:   Resource{URI: uri, Name: name, Description: description, MimeType: mimeType},
		reader: reader,
	}
}

// Handle dispatches a single JSON-RPC request, returning the response to
// serialize back to the caller. It never returns a nil Response: an
// unknown method still produces a JSON-RPC error object carrying the
// original request's ID.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	resp := &Response{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = mustMarshal(InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      d.info,
			Capabilities:    Capabilities{Tools: ToolsCapability{}, Resources: ResourcesCapability{}},
		})
	case "tools/list":
		resp.Result = mustMarshal(d.toolsList())
	case "tools/call":
		result, err := d.callTool(ctx, req.Params)
		if err != nil {
			resp.Error = errorFor(err)
			return resp
		}
		resp.Result = mustMarshal(result)
	case "resources/list":
		resp.Result = mustMarshal(d.resourcesList())
	case "resources/read":
		content, err := d.readResource(ctx, req.Params)
		if err != nil {
			resp.Error = errorFor(err)
			return resp
		}
		resp.Result = content
	default:
		resp.Error = &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
	return resp
}

func (d *Dispatcher) toolsList() ToolsListResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]ToolDescriptor, 0, len(d.toolOrder))
	for _, name := range d.toolOrder {
		t := d.tools[name]
		out = append(out, ToolDescriptor{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return ToolsListResult{Tools: out}
}

func (d *Dispatcher) resourcesList() ResourcesListResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Resource, 0, len(d.resOrder))
	for _, uri := range d.resOrder {
		out = append(out, d.resources[uri].desc)
	}
	return ResourcesListResult{Resources: out}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) callTool(ctx context.Context, params json.RawMessage) (ToolResult, error) {
	var p toolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ToolResult{}, invalidParams("tools/call: " + err.Error())
	}
	d.mu.RLock()
	t, ok := d.tools[p.Name]
	d.mu.RUnlock()
	if !ok {
		return ToolResult{}, unknownTool(p.Name)
	}
	return t.Call(ctx, p.Arguments)
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

func (d *Dispatcher) readResource(ctx context.Context, params json.RawMessage) (json.RawMessage, error) {
	var p resourceReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("resources/read: " + err.Error())
	}
	d.mu.RLock()
	e, ok := d.resources[p.URI]
	d.mu.RUnlock()
	if !ok {
		return nil, unknownResource(p.URI)
	}
	return e.reader(ctx)
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}
