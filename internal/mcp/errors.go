package mcp

import (
	"fmt"

	"github.com/projectdiscovery/utils/errkit"

	"github.com/slicingmelon/gofetch-mcp/internal/ferrors"
)

// rpcError is a dispatcher-local error that already knows its JSON-RPC
// code, for failures that occur before a Tool is ever reached (bad
// params, unknown tool/resource name).
type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string { return e.msg }

func invalidParams(detail string) error {
	return &rpcError{code: CodeInvalidParams, msg: "invalid params: " + detail}
}

func unknownTool(name string) error {
	return &rpcError{code: CodeUnknownTool, msg: fmt.Sprintf("unknown tool: %s", name)}
}

func unknownResource(uri string) error {
	return &rpcError{code: CodeUnknownResource, msg: fmt.Sprintf("unknown resource: %s", uri)}
}

// ferrorCodes maps the core's closed error-kind set (spec §7) onto the
// server-defined JSON-RPC code range, so a tool that returns a
// ferrors-tagged error (e.g. from internal/fetch.Fetch) surfaces with a
// code a client can switch on instead of always collapsing to -32603.
var ferrorCodes = map[errkit.Kind]int{
	ferrors.KindInvalidRequest: CodeInvalidRequest,
	ferrors.KindLimited:        CodeLimited,
	ferrors.KindCircuitOpen:    CodeCircuitOpen,
	ferrors.KindPoolExhausted:  CodePoolExhausted,
	ferrors.KindTimeout:        CodeTimeout,
	ferrors.KindTransport:      CodeTransport,
	ferrors.KindHTTPStatus:     CodeHTTPStatus,
	ferrors.KindCancelled:      CodeCancelled,
}

// errorFor converts any error reaching the dispatcher boundary into a
// JSON-RPC error object: rpcErrors keep their own code, ferrors-tagged
// errors map through ferrorCodes, anything else is an internal error.
func errorFor(err error) *Error {
	if e, ok := err.(*rpcError); ok {
		return &Error{Code: e.code, Message: e.msg}
	}
	if code, ok := ferrorCodes[ferrors.Kind(err)]; ok {
		return &Error{Code: code, Message: err.Error()}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}
