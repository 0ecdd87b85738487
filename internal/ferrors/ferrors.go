// Package ferrors defines the closed set of error kinds surfaced at the
// core boundary (spec §7) and their retriability.
package ferrors

import (
	"fmt"

	"github.com/projectdiscovery/utils/errkit"
)

// Kind tags are registered with errkit so the kind travels with the error
// and retriability is looked up from it (see Retriable) instead of being
// re-derived by callers via string matching.
var (
	KindInvalidRequest = errkit.NewPrimitiveErrKind("invalid_request", "request failed admission", nil)
	KindLimited        = errkit.NewPrimitiveErrKind("limited", "rejected by rate limiter", nil)
	KindCircuitOpen    = errkit.NewPrimitiveErrKind("circuit_open", "host circuit breaker is open", nil)
	KindPoolExhausted  = errkit.NewPrimitiveErrKind("pool_exhausted", "connection pool exhausted", nil)
	KindTimeout        = errkit.NewPrimitiveErrKind("timeout", "operation timed out", nil)
	KindTransport      = errkit.NewPrimitiveErrKind("transport", "transport-level failure", nil)
	KindHTTPStatus     = errkit.NewPrimitiveErrKind("http_status", "response status treated as failure", nil)
	KindCancelled      = errkit.NewPrimitiveErrKind("cancelled", "request cancelled", nil)
	KindInternal       = errkit.NewPrimitiveErrKind("internal", "internal error", nil)
)

// AdmissionReason enumerates the classification for InvalidRequest (§4.1).
type AdmissionReason string

const (
	ReasonInvalidScheme AdmissionReason = "invalid-scheme"
	ReasonBlockedHost   AdmissionReason = "blocked-host"
	ReasonPrivateIP     AdmissionReason = "private-ip"
	ReasonURLTooLong    AdmissionReason = "url-too-long"
	ReasonBodyTooLarge  AdmissionReason = "body-too-large"
	ReasonNotAllowlisted AdmissionReason = "not-allowlisted"
)

// Phase enumerates the timeout phase for Timeout{phase} (§5 Timeouts).
type Phase string

const (
	PhaseConnect Phase = "connect"
	PhaseWrite   Phase = "write"
	PhaseRead    Phase = "read"
	PhaseTotal   Phase = "total"
)

// Scope enumerates the Limited{scope} classification (§4.3).
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeHost   Scope = "host"
)

// NewInvalidRequest builds an admission rejection.
func NewInvalidRequest(reason AdmissionReason, detail string) error {
	return errkit.New(fmt.Sprintf("invalid request: %s: %s", reason, detail)).SetKind(KindInvalidRequest).Build()
}

// NewLimited builds a rate-limiter rejection.
func NewLimited(scope Scope) error {
	return errkit.New(fmt.Sprintf("rate limited: scope=%s", scope)).SetKind(KindLimited).Build()
}

// NewCircuitOpen builds a breaker rejection.
func NewCircuitOpen(host string) error {
	return errkit.New(fmt.Sprintf("circuit open for host %s", host)).SetKind(KindCircuitOpen).Build()
}

// NewPoolExhausted builds a connection-pool exhaustion error.
func NewPoolExhausted(host string) error {
	return errkit.New(fmt.Sprintf("connection pool exhausted for host %s", host)).SetKind(KindPoolExhausted).Build()
}

// NewTimeout builds a phase-tagged timeout error.
func NewTimeout(phase Phase) error {
	return errkit.New(fmt.Sprintf("timeout during %s phase", phase)).SetKind(KindTimeout).Build()
}

// NewTransport wraps a DNS/TCP/TLS failure.
func NewTransport(cause error) error {
	return errkit.New("transport error").SetKind(KindTransport).Wrap(cause).Build()
}

// NewHTTPStatus builds a status-as-failure error.
func NewHTTPStatus(status int) error {
	return errkit.New(fmt.Sprintf("http status %d treated as failure", status)).SetKind(KindHTTPStatus).Build()
}

// NewCancelled builds a cancellation error.
func NewCancelled() error {
	return errkit.New("request cancelled").SetKind(KindCancelled).Build()
}

// NewInternal wraps an unexpected internal error.
func NewInternal(cause error) error {
	return errkit.New("internal error").SetKind(KindInternal).Wrap(cause).Build()
}

// retriableKinds is the default retry policy from §7: Transport, Timeout,
// Limited, and HttpStatus are retriable; CircuitOpen, InvalidRequest, and
// Cancelled never are.
var retriableKinds = map[errkit.Kind]bool{
	KindTransport: true,
	KindTimeout:   true,
	KindLimited:   true,
	KindHTTPStatus: true,
}

// Retriable reports whether err's kind is retriable by default. HttpStatus
// errors are further narrowed by RetriableStatus; callers that already
// know the status should prefer that check.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	k := errkit.FromError(err).Kind()
	return retriableKinds[k]
}

// retriableStatuses is the §7 status whitelist: 408, 429, 500, 502, 503, 504.
var retriableStatuses = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// RetriableStatus reports whether an HTTP status code is retriable.
func RetriableStatus(status int) bool {
	return retriableStatuses[status]
}

// Kind returns the errkit.Kind that errkit.FromError reports for err, or
// nil if err is nil. An error not built by this package carries no Kind*
// value from the set above.
func Kind(err error) errkit.Kind {
	if err == nil {
		return nil
	}
	return errkit.FromError(err).Kind()
}
