package security

import "fmt"

// RejectReason says why a resource path was refused.
type RejectReason string

const (
	RejectEmpty           RejectReason = "empty"
	RejectTooLong         RejectReason = "too-long"
	RejectTraversal       RejectReason = "traversal"
	RejectDoubleSlash     RejectReason = "double-slash"
	RejectNullByte        RejectReason = "null-byte"
	RejectScheme          RejectReason = "scheme"
	RejectForbiddenChar   RejectReason = "forbidden-char"
	RejectPatternMismatch RejectReason = "pattern-mismatch"
	RejectEscapesBase     RejectReason = "escapes-base"
)

// PathRejectedError wraps a rejected PathDecision for callers that prefer
// error returns.
type PathRejectedError struct {
	Reason RejectReason
}

func (e *PathRejectedError) Error() string {
	return fmt.Sprintf("path rejected: %s", e.Reason)
}

// BlockReason is the machine-readable cause of a containment failure.
type BlockReason string

const (
	BlockHostNotAllowlisted BlockReason = "host-not-allowlisted"
	BlockPrivateIP          BlockReason = "private-ip"
	BlockRedirectDenied     BlockReason = "redirect-denied"
	BlockSchemeDenied       BlockReason = "scheme-denied"
)

// ProtectionBlockedError is returned when an outbound request would leave
// the permitted network boundary. Host is for server-side logs only.
type ProtectionBlockedError struct {
	Reason BlockReason
	Host   string
}

func (e *ProtectionBlockedError) Error() string {
	return fmt.Sprintf("ssrf protection blocked request to %q: %s", e.Host, e.Reason)
}

// UpstreamKind classifies ordinary upstream failures.
type UpstreamKind string

const (
	UpstreamTimeout   UpstreamKind = "timeout"
	UpstreamTransport UpstreamKind = "transport"
	UpstreamStatus    UpstreamKind = "status"
	UpstreamTooLarge  UpstreamKind = "too-large"
)

// UpstreamError is a network, timeout, size, or non-2xx failure from a
// request that passed containment.
type UpstreamError struct {
	Kind       UpstreamKind
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Kind == UpstreamStatus:
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("upstream %s", e.Kind)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
