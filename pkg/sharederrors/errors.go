// Package sharederrors provides the structured error taxonomy used across
// the agent core: operation wrappers with component/resource context, plus
// the semantic classification (transient/quota/permanent/...) described in
// the error-handling design so callers can decide retry vs. fallback vs.
// surfacing a failure without relying on type assertions against
// provider-specific error types.
package sharederrors

import "fmt"

// OperationError decorates a failure with the operation, the component that
// raised it, and the resource it concerned, without losing the cause.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("failed to %s", e.Operation)
	if e.Component != "" {
		msg += fmt.Sprintf(", component: %s", e.Component)
	}
	if e.Resource != "" {
		msg += fmt.Sprintf(", resource: %s", e.Resource)
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(", cause: %s", e.Cause)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds a minimal OperationError for the common case of "action
// failed because of cause".
func FailedTo(action string, cause error) error {
	if cause == nil {
		return &OperationError{Operation: action}
	}
	return &OperationError{Operation: action, Cause: cause}
}

// FailedToWithDetails attaches component/resource context to a failure.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{
		Operation: action,
		Component: component,
		Resource:  resource,
		Cause:     cause,
	}
}

// Kind is the semantic error taxonomy from the error-handling design:
// components classify failures into one of these buckets rather than
// inspecting HTTP status codes or driver-specific error types at every call
// site.
type Kind string

const (
	// KindTransientExternal covers 429/503/timeouts/connection resets:
	// retry with backoff, then fall through to the next model/key.
	KindTransientExternal Kind = "TRANSIENT_EXTERNAL"
	// KindQuotaExhausted marks a provider+model+key combination as
	// exhausted until the next daily boundary.
	KindQuotaExhausted Kind = "QUOTA_EXHAUSTED"
	// KindPermanentInput is a malformed prompt or invalid schema: do not
	// retry, report the task as failed.
	KindPermanentInput Kind = "PERMANENT_INPUT"
	// KindDBUnavailable surfaces as a 503 to the caller; workers log and
	// back off without corrupting in-flight state.
	KindDBUnavailable Kind = "DB_UNAVAILABLE"
	// KindExtractorParse means the extractor's output could not be
	// parsed; treat as an empty extraction, never poison the graph.
	KindExtractorParse Kind = "EXTRACTOR_PARSE"
	// KindVectorStoreDegraded means the episode still reaches READY with
	// vector_status=FAILED; retrieval silently skips the layer.
	KindVectorStoreDegraded Kind = "VECTOR_STORE_DEGRADED"
	// KindPolicyViolation is the input safety gate short-circuiting to a
	// canned response.
	KindPolicyViolation Kind = "POLICY_VIOLATION"
	// KindAccessDenied is an INTERNAL_ONLY whitelist miss, surfaced as a
	// 403 at ingress.
	KindAccessDenied Kind = "ACCESS_DENIED"
)

// ClassifiedError is a structured result carrying a taxonomy Kind alongside
// the cause, matching the "components return structured results rather than
// raising through scheduling boundaries" design note.
type ClassifiedError struct {
	Kind      Kind
	Retryable bool
	Cause     error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// Classify wraps cause with a Kind and its retry semantics.
func Classify(kind Kind, cause error) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Retryable: kind == KindTransientExternal,
		Cause:     cause,
	}
}

// IsRetryable reports whether err (or anything it wraps) is a
// ClassifiedError marked retryable.
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	for err != nil {
		if c, ok := err.(*ClassifiedError); ok {
			ce = c
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Retryable
}

// KindOf extracts the Kind of the first ClassifiedError found in err's
// Unwrap chain, so an HTTP layer can pick a status code without every
// caller threading a *ClassifiedError explicitly. Returns "" when err
// carries no classification (callers should treat that as
// KindDBUnavailable per spec §7's default).
func KindOf(err error) Kind {
	for err != nil {
		if c, ok := err.(*ClassifiedError); ok {
			return c.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ""
}
