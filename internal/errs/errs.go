// Package errs implements the tagged error taxonomy of spec.md §7.
//
// Every error that can cross a component boundary is a *Error carrying one
// of the Tags below. Handlers at the transport boundary (internal/httpapi,
// internal/grpcapi) convert a *Error into the response envelope via
// Envelope; everything else propagates with fmt.Errorf("...: %w", err) so
// errors.As still finds the original *Error after any number of wraps.
package errs

import (
	"errors"
	"fmt"
)

// Tag is one of the closed taxonomy values from spec.md §7.
type Tag string

const (
	Validation       Tag = "validation"
	AuthFailed       Tag = "auth-failed"
	AuthDenied       Tag = "auth-denied"
	PolicyViolation  Tag = "policy-violation"
	ConnectionFailed Tag = "connection-failed"
	PoolExhausted    Tag = "pool-exhausted"
	QueryError       Tag = "query-error"
	Timeout          Tag = "timeout"
	ResourceLimit    Tag = "resource-limit"
	SandboxError     Tag = "sandbox-error"
	Internal         Tag = "internal"
)

// Error is the structured error record of spec.md §3 ("Error record").
// Details must never contain secret material or full user payloads; see
// the package-level doc comment on individual constructors for what is
// safe to put there.
type Error struct {
	Tag     Tag
	Message string
	Code    string // machine error-code, defaults to string(Tag) if empty
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tag, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Tag, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with the given tag and message.
func New(tag Tag, message string) *Error {
	return &Error{Tag: tag, Message: message, Code: string(tag)}
}

// Wrap builds an Error with the given tag, message, and an underlying
// cause. The cause's own message is not echoed into Message automatically
// — callers decide what, if anything, of the cause is safe to surface.
func Wrap(tag Tag, message string, cause error) *Error {
	return &Error{Tag: tag, Message: message, Code: string(tag), Cause: cause}
}

// WithDetails returns a copy of e with Details merged in.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	if cp.Details == nil {
		cp.Details = make(map[string]any, len(details))
	} else {
		merged := make(map[string]any, len(cp.Details)+len(details))
		for k, v := range cp.Details {
			merged[k] = v
		}
		cp.Details = merged
	}
	for k, v := range details {
		cp.Details[k] = v
	}
	return &cp
}

// As extracts the first *Error in err's chain, or a generic Internal
// error wrapping err if none is found — used at transport boundaries that
// must always produce an envelope, even for programming errors that never
// went through New/Wrap.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Tag: Internal, Message: "internal error", Code: string(Internal), Cause: err}
}

// Surfaced reports whether the taxonomy tag is one that spec.md §7 marks
// as surfaced to the caller verbatim (all of them are, per the table —
// this exists so transports have one place to consult rather than
// hardcoding the table twice).
func Surfaced(t Tag) bool {
	switch t {
	case Validation, AuthFailed, AuthDenied, PolicyViolation, ConnectionFailed,
		PoolExhausted, QueryError, Timeout, ResourceLimit, SandboxError, Internal:
		return true
	default:
		return false
	}
}

// Status maps e's tag onto one of the response envelope's top-level
// status values (spec.md §6: "status ∈ {success,error,timeout,
// resource-limit}"). success is never returned here since Status is only
// meaningful for a non-nil Error.
func (e *Error) Status() string {
	switch e.Tag {
	case Timeout:
		return "timeout"
	case ResourceLimit:
		return "resource-limit"
	default:
		return "error"
	}
}
