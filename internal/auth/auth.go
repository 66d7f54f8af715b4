// Package auth implements the pluggable authentication dispatcher of
// spec.md §4.1. A Verifier turns a raw credential string into a
// domain.Principal or nil; no verifier failure may fail-open (the
// permissive verifier is the sole, explicit exception and logs loudly
// every time it is constructed).
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/logging"
)

// Verifier resolves a credential into a Principal, or returns nil if the
// credential is invalid. Implementations must never panic on malformed
// input and must never log the credential itself beyond a short prefix.
type Verifier interface {
	Verify(ctx context.Context, credential string) *domain.Principal
}

// Dispatcher tries each configured Verifier in order and returns the
// first non-nil Principal. This mirrors the teacher's multi-authenticator
// HTTP middleware but operates on a bare credential string so it is
// transport-agnostic (usable from both internal/httpapi and
// internal/grpcapi).
type Dispatcher struct {
	verifiers []Verifier
}

// NewDispatcher builds a Dispatcher trying verifiers in the given order.
func NewDispatcher(verifiers ...Verifier) *Dispatcher {
	return &Dispatcher{verifiers: verifiers}
}

// Authenticate resolves a credential to a Principal. It never returns an
// error: an invalid credential and a verifier outage are both represented
// as a nil Principal, which callers must treat as auth-failed. An empty
// credential is still dispatched rather than short-circuited, since a
// configured PermissiveVerifier must accept requests that carry no
// credential header at all.
func (d *Dispatcher) Authenticate(ctx context.Context, credential string) *domain.Principal {
	for _, v := range d.verifiers {
		if p := v.Verify(ctx, credential); p != nil {
			return p
		}
	}
	return nil
}

// CredentialFromRequest extracts the single credential header of spec.md
// §6 ("X-API-Key or equivalent"), also accepting a Bearer-style
// Authorization header as a courtesy to existing HTTP clients.
func CredentialFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// contextKey is an unexported type so values stored via WithPrincipal
// cannot collide with keys from other packages.
type contextKey struct{}

var principalKey = contextKey{}

// WithPrincipal attaches a resolved Principal to ctx.
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the Principal attached by WithPrincipal, or nil.
func FromContext(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(principalKey).(*domain.Principal)
	return p
}

// shortPrefix returns at most n characters of s, for safe inclusion in a
// diagnostic log line (spec.md §4.1: "only a short prefix (≤ 10 chars) of
// the credential may appear in diagnostic messages").
func shortPrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func logRejected(source, reason, credential string) {
	logging.Op().Warn("credential rejected", "source", source, "reason", reason, "credential_prefix", shortPrefix(credential, 10))
}
