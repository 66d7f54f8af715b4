package httpapi

import (
	"net/http"
	"strings"

	"github.com/oriys/nova/internal/auth"
)

// authMiddleware resolves the credential on every non-public request into
// a domain.Principal via dispatcher and attaches it to the request
// context (spec.md §4.1/§6: "Authentication is a single credential
// header ... on every call"). It never rejects a public path and never
// itself decides permissions - authz.Require runs per-operation in each
// handler, since only three of spec.md §6's operations are
// permission-gated (see authz.OperationPermission).
//
// This lives in internal/httpapi rather than internal/auth because
// internal/auth is deliberately transport-agnostic (it also backs
// internal/grpcapi); the net/http-specific credential extraction and
// context wiring belongs at the transport boundary.
func authMiddleware(dispatcher *auth.Dispatcher, publicPaths []string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path, public) {
				next.ServeHTTP(w, r)
				return
			}

			credential := auth.CredentialFromRequest(r)
			principal := dispatcher.Authenticate(r.Context(), credential)
			if principal == nil {
				writeError(w, r.Header.Get("X-Request-ID"), authFailedErr())
				return
			}

			ctx := auth.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isPublicPath(path string, public map[string]bool) bool {
	if public[path] {
		return true
	}
	for p := range public {
		if strings.HasSuffix(p, "/*") && strings.HasPrefix(path, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}
