package auth

import (
	"context"

	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/logging"
)

// PermissiveVerifier accepts every credential without validation
// (spec.md §4.1's development/noop variant, grounded on
// original_source's NoopAuthProvider). It is never selected by default
// and logs a prominent warning every time it is constructed so the
// condition is impossible to miss in server startup logs.
type PermissiveVerifier struct{}

// NewPermissiveVerifier builds a PermissiveVerifier, warning loudly.
func NewPermissiveVerifier() *PermissiveVerifier {
	logging.Op().Warn("permissive auth verifier active - ALL requests accepted without authentication")
	return &PermissiveVerifier{}
}

// Verify implements Verifier. A blank credential is still accepted:
// this verifier represents "auth disabled", not "auth optional".
func (v *PermissiveVerifier) Verify(_ context.Context, _ string) *domain.Principal {
	return &domain.Principal{
		Authenticated:   true,
		WorkspaceID:     "dev",
		WorkspaceName:   "Development",
		CredentialLabel: "permissive",
		Permissions:     domain.NewPermissionSet(domain.AllPermissions...),
		Metadata:        map[string]any{"source": "permissive"},
	}
}
