// Package authz enforces spec.md §4.1's permission check: a request may
// proceed only if its resolved Principal holds the permission the
// requested operation requires. The permission set is closed (spec.md
// §3: execute-sql, execute-code, produce-visualization) so, unlike the
// teacher's role/policy engine, there is no glob scoping or DENY/ALLOW
// precedence to evaluate — a single Can check per operation.
package authz

import (
	"context"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
	"github.com/oriys/nova/internal/logging"
)

// Require checks that the Principal attached to ctx (via
// auth.WithPrincipal) holds perm. It returns an *errs.Error tagged
// AuthFailed when no principal is attached (the dispatcher never ran,
// or the credential did not resolve) and AuthDenied when a principal is
// attached but lacks the permission.
func Require(ctx context.Context, perm domain.Permission, operation string) error {
	p := auth.FromContext(ctx)
	if p == nil || !p.Authenticated {
		return errs.New(errs.AuthFailed, "no authenticated principal for this request")
	}
	if !p.Can(perm) {
		logging.Op().Warn("authorization denied",
			"workspace_id", p.WorkspaceID,
			"credential", p.CredentialLabel,
			"permission", perm,
			"operation", operation,
		)
		return errs.New(errs.AuthDenied, "principal lacks required permission").
			WithDetails(map[string]any{"permission": string(perm), "operation": operation})
	}
	logging.Op().Debug("authorization granted",
		"workspace_id", p.WorkspaceID,
		"credential", p.CredentialLabel,
		"permission", perm,
		"operation", operation,
	)
	return nil
}

// OperationPermission maps each of spec.md §6's gated operations to the
// permission it requires. Operations outside the three gated
// capabilities (health, capabilities, connection CRUD, schema sync)
// require only authentication, not a specific permission — callers
// should use auth.FromContext directly for those.
var OperationPermission = map[string]domain.Permission{
	"execute_sql":           domain.PermExecuteSQL,
	"execute_sql_streaming": domain.PermExecuteSQL,
	"execute_code":          domain.PermExecuteCode,
	"produce_visualization": domain.PermProduceVisualization,
}
