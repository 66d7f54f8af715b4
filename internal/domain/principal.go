package domain

// Principal is the verified identity associated with a single request.
// Its lifetime equals the lifetime of the request's exectx.Context.
type Principal struct {
	Authenticated   bool
	WorkspaceID     string
	WorkspaceName   string
	UserID          *string // nullable
	CredentialLabel string  // e.g. "apikey:reporting-bot", never the raw credential
	Tier            string  // rate-limit tier, e.g. "free", "pro"; empty means the configured default
	Permissions     PermissionSet
	Metadata        map[string]any
}

// Can reports whether the principal holds the given permission. An
// unauthenticated principal holds no permissions regardless of its
// Permissions field.
func (p *Principal) Can(perm Permission) bool {
	if p == nil || !p.Authenticated {
		return false
	}
	return p.Permissions.Has(perm)
}
