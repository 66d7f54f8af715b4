package authz

import (
	"context"
	"testing"

	"github.com/oriys/nova/internal/auth"
	"github.com/oriys/nova/internal/domain"
	"github.com/oriys/nova/internal/errs"
)

func TestRequireDeniesWithoutPrincipal(t *testing.T) {
	err := Require(context.Background(), domain.PermExecuteSQL, "execute_sql")
	e := errs.As(err)
	if e.Tag != errs.AuthFailed {
		t.Fatalf("expected AuthFailed, got %s", e.Tag)
	}
}

func TestRequireDeniesWhenPermissionMissing(t *testing.T) {
	p := &domain.Principal{Authenticated: true, Permissions: domain.NewPermissionSet(domain.PermExecuteCode)}
	ctx := auth.WithPrincipal(context.Background(), p)

	err := Require(ctx, domain.PermExecuteSQL, "execute_sql")
	e := errs.As(err)
	if e.Tag != errs.AuthDenied {
		t.Fatalf("expected AuthDenied, got %s", e.Tag)
	}
}

func TestRequireAllowsWhenPermissionHeld(t *testing.T) {
	p := &domain.Principal{Authenticated: true, Permissions: domain.NewPermissionSet(domain.PermExecuteSQL)}
	ctx := auth.WithPrincipal(context.Background(), p)

	if err := Require(ctx, domain.PermExecuteSQL, "execute_sql"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestRequireDeniesUnauthenticatedPrincipal(t *testing.T) {
	p := &domain.Principal{Authenticated: false, Permissions: domain.NewPermissionSet(domain.AllPermissions...)}
	ctx := auth.WithPrincipal(context.Background(), p)

	err := Require(ctx, domain.PermExecuteSQL, "execute_sql")
	e := errs.As(err)
	if e.Tag != errs.AuthFailed {
		t.Fatalf("expected AuthFailed for unauthenticated principal, got %s", e.Tag)
	}
}
