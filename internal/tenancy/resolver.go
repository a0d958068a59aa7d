// Package tenancy resolves the tenant context of an authenticated principal
// and enforces the isolation boundary of deactivated clinics.
package tenancy

import (
	"context"
	"errors"
	"log/slog"

	tenantmodels "docflow/internal/tenant/models"
	id "docflow/pkg/domain"
	dErrors "docflow/pkg/domain-errors"
	"docflow/pkg/platform/sentinel"
)

// TenantFinder is the read surface the resolver needs.
type TenantFinder interface {
	FindByID(ctx context.Context, tenantID id.TenantID) (*tenantmodels.Tenant, error)
}

// Resolver maps a principal to its tenant.
//
// Anonymous principals and platform admins resolve to no tenant: admins
// operate across tenants and pick an explicit target per operation instead
// of carrying an ambient one. Everyone else must belong to an active tenant.
type Resolver struct {
	tenants TenantFinder
	logger  *slog.Logger
}

func NewResolver(tenants TenantFinder, logger *slog.Logger) *Resolver {
	return &Resolver{tenants: tenants, logger: logger}
}

// Resolve returns the principal's tenant, or nil when the principal carries
// none. A missing or deactivated tenant denies the request outright; the two
// cases are indistinguishable to the caller.
func (r *Resolver) Resolve(ctx context.Context, principal id.Principal) (*tenantmodels.Tenant, error) {
	if principal.IsAnonymous() || principal.Role == id.RolePlatformAdmin {
		return nil, nil
	}
	if !principal.HasTenant() {
		return nil, dErrors.New(dErrors.CodeForbidden, "account has no tenant affiliation")
	}

	tenant, err := r.tenants.FindByID(ctx, principal.TenantID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeForbidden, "tenant is not available")
	}
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "resolve tenant", err)
	}
	if !tenant.Active {
		r.logger.WarnContext(ctx, "request against deactivated tenant",
			"tenant_id", tenant.ID.String(), "principal_id", principal.ID.String())
		return nil, dErrors.New(dErrors.CodeForbidden, "tenant is not available")
	}
	return tenant, nil
}
