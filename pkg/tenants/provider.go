package tenants

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for a tenant id.
var ErrNotFound = errors.New("tenant not found")

type Provider interface {
	// Resolve a tenant record by directory id.
	GetTenant(ctx context.Context, id string) (Tenant, error)
	// List all configured tenants (enabled or not).
	ListTenants(ctx context.Context) ([]Tenant, error)
	// Insert or replace a tenant record. Used when discovery confirms a
	// new delegated tenant so it survives restarts where the backend allows.
	UpsertTenant(ctx context.Context, t Tenant) error
}
