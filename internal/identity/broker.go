package identity

import (
	"context"

	"go.uber.org/zap"

	"sentra/pkg/tenants"
)

// ProbeResource is the resource used to verify a delegation: a pending
// tenant is promoted only after an on-behalf-of exchange against the
// management plane of that tenant succeeds.
const ProbeResource = "https://management.azure.com"

// Broker is the per-request entry point: it composes the validator,
// registry and resolver into an authenticated calling context, and hands
// out downstream credentials bound to that context.
type Broker struct {
	validator *Validator
	resolver  *Resolver
	registry  *tenants.Registry
	log       *zap.SugaredLogger
}

func NewBroker(v *Validator, r *Resolver, reg *tenants.Registry, log *zap.SugaredLogger) *Broker {
	return &Broker{validator: v, resolver: r, registry: reg, log: log}
}

// Authenticate validates the inbound token and, for tenants still pending
// delegation evidence, runs the probe exchange. A pending tenant whose
// probe fails is rejected: claims alone never authorize a tenant.
func (b *Broker) Authenticate(ctx context.Context, rawToken string) (Principal, error) {
	p, err := b.validator.Validate(ctx, rawToken)
	if err != nil {
		return Principal{}, err
	}
	if p.TenantState == tenants.StatePending {
		_, err := b.resolver.Resolve(ctx, ResolveRequest{
			Resource:      ProbeResource,
			TenantID:      p.TenantID,
			UserAssertion: p.RawToken,
			Purpose:       PurposeUserData, // no fallback: the probe must prove the delegation
		})
		if err != nil {
			b.log.Warnw("delegation probe failed", "tenant", p.TenantID, "err", err)
			return Principal{}, tenantErr(ErrUnauthorizedTenant, p.TenantID, ProbeResource, "delegation could not be verified")
		}
		b.registry.ConfirmDelegation(ctx, p.TenantID)
		p.TenantState = tenants.StateAuthorized
	}
	return p, nil
}

// TokenForResource resolves a user-attributed credential for a resource in
// the given tenant. The tenant must already be authorized.
func (b *Broker) TokenForResource(ctx context.Context, p Principal, tenantID, resource string) (Credential, error) {
	if tenantID == "" {
		tenantID = p.TenantID
	}
	if !b.registry.IsAuthorized(tenantID) {
		return Credential{}, tenantErr(ErrUnauthorizedTenant, tenantID, resource, "tenant not in allow-list")
	}
	return b.resolver.Resolve(ctx, ResolveRequest{
		Resource:      resource,
		TenantID:      tenantID,
		UserAssertion: p.RawToken,
		Purpose:       PurposeUserData,
	})
}

// BootstrapToken resolves a credential for configuration bootstrap in the
// home tenant. An assertion may be supplied; when the exchange fails the
// system identity substitutes under the fallback policy.
func (b *Broker) BootstrapToken(ctx context.Context, resource, userAssertion string) (Credential, error) {
	return b.resolver.Resolve(ctx, ResolveRequest{
		Resource:      resource,
		UserAssertion: userAssertion,
		Purpose:       PurposeBootstrap,
	})
}

// Registry exposes the tenant allow-list for read-side handlers.
func (b *Broker) Registry() *tenants.Registry { return b.registry }
