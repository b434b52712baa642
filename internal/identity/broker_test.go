package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentra/internal/identity"
	"sentra/internal/identity/identitytest"
	"sentra/pkg/logger"
	"sentra/pkg/tenants"
)

func newBroker(t *testing.T, auth *identitytest.Authority, reg *tenants.Registry) *identity.Broker {
	t.Helper()
	v := identity.NewValidator(identity.ValidatorConfig{
		HomeTenantID:       homeTenant,
		Audience:           identitytest.DefaultAudience,
		AuthorityHost:      auth.URL(),
		MultiTenantEnabled: true,
		ClockSkew:          time.Minute,
	}, reg, logger.Nop())
	gate, err := identity.NewFallbackGate(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	r := identity.NewResolver(identity.ResolverConfig{
		HomeTenantID:  homeTenant,
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		AuthorityHost: auth.URL(),
		Timeout:       5 * time.Second,
	}, identity.NewCache(logger.Nop(), nil, time.Minute), gate, logger.Nop())
	return identity.NewBroker(v, r, reg, logger.Nop())
}

// Home tenant user reaching into a registered delegated tenant: the issued
// credential must be scoped to the delegated tenant's resource.
func TestBrokerCrossTenantDelegatedAccess(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	reg := newRegistry(t, false, delegatedTenant)
	b := newBroker(t, auth, reg)

	p, err := b.Authenticate(context.Background(), auth.Mint(homeTenant, nil))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	cred, err := b.TokenForResource(context.Background(), p, delegatedTenant, "https://management.azure.com")
	if err != nil {
		t.Fatalf("token for resource: %v", err)
	}
	if cred.TenantID != delegatedTenant {
		t.Errorf("credential tenant = %q, want %q", cred.TenantID, delegatedTenant)
	}
	if cred.Strategy != identity.StrategyOBO {
		t.Errorf("strategy = %q, want obo", cred.Strategy)
	}
}

func TestBrokerUnknownTenantNeverResolves(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	reg := newRegistry(t, false)
	b := newBroker(t, auth, reg)

	_, err := b.Authenticate(context.Background(), auth.Mint(unknownTenant, nil))
	if !errors.Is(err, identity.ErrUnauthorizedTenant) {
		t.Fatalf("err = %v, want ErrUnauthorizedTenant", err)
	}
	if n := auth.ExchangeCount(unknownTenant); n != 0 {
		t.Errorf("exchanges = %d, want 0: rejected tenants must not reach the token endpoint", n)
	}
}

func TestBrokerTokenForUnauthorizedTenantRejected(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	reg := newRegistry(t, false)
	b := newBroker(t, auth, reg)

	p, err := b.Authenticate(context.Background(), auth.Mint(homeTenant, nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.TokenForResource(context.Background(), p, unknownTenant, "https://management.azure.com"); !errors.Is(err, identity.ErrUnauthorizedTenant) {
		t.Fatalf("err = %v, want ErrUnauthorizedTenant", err)
	}
}

// Auto-discovery: a valid token from an unseen tenant triggers the
// delegation probe. Success promotes the tenant; failure rejects it.
func TestBrokerDelegationProbePromotes(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	reg := newRegistry(t, true)
	b := newBroker(t, auth, reg)

	p, err := b.Authenticate(context.Background(), auth.Mint(unknownTenant, nil))
	if err != nil {
		t.Fatalf("authenticate with working delegation: %v", err)
	}
	if p.TenantState != tenants.StateAuthorized {
		t.Errorf("tenant state = %v, want authorized after probe", p.TenantState)
	}
	if !reg.IsAuthorized(unknownTenant) {
		t.Error("registry should record the confirmed delegation")
	}
	if n := auth.ExchangeCount(unknownTenant); n != 1 {
		t.Errorf("probe exchanges = %d, want 1", n)
	}
}

func TestBrokerDelegationProbeFailureRejects(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	auth.FailExchanges(unknownTenant)
	reg := newRegistry(t, true)
	b := newBroker(t, auth, reg)

	_, err := b.Authenticate(context.Background(), auth.Mint(unknownTenant, nil))
	if !errors.Is(err, identity.ErrUnauthorizedTenant) {
		t.Fatalf("err = %v, want ErrUnauthorizedTenant when the probe fails", err)
	}
	if reg.IsAuthorized(unknownTenant) {
		t.Error("failed probe must not authorize the tenant")
	}
}
