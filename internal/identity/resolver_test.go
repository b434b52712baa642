package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sentra/internal/identity"
	"sentra/internal/identity/identitytest"
	"sentra/pkg/logger"
)

func newResolver(t *testing.T, auth *identitytest.Authority) *identity.Resolver {
	t.Helper()
	gate, err := identity.NewFallbackGate(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	cache := identity.NewCache(logger.Nop(), nil, time.Minute)
	return identity.NewResolver(identity.ResolverConfig{
		HomeTenantID:  homeTenant,
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		AuthorityHost: auth.URL(),
		Timeout:       5 * time.Second,
	}, cache, gate, logger.Nop())
}

func TestResolveOBOSuccess(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	r := newResolver(t, auth)

	cred, err := r.Resolve(context.Background(), identity.ResolveRequest{
		Resource:      "https://management.azure.com",
		TenantID:      delegatedTenant,
		UserAssertion: "user-assertion",
		Purpose:       identity.PurposeUserData,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cred.Strategy != identity.StrategyOBO {
		t.Errorf("strategy = %q, want obo", cred.Strategy)
	}
	if cred.TenantID != delegatedTenant {
		t.Errorf("tenant = %q, want %q", cred.TenantID, delegatedTenant)
	}
	if cred.Resource != "https://management.azure.com" {
		t.Errorf("resource = %q", cred.Resource)
	}
	if auth.ExchangeCount(delegatedTenant) != 1 {
		t.Errorf("exchanges = %d, want 1", auth.ExchangeCount(delegatedTenant))
	}
}

func TestResolveCachesByAssertion(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	r := newResolver(t, auth)
	req := identity.ResolveRequest{
		Resource:      "https://graph.microsoft.com",
		UserAssertion: "assertion-a",
	}

	first, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Token != second.Token {
		t.Error("repeat resolve should hit the cache")
	}
	if n := auth.ExchangeCount(homeTenant); n != 1 {
		t.Errorf("exchanges = %d, want 1", n)
	}

	// Different user: independent exchange.
	req.UserAssertion = "assertion-b"
	if _, err := r.Resolve(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if n := auth.ExchangeCount(homeTenant); n != 2 {
		t.Errorf("exchanges = %d, want 2 for second user", n)
	}
}

func TestResolveOBOFailureUserDataPropagates(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	auth.FailExchanges(homeTenant)
	r := newResolver(t, auth)

	_, err := r.Resolve(context.Background(), identity.ResolveRequest{
		Resource:      "https://management.azure.com",
		UserAssertion: "user-assertion",
		Purpose:       identity.PurposeUserData,
	})
	if !errors.Is(err, identity.ErrOboExchangeFailed) {
		t.Fatalf("err = %v, want ErrOboExchangeFailed", err)
	}
	var te *identity.TenantError
	if !errors.As(err, &te) {
		t.Fatalf("want TenantError, got %T", err)
	}
	if te.TenantID != homeTenant || te.Resource != "https://management.azure.com" {
		t.Errorf("error detail tenant=%q resource=%q", te.TenantID, te.Resource)
	}
}

func TestResolveOBOFailureBootstrapFallsBack(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	// Only the jwt-bearer grant fails; client_credentials still works.
	auth.FailExchanges(homeTenant, "urn:ietf:params:oauth:grant-type:jwt-bearer")
	r := newResolver(t, auth)

	cred, err := r.Resolve(context.Background(), identity.ResolveRequest{
		Resource:      "https://vault.azure.net",
		UserAssertion: "user-assertion",
		Purpose:       identity.PurposeBootstrap,
	})
	if err != nil {
		t.Fatalf("bootstrap resolve should fall back: %v", err)
	}
	if cred.Strategy != identity.StrategyFallback {
		t.Errorf("strategy = %q, want fallback so audit can tell this was not user-attributed", cred.Strategy)
	}
	if n := auth.ExchangeCount(homeTenant); n != 2 {
		t.Errorf("exchanges = %d, want 2 (obo then client-credentials)", n)
	}
}

func TestResolveOBOFailureBootstrapWhenFallbackAlsoFails(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	auth.FailExchanges(homeTenant)
	r := newResolver(t, auth)

	_, err := r.Resolve(context.Background(), identity.ResolveRequest{
		Resource:      "https://vault.azure.net",
		UserAssertion: "user-assertion",
		Purpose:       identity.PurposeBootstrap,
	})
	// The original OBO error wins when the substitute fails too.
	if !errors.Is(err, identity.ErrOboExchangeFailed) {
		t.Fatalf("err = %v, want ErrOboExchangeFailed", err)
	}
}

func TestResolveSystemIdentityWithoutAssertion(t *testing.T) {
	auth := identitytest.NewAuthority(t)
	r := newResolver(t, auth)

	cred, err := r.Resolve(context.Background(), identity.ResolveRequest{
		Resource: "https://management.azure.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	if cred.Strategy != identity.StrategySystem {
		t.Errorf("strategy = %q, want system", cred.Strategy)
	}
	if cred.TenantID != homeTenant {
		t.Errorf("tenant = %q, want home tenant default", cred.TenantID)
	}
}

func TestFallbackGateDeniesUserData(t *testing.T) {
	gate, err := identity.NewFallbackGate(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if gate.Allow(context.Background(), identity.PurposeUserData, homeTenant, "res") {
		t.Error("user-data purpose must never allow the system fallback")
	}
	if !gate.Allow(context.Background(), identity.PurposeBootstrap, homeTenant, "res") {
		t.Error("bootstrap purpose should allow the fallback by default")
	}
}
