package tenants_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"sentra/pkg/logger"
	"sentra/pkg/tenants"
)

const (
	home      = "11111111-1111-1111-1111-111111111111"
	delegated = "22222222-2222-2222-2222-222222222222"
	stranger  = "33333333-3333-3333-3333-333333333333"
)

func seededRegistry(t *testing.T, auto bool) (*tenants.Registry, tenants.Provider) {
	t.Helper()
	prov := tenants.NewMemoryProvider(logger.Nop(), home, "", "")
	if err := prov.UpsertTenant(context.Background(), tenants.Tenant{ID: delegated, Role: tenants.RoleDelegated, Enabled: true}); err != nil {
		t.Fatal(err)
	}
	reg, err := tenants.NewRegistry(context.Background(), logger.Nop(), prov, home, auto)
	if err != nil {
		t.Fatal(err)
	}
	return reg, prov
}

func TestRegistryHomeAlwaysAuthorized(t *testing.T) {
	reg, _ := seededRegistry(t, false)
	if !reg.IsAuthorized(home) {
		t.Error("home tenant must always be authorized")
	}
}

func TestRegistryStaticDelegatedAuthorized(t *testing.T) {
	reg, _ := seededRegistry(t, false)
	if !reg.IsAuthorized(delegated) {
		t.Error("enabled delegated tenant should be authorized from config")
	}
	if reg.IsAuthorized(stranger) {
		t.Error("unseen tenant must not be authorized")
	}
}

func TestRegistryDisabledTenantNotAuthorized(t *testing.T) {
	prov := tenants.NewMemoryProvider(logger.Nop(), home, "", "")
	if err := prov.UpsertTenant(context.Background(), tenants.Tenant{ID: delegated, Role: tenants.RoleDelegated, Enabled: false}); err != nil {
		t.Fatal(err)
	}
	reg, err := tenants.NewRegistry(context.Background(), logger.Nop(), prov, home, false)
	if err != nil {
		t.Fatal(err)
	}
	if reg.IsAuthorized(delegated) {
		t.Error("disabled tenant must not be authorized")
	}
}

func TestRegistryObserveRequiresAutoDiscovery(t *testing.T) {
	reg, _ := seededRegistry(t, false)
	if got := reg.Observe(stranger); got != tenants.StateUnknown {
		t.Errorf("state = %v, want unknown with auto-discovery off", got)
	}
}

func TestRegistryObserveThenConfirm(t *testing.T) {
	reg, prov := seededRegistry(t, true)

	if got := reg.Observe(stranger); got != tenants.StatePending {
		t.Fatalf("state after observe = %v, want pending", got)
	}
	if reg.IsAuthorized(stranger) {
		t.Fatal("pending tenant must not be authorized")
	}

	reg.ConfirmDelegation(context.Background(), stranger)
	if !reg.IsAuthorized(stranger) {
		t.Error("confirmed tenant should be authorized")
	}
	// The discovered tenant is persisted for the next restart.
	rec, err := prov.GetTenant(context.Background(), stranger)
	if err != nil {
		t.Fatalf("discovered tenant not persisted: %v", err)
	}
	if rec.Role != tenants.RoleDelegated || !rec.Enabled {
		t.Errorf("persisted record = %+v", rec)
	}
}

func TestRegistryObserveNeverDemotes(t *testing.T) {
	reg, _ := seededRegistry(t, true)
	if got := reg.Observe(delegated); got != tenants.StateAuthorized {
		t.Errorf("observe on authorized tenant = %v, want authorized", got)
	}
	if got := reg.Observe(home); got != tenants.StateAuthorized {
		t.Errorf("observe on home tenant = %v, want authorized", got)
	}
}

func TestRegistryObservationRateLimited(t *testing.T) {
	reg, _ := seededRegistry(t, true)

	pending := 0
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("aaaaaaa%d-0000-0000-0000-000000000000", i)
		if reg.Observe(id) == tenants.StatePending {
			pending++
		}
	}
	if pending >= 20 {
		t.Error("observation burst must be rate-limited")
	}
	if pending == 0 {
		t.Error("some observations should pass within the burst allowance")
	}
}

func TestRegistryConcurrentObserveAndConfirm(t *testing.T) {
	reg, _ := seededRegistry(t, true)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Observe(stranger)
			reg.ConfirmDelegation(context.Background(), stranger)
		}()
	}
	wg.Wait()
	if !reg.IsAuthorized(stranger) {
		t.Error("concurrent confirmations should settle on authorized")
	}
}
