// pkg/tenants/registry.go
package tenants

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State tracks how far a tenant has progressed toward being trusted.
type State int

const (
	// StateUnknown: never seen, or auto-discovery disabled for it.
	StateUnknown State = iota
	// StatePending: a cryptographically valid token from this tenant has
	// been observed, but no delegation evidence exists yet. Tokens from a
	// pending tenant must not reach any resource.
	StatePending
	// StateAuthorized: home tenant, statically configured, or promoted
	// after a successful resource-level exchange in that tenant.
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Registry is the process-wide tenant allow-list. The home tenant and every
// enabled record from the Provider start out authorized; with auto-discovery
// on, newly observed tenants enter pending and are promoted only once a
// delegated exchange against a real resource succeeds. Safe for concurrent
// use by request handlers.
type Registry struct {
	log           *zap.SugaredLogger
	homeTenantID  string
	autoDiscovery bool
	prov          Provider

	// Observation of unseen tenants is rate-limited so a flood of tokens
	// from attacker-controlled issuers cannot churn the registry.
	limiter *rate.Limiter

	mu     sync.RWMutex
	states map[string]State
}

// NewRegistry builds the allow-list from the provider's records. Disabled
// records are remembered but stay unauthorized.
func NewRegistry(ctx context.Context, log *zap.SugaredLogger, prov Provider, homeTenantID string, autoDiscovery bool) (*Registry, error) {
	r := &Registry{
		log:           log,
		homeTenantID:  homeTenantID,
		autoDiscovery: autoDiscovery,
		prov:          prov,
		limiter:       rate.NewLimiter(rate.Limit(1), 5),
		states:        map[string]State{},
	}
	if homeTenantID != "" {
		r.states[homeTenantID] = StateAuthorized
	}
	recs, err := prov.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range recs {
		if t.ID == "" || t.ID == homeTenantID {
			continue
		}
		if t.Enabled {
			r.states[t.ID] = StateAuthorized
		} else {
			r.states[t.ID] = StateUnknown
		}
	}
	return r, nil
}

// DiscoveryEnabled reports whether unseen tenants may enter pending at all.
func (r *Registry) DiscoveryEnabled() bool { return r.autoDiscovery }

// IsAuthorized reports whether tokens from the tenant may reach resources.
func (r *Registry) IsAuthorized(tenantID string) bool {
	return r.State(tenantID) == StateAuthorized
}

// State returns the current registry state for a tenant.
func (r *Registry) State(tenantID string) State {
	if tenantID == r.homeTenantID && tenantID != "" {
		return StateAuthorized
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[tenantID]
}

// Observe records that a cryptographically valid token from the tenant was
// seen. With auto-discovery enabled an unknown tenant moves to pending;
// otherwise the call is a no-op. Returns the resulting state.
func (r *Registry) Observe(tenantID string) State {
	if tenantID == "" {
		return StateUnknown
	}
	if cur := r.State(tenantID); cur != StateUnknown {
		return cur
	}
	if !r.autoDiscovery {
		return StateUnknown
	}
	if !r.limiter.Allow() {
		r.log.Warnw("tenant observation rate-limited", "tenant", tenantID)
		return StateUnknown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.states[tenantID]; ok && cur != StateUnknown {
		return cur
	}
	r.states[tenantID] = StatePending
	r.log.Infow("tenant pending delegation evidence", "tenant", tenantID)
	return StatePending
}

// ConfirmDelegation promotes a pending tenant after a successful delegated
// exchange against a resource in that tenant. Idempotent under concurrent
// confirmations. The record is persisted through the provider so the tenant
// stays authorized across restarts where the backend is durable.
func (r *Registry) ConfirmDelegation(ctx context.Context, tenantID string) {
	r.mu.Lock()
	if r.states[tenantID] == StateAuthorized {
		r.mu.Unlock()
		return
	}
	r.states[tenantID] = StateAuthorized
	r.mu.Unlock()
	r.log.Infow("tenant authorized via delegation evidence", "tenant", tenantID)

	if _, err := r.prov.GetTenant(ctx, tenantID); err == nil {
		return
	}
	rec := Tenant{ID: tenantID, Role: RoleDelegated, Enabled: true, Description: "auto-discovered"}
	if err := r.prov.UpsertTenant(ctx, rec); err != nil {
		r.log.Warnw("persist discovered tenant", "tenant", tenantID, "err", err)
	}
}

// Register adds a statically configured delegated tenant to the allow-list.
func (r *Registry) Register(tenantID string) {
	if tenantID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[tenantID] = StateAuthorized
}
