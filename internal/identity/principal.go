package identity

import "sentra/pkg/tenants"

// Principal is the authenticated caller derived from a validated inbound
// token. RawToken holds the original assertion for on-behalf-of exchanges;
// it must never appear in logs or responses.
type Principal struct {
	Subject  string // object id (oid), falls back to sub
	Name     string
	Email    string // preferred_username
	TenantID string
	Issuer   string
	Scopes   []string
	Roles    []string
	RawToken string

	// TenantState at validation time. A pending tenant still needs
	// delegation evidence before any resource access.
	TenantState tenants.State
}

// HasAnyScope reports whether the principal carries at least one of the
// given scopes. An empty requirement always passes.
func (p Principal) HasAnyScope(required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(p.Scopes))
	for _, s := range p.Scopes {
		set[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
