package identity

import (
	"errors"
	"fmt"
)

// Error taxonomy for the token broker. Handlers map these onto HTTP statuses;
// everything else propagates as-is.
var (
	// ErrInvalidToken: malformed, expired, wrong audience or bad signature.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnauthorizedTenant: issuing tenant is not on the allow-list.
	ErrUnauthorizedTenant = errors.New("unauthorized tenant")
	// ErrOboExchangeFailed: the identity provider rejected the on-behalf-of
	// exchange and no fallback applied.
	ErrOboExchangeFailed = errors.New("on-behalf-of exchange failed")
	// ErrDownstreamUnavailable: the resource API could not be reached.
	ErrDownstreamUnavailable = errors.New("downstream unavailable")
)

// TenantError wraps a taxonomy error with the tenant and resource involved.
// It never carries token material: the detail string is safe to log and to
// return to callers.
type TenantError struct {
	Kind     error
	TenantID string
	Resource string
	Reason   string
}

func (e *TenantError) Error() string {
	msg := e.Kind.Error()
	if e.TenantID != "" {
		msg += fmt.Sprintf(" (tenant %s", e.TenantID)
		if e.Resource != "" {
			msg += ", resource " + e.Resource
		}
		msg += ")"
	} else if e.Resource != "" {
		msg += fmt.Sprintf(" (resource %s)", e.Resource)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TenantError) Unwrap() error { return e.Kind }

func tenantErr(kind error, tenantID, resource, reason string) *TenantError {
	return &TenantError{Kind: kind, TenantID: tenantID, Resource: resource, Reason: reason}
}
