package identity

import (
	"context"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"sentra/pkg/tenants"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ValidatorConfig carries the knobs the token validator needs. AuthorityHost
// is the identity-provider base URL; per-tenant JWKS sets are fetched from
// {authority}/{tenant}/discovery/v2.0/keys.
type ValidatorConfig struct {
	HomeTenantID       string
	Audience           string
	AuthorityHost      string
	RequiredScopes     []string
	MultiTenantEnabled bool
	ClockSkew          time.Duration
	JWKSTTL            time.Duration
}

// Validator checks inbound bearer tokens: issuer-derived tenant membership
// first, then full cryptographic validation against that tenant's keys.
type Validator struct {
	cfg      ValidatorConfig
	registry *tenants.Registry
	jwks     *jwksCache
	log      *zap.SugaredLogger
}

func NewValidator(cfg ValidatorConfig, registry *tenants.Registry, log *zap.SugaredLogger) *Validator {
	if cfg.JWKSTTL <= 0 {
		cfg.JWKSTTL = 6 * time.Hour
	}
	return &Validator{cfg: cfg, registry: registry, jwks: &jwksCache{}, log: log}
}

// Validate authenticates a raw bearer token and returns the principal.
// With auto-discovery off, unknown issuers are rejected before any key
// fetch. With it on, an unknown tenant is observed by the registry only
// after the signature verifies: unauthenticated input never mutates
// discovery state.
func (v *Validator) Validate(ctx context.Context, raw string) (Principal, error) {
	if strings.TrimSpace(raw) == "" {
		validationsTotal.WithLabelValues("invalid").Inc()
		return Principal{}, tenantErr(ErrInvalidToken, "", "", "empty token")
	}

	// Claims peek without trusting the signature: the issuer tells us which
	// tenant's keys to validate against.
	unverified, err := jwt.ParseInsecure([]byte(raw))
	if err != nil {
		validationsTotal.WithLabelValues("invalid").Inc()
		return Principal{}, tenantErr(ErrInvalidToken, "", "", "malformed token")
	}
	issuer := unverified.Issuer()
	tenantID := tenantFromIssuer(issuer)
	if tenantID == "" {
		validationsTotal.WithLabelValues("invalid").Inc()
		return Principal{}, tenantErr(ErrInvalidToken, "", "", "issuer carries no tenant")
	}

	if !v.cfg.MultiTenantEnabled && tenantID != v.cfg.HomeTenantID {
		validationsTotal.WithLabelValues("unauthorized_tenant").Inc()
		return Principal{}, tenantErr(ErrUnauthorizedTenant, tenantID, "", "multi-tenant access disabled")
	}

	state := v.registry.State(tenantID)
	if state == tenants.StateUnknown && !v.registry.DiscoveryEnabled() {
		validationsTotal.WithLabelValues("unauthorized_tenant").Inc()
		return Principal{}, tenantErr(ErrUnauthorizedTenant, tenantID, "", "tenant not in allow-list")
	}

	set, err := v.jwks.get(ctx, v.jwksURL(tenantID), v.cfg.JWKSTTL)
	if err != nil {
		validationsTotal.WithLabelValues("invalid").Inc()
		v.log.Warnw("jwks fetch failed", "tenant", tenantID, "err", err)
		return Principal{}, tenantErr(ErrInvalidToken, tenantID, "", "signing keys unavailable")
	}

	parseOpts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithIssuer(issuer),
		jwt.WithVerify(true),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.cfg.ClockSkew),
	}
	if v.cfg.Audience != "" {
		parseOpts = append(parseOpts, jwt.WithAudience(v.cfg.Audience))
	}
	tok, err := jwt.Parse([]byte(raw), parseOpts...)
	if err != nil {
		validationsTotal.WithLabelValues("invalid").Inc()
		return Principal{}, tenantErr(ErrInvalidToken, tenantID, "", "signature or claim validation failed")
	}

	// Only a token that passed signature and claim checks may register the
	// tenant as a discovery candidate.
	if state == tenants.StateUnknown {
		state = v.registry.Observe(tenantID)
	}
	if state == tenants.StateUnknown {
		validationsTotal.WithLabelValues("unauthorized_tenant").Inc()
		return Principal{}, tenantErr(ErrUnauthorizedTenant, tenantID, "", "tenant not in allow-list")
	}

	p := principalFromToken(tok, tenantID, issuer, raw)
	p.TenantState = state

	if len(v.cfg.RequiredScopes) > 0 && !p.HasAnyScope(v.cfg.RequiredScopes) {
		validationsTotal.WithLabelValues("invalid").Inc()
		return Principal{}, tenantErr(ErrInvalidToken, tenantID, "", "token lacks required scopes")
	}

	validationsTotal.WithLabelValues("ok").Inc()
	return p, nil
}

func (v *Validator) jwksURL(tenantID string) string {
	return v.cfg.AuthorityHost + "/" + tenantID + "/discovery/v2.0/keys"
}

// tenantFromIssuer extracts the directory id from an issuer URL. Both v1
// (sts.windows.net/{tid}/) and v2 (login.microsoftonline.com/{tid}/v2.0)
// issuer shapes put the tenant in the first path segment.
func tenantFromIssuer(issuer string) string {
	u, err := url.Parse(issuer)
	if err != nil {
		return ""
	}
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			return seg
		}
	}
	return ""
}

func principalFromToken(tok jwt.Token, tenantID, issuer, raw string) Principal {
	p := Principal{
		Subject:  tok.Subject(),
		TenantID: tenantID,
		Issuer:   issuer,
		RawToken: raw,
	}
	if oid, ok := tok.Get("oid"); ok {
		if s, _ := oid.(string); s != "" {
			p.Subject = s
		}
	}
	if n, ok := tok.Get("name"); ok {
		p.Name, _ = n.(string)
	}
	if e, ok := tok.Get("preferred_username"); ok {
		p.Email, _ = e.(string)
	}
	if sc, ok := tok.Get("scp"); ok {
		if s, _ := sc.(string); s != "" {
			p.Scopes = strings.Fields(s)
		}
	}
	if rs, ok := tok.Get("roles"); ok {
		if arr, _ := rs.([]interface{}); arr != nil {
			for _, r := range arr {
				if s, _ := r.(string); s != "" {
					p.Roles = append(p.Roles, s)
				}
			}
		}
	}
	return p
}
