package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Strategy tags how a credential was obtained so callers can tell
// user-attributed access from system-attributed access in audit trails.
type Strategy string

const (
	// StrategyOBO: on-behalf-of exchange, user identity preserved.
	StrategyOBO Strategy = "obo"
	// StrategyFallback: OBO failed and the system identity substituted.
	// Only ever issued for bootstrap requests.
	StrategyFallback Strategy = "fallback"
	// StrategySystem: no user in the picture (startup/background work).
	StrategySystem Strategy = "system"
)

// Purpose classifies what a credential will be used for. The fallback gate
// keys off it.
type Purpose string

const (
	PurposeUserData  Purpose = "user-data"
	PurposeBootstrap Purpose = "bootstrap"
)

// Credential is an issued access token plus the coordinates it applies to.
// Opaque to callers beyond the bearer value.
type Credential struct {
	Token     string
	Strategy  Strategy
	TenantID  string
	Resource  string
	ExpiresAt time.Time
}

// ResolverConfig carries client registration and authority settings.
type ResolverConfig struct {
	HomeTenantID  string
	ClientID      string
	ClientSecret  string
	AuthorityHost string
	Timeout       time.Duration
}

// Resolver picks and executes a credential strategy for a target resource:
// on-behalf-of when a user assertion is present, the system identity
// otherwise, with a policy-gated fallback in between. Results go through
// the token cache so bursts of concurrent requests produce one exchange.
type Resolver struct {
	cfg   ResolverConfig
	cache *Cache
	gate  *FallbackGate
	hc    *http.Client
	log   *zap.SugaredLogger
}

func NewResolver(cfg ResolverConfig, cache *Cache, gate *FallbackGate, log *zap.SugaredLogger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Resolver{
		cfg:   cfg,
		cache: cache,
		gate:  gate,
		hc:    &http.Client{Timeout: cfg.Timeout},
		log:   log,
	}
}

// ResolveRequest describes one credential need.
type ResolveRequest struct {
	Resource      string
	TenantID      string // defaults to the assertion's tenant or the home tenant
	UserAssertion string // raw inbound token; empty means system identity
	Purpose       Purpose
}

// Resolve returns a credential for the request. OBO failures surface as
// ErrOboExchangeFailed unless the fallback gate allows the system identity
// to stand in for this purpose.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Credential, error) {
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = r.cfg.HomeTenantID
	}
	if req.Purpose == "" {
		req.Purpose = PurposeUserData
	}

	if req.UserAssertion == "" {
		return r.systemCredential(ctx, tenantID, req.Resource)
	}

	key := CacheKey(tenantID, req.Resource, Fingerprint(req.UserAssertion))
	cred, err := r.cache.GetOrFetch(ctx, key, func(ctx context.Context) (Credential, error) {
		return r.exchangeOBO(ctx, tenantID, req.Resource, req.UserAssertion)
	})
	if err == nil {
		return cred, nil
	}

	if r.gate != nil && r.gate.Allow(ctx, req.Purpose, tenantID, req.Resource) {
		r.log.Warnw("obo exchange failed, substituting system identity",
			"tenant", tenantID, "resource", req.Resource, "purpose", req.Purpose)
		sys, serr := r.systemCredential(ctx, tenantID, req.Resource)
		if serr != nil {
			return Credential{}, err
		}
		sys.Strategy = StrategyFallback
		return sys, nil
	}
	return Credential{}, err
}

func (r *Resolver) systemCredential(ctx context.Context, tenantID, resource string) (Credential, error) {
	key := CacheKey(tenantID, resource, Fingerprint(""))
	return r.cache.GetOrFetch(ctx, key, func(ctx context.Context) (Credential, error) {
		return r.exchangeClientCredentials(ctx, tenantID, resource)
	})
}

// exchangeOBO swaps the user assertion for a token scoped to resource,
// preserving the user's identity in the issued token.
func (r *Resolver) exchangeOBO(ctx context.Context, tenantID, resource, assertion string) (Credential, error) {
	form := url.Values{
		"grant_type":          {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"requested_token_use": {"on_behalf_of"},
		"client_id":           {r.cfg.ClientID},
		"client_secret":       {r.cfg.ClientSecret},
		"assertion":           {assertion},
		"scope":               {defaultScope(resource)},
	}
	cred, err := r.post(ctx, tenantID, form)
	if err != nil {
		exchangesTotal.WithLabelValues(string(StrategyOBO), "error").Inc()
		return Credential{}, tenantErr(ErrOboExchangeFailed, tenantID, resource, err.Error())
	}
	exchangesTotal.WithLabelValues(string(StrategyOBO), "ok").Inc()
	cred.Strategy = StrategyOBO
	cred.TenantID = tenantID
	cred.Resource = resource
	return cred, nil
}

func (r *Resolver) exchangeClientCredentials(ctx context.Context, tenantID, resource string) (Credential, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {r.cfg.ClientID},
		"client_secret": {r.cfg.ClientSecret},
		"scope":         {defaultScope(resource)},
	}
	cred, err := r.post(ctx, tenantID, form)
	if err != nil {
		exchangesTotal.WithLabelValues(string(StrategySystem), "error").Inc()
		return Credential{}, tenantErr(ErrOboExchangeFailed, tenantID, resource, err.Error())
	}
	exchangesTotal.WithLabelValues(string(StrategySystem), "ok").Inc()
	cred.Strategy = StrategySystem
	cred.TenantID = tenantID
	cred.Resource = resource
	return cred, nil
}

func (r *Resolver) post(ctx context.Context, tenantID string, form url.Values) (Credential, error) {
	endpoint := r.cfg.AuthorityHost + "/" + tenantID + "/oauth2/v2.0/token"
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := r.hc.Do(httpReq)
	if err != nil {
		return Credential{}, err
	}
	defer resp.Body.Close()

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       string `json:"error"`
		ErrorDesc   string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Credential{}, fmt.Errorf("token endpoint status %d: unreadable body", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || body.AccessToken == "" {
		reason := body.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		// error_description can echo request detail; keep only the code.
		return Credential{}, fmt.Errorf("token endpoint rejected exchange: %s", reason)
	}
	return Credential{
		Token:     body.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

// defaultScope maps a resource URI onto its ".default" scope set.
func defaultScope(resource string) string {
	if strings.HasSuffix(resource, "/.default") {
		return resource
	}
	return strings.TrimRight(resource, "/") + "/.default"
}
