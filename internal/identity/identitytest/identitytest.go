// Package identitytest provides a fake identity provider for tests: a JWKS
// endpoint and a token endpoint per tenant, plus helpers to mint signed
// access tokens.
package identitytest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultAudience is the audience minted tokens carry unless overridden.
const DefaultAudience = "api://sentra-gateway"

// Authority simulates login.microsoftonline.com for any number of tenants.
// It serves {tenant}/discovery/v2.0/keys and {tenant}/oauth2/v2.0/token.
type Authority struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	keys      map[string]jwk.Key
	exchanges map[string]int
	// failGrants maps tenant -> grant types whose exchange is rejected;
	// the "*" grant rejects everything.
	failGrants map[string]map[string]bool
	// ExchangeDelay slows the token endpoint down, for concurrency tests.
	ExchangeDelay time.Duration
}

func NewAuthority(t *testing.T) *Authority {
	a := &Authority{
		t:          t,
		keys:       map[string]jwk.Key{},
		exchanges:  map[string]int{},
		failGrants: map[string]map[string]bool{},
	}
	a.srv = httptest.NewServer(http.HandlerFunc(a.handle))
	t.Cleanup(a.srv.Close)
	return a
}

// URL is the authority host, e.g. http://127.0.0.1:PORT.
func (a *Authority) URL() string { return a.srv.URL }

// IssuerFor returns the v2 issuer URL for a tenant.
func (a *Authority) IssuerFor(tenantID string) string {
	return a.srv.URL + "/" + tenantID + "/v2.0"
}

// FailExchanges makes the tenant's token endpoint reject the listed grant
// types, or every exchange when none are given.
func (a *Authority) FailExchanges(tenantID string, grantTypes ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.failGrants[tenantID]
	if m == nil {
		m = map[string]bool{}
		a.failGrants[tenantID] = m
	}
	if len(grantTypes) == 0 {
		m["*"] = true
		return
	}
	for _, g := range grantTypes {
		m[g] = true
	}
}

// ExchangeCount reports how many token exchanges hit a tenant's endpoint.
func (a *Authority) ExchangeCount(tenantID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exchanges[tenantID]
}

// Mint signs an access token for the tenant. mutate may adjust claims
// before signing (nil for the defaults).
func (a *Authority) Mint(tenantID string, mutate func(jwt.Token)) string {
	a.t.Helper()
	tok := jwt.New()
	must(a.t, tok.Set(jwt.IssuerKey, a.IssuerFor(tenantID)))
	must(a.t, tok.Set(jwt.AudienceKey, DefaultAudience))
	must(a.t, tok.Set(jwt.SubjectKey, "sub-1234"))
	must(a.t, tok.Set(jwt.ExpirationKey, time.Now().Add(time.Hour)))
	must(a.t, tok.Set(jwt.IssuedAtKey, time.Now()))
	must(a.t, tok.Set("oid", "oid-1234"))
	must(a.t, tok.Set("tid", tenantID))
	must(a.t, tok.Set("name", "Test Analyst"))
	must(a.t, tok.Set("preferred_username", "analyst@example.com"))
	must(a.t, tok.Set("scp", "access_as_user"))
	if mutate != nil {
		mutate(tok)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, a.signingKey(tenantID)))
	if err != nil {
		a.t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func (a *Authority) signingKey(tenantID string) jwk.Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	if k, ok := a.keys[tenantID]; ok {
		return k
	}
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		a.t.Fatalf("generate key: %v", err)
	}
	k, err := jwk.FromRaw(raw)
	if err != nil {
		a.t.Fatalf("jwk from raw: %v", err)
	}
	must(a.t, k.Set(jwk.KeyIDKey, "key-"+tenantID))
	must(a.t, k.Set(jwk.AlgorithmKey, jwa.RS256))
	a.keys[tenantID] = k
	return k
}

func (a *Authority) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	tenantID := parts[0]
	rest := strings.Join(parts[1:], "/")
	switch rest {
	case "discovery/v2.0/keys":
		a.serveJWKS(w, tenantID)
	case "oauth2/v2.0/token":
		a.serveToken(w, r, tenantID)
	default:
		http.NotFound(w, r)
	}
}

func (a *Authority) serveJWKS(w http.ResponseWriter, tenantID string) {
	key := a.signingKey(tenantID)
	pub, err := key.PublicKey()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	set := jwk.NewSet()
	_ = set.AddKey(pub)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

func (a *Authority) serveToken(w http.ResponseWriter, r *http.Request, tenantID string) {
	if a.ExchangeDelay > 0 {
		time.Sleep(a.ExchangeDelay)
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	grant := r.Form.Get("grant_type")

	a.mu.Lock()
	a.exchanges[tenantID]++
	fail := a.failGrants[tenantID]["*"] || a.failGrants[tenantID][grant]
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if fail {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "AADSTS50013: assertion rejected",
		})
		return
	}
	prefix := "cc"
	if grant == "urn:ietf:params:oauth:grant-type:jwt-bearer" {
		prefix = "obo"
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": fmt.Sprintf("%s-token-%s-%d", prefix, tenantID, a.ExchangeCount(tenantID)),
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
