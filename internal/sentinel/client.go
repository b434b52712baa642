// internal/sentinel/client.go
package sentinel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jmes "github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"sentra/internal/identity"
	"sentra/pkg/tenants"
)

const apiVersion = "2023-02-01"

// TokenSource hands out user-attributed credentials for a resource.
// *identity.Broker satisfies it.
type TokenSource interface {
	TokenForResource(ctx context.Context, p identity.Principal, tenantID, resource string) (identity.Credential, error)
}

// Client talks to the Sentinel (SecurityInsights) incident API of whichever
// tenant workspace the caller is authorized for.
type Client struct {
	baseURL string
	tokens  TokenSource
	prov    tenants.Provider
	hc      *http.Client
	log     *zap.SugaredLogger
}

func NewClient(baseURL string, tokens TokenSource, prov tenants.Provider, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		prov:    prov,
		hc:      &http.Client{Timeout: timeout},
		log:     log,
	}
}

// ListIncidents queries incidents in the tenant's workspace, newest first.
func (c *Client) ListIncidents(ctx context.Context, p identity.Principal, opts ListOptions) ([]Incident, error) {
	t, err := c.prov.GetTenant(ctx, opts.TenantID)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{
		"api-version": {apiVersion},
		"$top":        {strconv.Itoa(limit)},
		"$orderby":    {"properties/createdTimeUtc desc"},
	}
	if f := odataFilter(opts.Severity, opts.Status); f != "" {
		q.Set("$filter", f)
	}
	doc, err := c.get(ctx, p, t, c.incidentsURL(t, "")+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	items, err := jmes.Search("value", doc)
	if err != nil {
		return nil, err
	}
	arr, _ := items.([]interface{})
	out := make([]Incident, 0, len(arr))
	for _, item := range arr {
		out = append(out, simplify(item))
	}
	c.log.Infow("incidents retrieved", "tenant", t.ID, "count", len(out))
	return out, nil
}

// GetIncident fetches one incident by its resource name.
func (c *Client) GetIncident(ctx context.Context, p identity.Principal, tenantID, incidentID string) (Incident, error) {
	t, err := c.prov.GetTenant(ctx, tenantID)
	if err != nil {
		return Incident{}, err
	}
	doc, err := c.get(ctx, p, t, c.incidentsURL(t, incidentID)+"?api-version="+apiVersion)
	if err != nil {
		return Incident{}, err
	}
	return simplify(doc), nil
}

func (c *Client) incidentsURL(t tenants.Tenant, incidentID string) string {
	u := fmt.Sprintf("%s/subscriptions/%s/resourceGroups/%s/providers/Microsoft.OperationalInsights/workspaces/%s/providers/Microsoft.SecurityInsights/incidents",
		c.baseURL, t.SubscriptionID, t.ResourceGroup, t.WorkspaceName)
	if incidentID != "" {
		u += "/" + url.PathEscape(incidentID)
	}
	return u
}

func (c *Client) get(ctx context.Context, p identity.Principal, t tenants.Tenant, fullURL string) (interface{}, error) {
	cred, err := c.tokens.TokenForResource(ctx, p, t.ID, c.baseURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &identity.TenantError{Kind: identity.ErrDownstreamUnavailable, TenantID: t.ID, Resource: c.baseURL, Reason: "request failed"}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &identity.TenantError{Kind: identity.ErrDownstreamUnavailable, TenantID: t.ID, Resource: c.baseURL,
			Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	var doc interface{}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &identity.TenantError{Kind: identity.ErrDownstreamUnavailable, TenantID: t.ID, Resource: c.baseURL, Reason: "unreadable body"}
	}
	return doc, nil
}

func odataFilter(severity, status string) string {
	var filters []string
	switch status {
	case "", "active":
		filters = append(filters, "properties/status ne 'Closed'")
	case "closed":
		filters = append(filters, "properties/status eq 'Closed'")
	}
	severityMap := map[string]string{
		"high": "High", "medium": "Medium", "low": "Low", "informational": "Informational",
	}
	if s, ok := severityMap[strings.ToLower(severity)]; ok {
		filters = append(filters, fmt.Sprintf("properties/severity eq '%s'", s))
	}
	return strings.Join(filters, " and ")
}

// incidentPaths maps simplified fields onto the ARM incident document.
var incidentPaths = map[string]string{
	"id":              "name",
	"title":           "properties.title",
	"description":     "properties.description",
	"severity":        "properties.severity",
	"status":          "properties.status",
	"created_time":    "properties.createdTimeUtc",
	"last_updated":    "properties.lastModifiedTimeUtc",
	"incident_number": "properties.incidentNumber",
	"tactics":         "properties.additionalData.tactics",
	"alert_count":     "properties.additionalData.alertsCount",
	"owner":           "properties.owner.email",
}

func simplify(doc interface{}) Incident {
	str := func(field string) string {
		v, _ := jmes.Search(incidentPaths[field], doc)
		s, _ := v.(string)
		return s
	}
	num := func(field string) int {
		v, _ := jmes.Search(incidentPaths[field], doc)
		f, _ := v.(float64)
		return int(f)
	}
	inc := Incident{
		ID:             str("id"),
		Title:          str("title"),
		Description:    str("description"),
		Severity:       str("severity"),
		Status:         str("status"),
		CreatedTime:    str("created_time"),
		LastUpdated:    str("last_updated"),
		IncidentNumber: num("incident_number"),
		AlertCount:     num("alert_count"),
		Owner:          str("owner"),
	}
	if v, _ := jmes.Search(incidentPaths["tactics"], doc); v != nil {
		if arr, ok := v.([]interface{}); ok {
			for _, t := range arr {
				if s, _ := t.(string); s != "" {
					inc.Tactics = append(inc.Tactics, s)
				}
			}
		}
	}
	if inc.Title == "" {
		inc.Title = "No title"
	}
	if inc.Owner == "" {
		inc.Owner = "Unassigned"
	}
	return inc
}
