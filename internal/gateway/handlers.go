// internal/gateway/handlers.go
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"sentra/internal/identity"
	"sentra/internal/sentinel"
	"sentra/pkg/middleware"
	"sentra/pkg/problems"
	"sentra/pkg/tenants"
)

// Handlers wires the authenticated endpoints. Business logic stays thin:
// the broker and the Sentinel client do the real work.
type Handlers struct {
	broker    *identity.Broker
	prov      tenants.Provider
	incidents *sentinel.Client
	log       *zap.SugaredLogger
}

func NewHandlers(broker *identity.Broker, prov tenants.Provider, incidents *sentinel.Client, log *zap.SugaredLogger) *Handlers {
	return &Handlers{broker: broker, prov: prov, incidents: incidents, log: log}
}

// Register mounts all API routes on the router.
func (h *Handlers) Register(r chi.Router) {
	r.Get("/api/auth/status", h.authStatus)
	r.Post("/api/authenticate", h.authenticate)
	r.Get("/api/tenants", h.listTenants)
	r.Get("/api/incidents", h.listIncidents)
	r.Get("/api/incidents/{incidentID}/details", h.getIncident)
}

func (h *Handlers) authStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "missing_bearer", "no authenticated principal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"tenant_id":     p.TenantID,
		"subject":       p.Subject,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	})
}

// authenticate returns the caller's resolved identity. The heavy lifting
// already happened in the auth middleware; this endpoint just reflects it.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "missing_bearer", "no authenticated principal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Token validated successfully",
		"user_info": map[string]any{
			"id":        p.Subject,
			"name":      p.Name,
			"email":     p.Email,
			"tenant_id": p.TenantID,
			"issuer":    p.Issuer,
			"scopes":    p.Scopes,
			"roles":     p.Roles,
		},
	})
}

func (h *Handlers) listTenants(w http.ResponseWriter, r *http.Request) {
	recs, err := h.prov.ListTenants(r.Context())
	if err != nil {
		h.log.Errorw("list tenants", "err", err)
		problems.Write(w, http.StatusInternalServerError, "internal_error", "failed to retrieve tenants")
		return
	}
	reg := h.broker.Registry()
	type tenantView struct {
		TenantID    string `json:"tenant_id"`
		TenantName  string `json:"tenant_name"`
		Role        string `json:"role"`
		Enabled     bool   `json:"enabled"`
		AccessState string `json:"access_state"`
	}
	out := make([]tenantView, 0, len(recs))
	for _, t := range recs {
		out = append(out, tenantView{
			TenantID:    t.ID,
			TenantName:  t.DisplayName,
			Role:        string(t.Role),
			Enabled:     t.Enabled,
			AccessState: reg.State(t.ID).String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": out, "count": len(out)})
}

func (h *Handlers) listIncidents(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "missing_bearer", "no authenticated principal")
		return
	}
	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	if tenantID == "" {
		tenantID = p.TenantID
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	incidents, err := h.incidents.ListIncidents(r.Context(), p, sentinel.ListOptions{
		TenantID: tenantID,
		Severity: q.Get("severity"),
		Status:   q.Get("status"),
		Limit:    limit,
	})
	if err != nil {
		h.log.Warnw("list incidents", "tenant", tenantID, "err", err)
		middleware.WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": incidents,
		"count":     len(incidents),
		"tenant_id": tenantID,
	})
}

func (h *Handlers) getIncident(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFrom(r.Context())
	if !ok {
		problems.Write(w, http.StatusUnauthorized, "missing_bearer", "no authenticated principal")
		return
	}
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		tenantID = p.TenantID
	}
	incidentID := chi.URLParam(r, "incidentID")
	inc, err := h.incidents.GetIncident(r.Context(), p, tenantID, incidentID)
	if err != nil {
		h.log.Warnw("get incident", "tenant", tenantID, "incident", incidentID, "err", err)
		middleware.WriteAuthError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"incident": inc, "tenant_id": tenantID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
