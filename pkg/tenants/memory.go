// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type memProvider struct {
	log  *zap.SugaredLogger
	mu   sync.RWMutex
	byID map[string]Tenant
}

// seedEntry is the wire shape shared by the JSON env seed and the YAML file.
type seedEntry struct {
	TenantID       string `json:"tenant_id" yaml:"tenant_id"`
	TenantName     string `json:"tenant_name" yaml:"tenant_name"`
	Role           string `json:"role" yaml:"role"`
	Enabled        *bool  `json:"enabled" yaml:"enabled"`
	SubscriptionID string `json:"subscription_id" yaml:"subscription_id"`
	ResourceGroup  string `json:"resource_group" yaml:"resource_group"`
	WorkspaceName  string `json:"workspace_name" yaml:"workspace_name"`
	Description    string `json:"description" yaml:"description"`
}

func (e seedEntry) tenant() Tenant {
	role := Role(e.Role)
	if role != RoleHome {
		role = RoleDelegated
	}
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	return Tenant{
		ID: e.TenantID, DisplayName: e.TenantName, Role: role, Enabled: enabled,
		SubscriptionID: e.SubscriptionID, ResourceGroup: e.ResourceGroup,
		WorkspaceName: e.WorkspaceName, Description: e.Description,
	}
}

// NewMemoryProvider builds an in-memory provider from TENANT_SEED_JSON or a
// YAML tenants file. homeTenantID always gets a record even without a seed.
func NewMemoryProvider(log *zap.SugaredLogger, homeTenantID, seedJSON, seedFile string) Provider {
	p := &memProvider{log: log, byID: map[string]Tenant{}}
	var entries []seedEntry
	if seedJSON != "" {
		if err := json.Unmarshal([]byte(seedJSON), &entries); err != nil {
			log.Warnw("tenant seed json", "err", err)
		}
	} else if seedFile != "" {
		raw, err := os.ReadFile(seedFile)
		if err != nil {
			log.Warnw("tenant seed file", "path", seedFile, "err", err)
		} else {
			var doc struct {
				Tenants []seedEntry `yaml:"tenants"`
			}
			if err := yaml.Unmarshal(raw, &doc); err != nil {
				log.Warnw("tenant seed yaml", "path", seedFile, "err", err)
			}
			entries = doc.Tenants
		}
	}
	for _, e := range entries {
		t := e.tenant()
		if t.ID == homeTenantID {
			t.Role = RoleHome
		}
		p.byID[t.ID] = t
	}
	if homeTenantID != "" {
		if _, ok := p.byID[homeTenantID]; !ok {
			p.byID[homeTenantID] = Tenant{ID: homeTenantID, DisplayName: "home", Role: RoleHome, Enabled: true}
		}
	}
	return p
}

func (m *memProvider) GetTenant(_ context.Context, id string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.byID[id]; ok {
		return t, nil
	}
	return Tenant{}, ErrNotFound
}

func (m *memProvider) ListTenants(_ context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.byID))
	for _, t := range m.byID {
		out = append(out, t)
	}
	return out, nil
}

func (m *memProvider) UpsertTenant(_ context.Context, t Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[t.ID] = t
	return nil
}
