// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgProvider implements Provider backed by PostgreSQL.
type pgProvider struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresProvider constructs a PostgreSQL-backed tenant provider.
func NewPostgresProvider(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Provider {
	return &pgProvider{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  display_name text,
  role text NOT NULL DEFAULT 'delegated',
  enabled boolean NOT NULL DEFAULT true,
  subscription_id text,
  resource_group text,
  workspace_name text,
  description text,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS subscription_id text;
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS resource_group text;
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS workspace_name text;
ALTER TABLE tenants ADD COLUMN IF NOT EXISTS description text;
`)
	return err
}

// SeedFromEnv ingests initial tenant data from TENANT_SEED_JSON. Existing
// rows win: a seed never overwrites operator edits.
func SeedFromEnv(ctx context.Context, dbPool *pgxpool.Pool, jsonSeed string) error {
	if jsonSeed == "" {
		return nil
	}
	var entries []seedEntry
	if err := json.Unmarshal([]byte(jsonSeed), &entries); err != nil {
		return err
	}
	for _, e := range entries {
		t := e.tenant()
		_, err := dbPool.Exec(ctx, `INSERT INTO tenants(id, display_name, role, enabled, subscription_id, resource_group, workspace_name, description)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8) ON CONFLICT (id) DO NOTHING`,
			t.ID, t.DisplayName, string(t.Role), t.Enabled, t.SubscriptionID, t.ResourceGroup, t.WorkspaceName, t.Description)
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *pgProvider) GetTenant(ctx context.Context, id string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT id, COALESCE(display_name,''), role, enabled,
		COALESCE(subscription_id,''), COALESCE(resource_group,''), COALESCE(workspace_name,''), COALESCE(description,'')
		FROM tenants WHERE id=$1`, id)
	var t Tenant
	var role string
	err := row.Scan(&t.ID, &t.DisplayName, &role, &t.Enabled, &t.SubscriptionID, &t.ResourceGroup, &t.WorkspaceName, &t.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	t.Role = Role(role)
	return t, nil
}

func (p *pgProvider) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT id, COALESCE(display_name,''), role, enabled,
		COALESCE(subscription_id,''), COALESCE(resource_group,''), COALESCE(workspace_name,''), COALESCE(description,'')
		FROM tenants ORDER BY role, display_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		var t Tenant
		var role string
		if err := rows.Scan(&t.ID, &t.DisplayName, &role, &t.Enabled, &t.SubscriptionID, &t.ResourceGroup, &t.WorkspaceName, &t.Description); err != nil {
			return nil, err
		}
		t.Role = Role(role)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *pgProvider) UpsertTenant(ctx context.Context, t Tenant) error {
	_, err := p.dbPool.Exec(ctx, `INSERT INTO tenants(id, display_name, role, enabled, subscription_id, resource_group, workspace_name, description)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name, role=EXCLUDED.role,
			enabled=EXCLUDED.enabled, subscription_id=EXCLUDED.subscription_id,
			resource_group=EXCLUDED.resource_group, workspace_name=EXCLUDED.workspace_name,
			description=EXCLUDED.description, updated_at=NOW()`,
		t.ID, t.DisplayName, string(t.Role), t.Enabled, t.SubscriptionID, t.ResourceGroup, t.WorkspaceName, t.Description)
	return err
}
