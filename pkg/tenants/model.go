package tenants

// Role distinguishes the directory the service itself lives in from
// directories reached through a cross-tenant delegation.
type Role string

const (
	RoleHome      Role = "home"
	RoleDelegated Role = "delegated"
)

// Tenant represents an identity directory the service may act in, plus the
// Sentinel workspace coordinates used when querying incidents there.
type Tenant struct {
	ID             string // directory (tenant) id, uuid
	DisplayName    string
	Role           Role
	Enabled        bool
	SubscriptionID string
	ResourceGroup  string
	WorkspaceName  string
	Description    string
}
