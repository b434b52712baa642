// pkg/config/config.go
package config

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"sentra/pkg/secrets"

	"github.com/joho/godotenv"
)

// Secret names as stored in the vault. Each falls back to the matching
// environment variable when the store has no entry.
const (
	SecretHomeTenantID = "azure-home-tenant-id"
	SecretClientID     = "azure-client-id"
	SecretClientSecret = "azure-client-secret"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Identity / token broker
	HomeTenantID        string
	ClientID            string
	ClientSecret        string
	RequiredScopes      []string
	Audience            string
	AuthorityHost       string // identity-provider base URL, e.g. https://login.microsoftonline.com
	MultiTenantEnabled  bool
	AutoTenantDiscovery bool
	TokenTimeout        time.Duration
	ClockSkew           time.Duration
	FallbackPolicyFile  string

	// Downstream Sentinel API
	SentinelBaseURL string
	SentinelTimeout time.Duration

	// Tenant seed (JSON env or YAML file)
	TenantSeedJSON string
	TenantSeedFile string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

// Load reads configuration, preferring the secret store for credential
// material and falling back to environment variables for everything else.
func Load(store secrets.Store) Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                 env("SENTRA_ENV", "dev"),
		HTTPAddr:            env("SENTRA_HTTP_ADDR", ":8080"),
		HomeTenantID:        secret(store, SecretHomeTenantID, "AZURE_HOME_TENANT_ID"),
		ClientID:            secret(store, SecretClientID, "AZURE_CLIENT_ID"),
		ClientSecret:        secret(store, SecretClientSecret, "AZURE_CLIENT_SECRET"),
		RequiredScopes:      splitCSV(env("REQUIRED_SCOPES", "")),
		Audience:            env("OIDC_AUDIENCE", ""),
		AuthorityHost:       strings.TrimRight(env("AUTHORITY_HOST", "https://login.microsoftonline.com"), "/"),
		MultiTenantEnabled:  envBool("MULTI_TENANT_ENABLED", false),
		AutoTenantDiscovery: envBool("ENABLE_AUTO_TENANT_DISCOVERY", false),
		TokenTimeout:        envDur("TOKEN_TIMEOUT_SEC", 15) * time.Second,
		ClockSkew:           envDur("CLOCK_SKEW_SEC", 60) * time.Second,
		FallbackPolicyFile:  env("FALLBACK_POLICY_FILE", ""),
		SentinelBaseURL:     env("SENTINEL_BASE_URL", "https://management.azure.com"),
		SentinelTimeout:     envDur("SENTINEL_TIMEOUT_SEC", 30) * time.Second,
		TenantSeedJSON:      env("TENANT_SEED_JSON", ""),
		TenantSeedFile:      env("TENANT_SEED_FILE", ""),
		RedisURL:            env("REDIS_URL", ""),
		DatabaseURL:         env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory tenant provider for dev")
	}
	return cfg
}

func secret(store secrets.Store, name, envKey string) string {
	if store != nil {
		if v, err := store.GetSecret(context.Background(), name); err == nil && v != "" {
			return v
		}
	}
	return os.Getenv(envKey)
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
