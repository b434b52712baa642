// cmd/gateway/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentra/internal/gateway"
	"sentra/internal/identity"
	"sentra/internal/sentinel"
	"sentra/pkg/config"
	"sentra/pkg/db"
	"sentra/pkg/logger"
	"sentra/pkg/middleware"
	"sentra/pkg/secrets"
	"sentra/pkg/tenants"
)

func main() {
	store := secrets.NewEnvStore()
	cfg := config.Load(store)
	log := logger.New(cfg.Env)

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	var prov tenants.Provider
	if pool != nil {
		prov = tenants.NewPostgresProvider(pool, log)
		if err := tenants.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		if err := tenants.SeedFromEnv(context.Background(), pool, cfg.TenantSeedJSON); err != nil {
			log.Warnw("seed", "err", err)
		}
	} else {
		prov = tenants.NewMemoryProvider(log, cfg.HomeTenantID, cfg.TenantSeedJSON, cfg.TenantSeedFile)
	}

	registry, err := tenants.NewRegistry(context.Background(), log, prov, cfg.HomeTenantID, cfg.AutoTenantDiscovery)
	if err != nil {
		log.Fatalw("tenant registry", "err", err)
	}

	gate, err := identity.NewFallbackGate(context.Background(), cfg.FallbackPolicyFile)
	if err != nil {
		log.Fatalw("fallback policy", "err", err)
	}

	validator := identity.NewValidator(identity.ValidatorConfig{
		HomeTenantID:       cfg.HomeTenantID,
		Audience:           cfg.Audience,
		AuthorityHost:      cfg.AuthorityHost,
		RequiredScopes:     cfg.RequiredScopes,
		MultiTenantEnabled: cfg.MultiTenantEnabled,
		ClockSkew:          cfg.ClockSkew,
	}, registry, log)

	cache := identity.NewCache(log, rdb, identity.DefaultSafetyMargin)
	resolver := identity.NewResolver(identity.ResolverConfig{
		HomeTenantID:  cfg.HomeTenantID,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		AuthorityHost: cfg.AuthorityHost,
		Timeout:       cfg.TokenTimeout,
	}, cache, gate, log)
	broker := identity.NewBroker(validator, resolver, registry, log)

	// Warm the system credential for the management plane. Failure is not
	// fatal: the first request pays the exchange instead.
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		warmCtx, cancel := context.WithTimeout(context.Background(), cfg.TokenTimeout)
		if _, err := broker.BootstrapToken(warmCtx, cfg.SentinelBaseURL, ""); err != nil {
			log.Warnw("bootstrap token warmup", "err", err)
		}
		cancel()
	}

	incidents := sentinel.NewClient(cfg.SentinelBaseURL, broker, prov, cfg.SentinelTimeout, log)
	handlers := gateway.NewHandlers(broker, prov, incidents, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.CORS())
	r.Use(middleware.Tracing())
	r.Use(middleware.Authenticate(broker, log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	handlers.Register(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("sentra-gateway listening", "addr", cfg.HTTPAddr, "multi_tenant", cfg.MultiTenantEnabled, "auto_discovery", cfg.AutoTenantDiscovery)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("sentra-gateway stopped")
}
