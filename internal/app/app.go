// Package app wires configuration into the services shared by keystackd and
// the keystack CLI.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"keystack/internal/config"
	"keystack/internal/domain"
	"keystack/internal/infra/cfn"
	"keystack/internal/infra/db"
	"keystack/internal/infra/exportcache"
	"keystack/internal/infra/exportmem"
	"keystack/internal/infra/keys/awskms"
	"keystack/internal/infra/keys/memory"
	"keystack/internal/infra/policyopa"
	"keystack/internal/infra/ratelimit"
	"keystack/internal/observability/logger"
	"keystack/internal/usecase"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Store       *db.Store
	Engine      domain.ProvisioningEngine
	EngineName  string
	Guard       usecase.PolicyGuard
	Exports     usecase.ExportRegistry
	Cache       usecase.ExportCache
	RateLimiter domain.RateLimiter
	Provision   *usecase.ProvisionService
	Lookup      *usecase.ExportLookupService

	redis *redis.Client
}

// Build opens the store, selects the engine and guard, and assembles the
// provisioning and lookup services.
func Build(ctx context.Context, cfg config.Config) (*Deps, error) {
	log := logger.Named("app")

	store, err := db.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	d := &Deps{Store: store}
	if store.Available() {
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		d.Exports = db.NewExportRepository(store.DB)
	} else {
		d.Exports = exportmem.New()
	}

	d.Engine, err = NewEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.EngineName = cfg.Engine

	if guard, err := NewGuard(ctx, cfg); err != nil {
		return nil, err
	} else if guard != nil {
		d.Guard = guard
		log.Info("policy guard loaded", zap.String("bundle_id", guard.BundleID()), zap.String("bundle_hash", guard.BundleHash()))
	} else {
		log.Warn("policy guard disabled")
	}

	if client := exportcache.NewClientFromConfig(cfg); client != nil {
		d.redis = client
		cache, err := exportcache.NewRedis(client)
		if err != nil {
			return nil, err
		}
		limiter, err := ratelimit.NewRedisLimiter(client, nil)
		if err != nil {
			return nil, err
		}
		d.Cache = cache
		d.RateLimiter = limiter
	} else {
		d.Cache = exportcache.NewMemory()
		d.RateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
	}

	d.Provision = usecase.NewProvisionService(d.Engine, d.EngineName, cfn.Synthesizer{}, d.Guard, d.Exports, d.Cache, nil)
	d.Lookup = usecase.NewExportLookupService(d.Exports, d.Cache, cfg.ExportCacheTTL())
	log.Info("dependencies ready", logger.Engine(d.EngineName), zap.Bool("db", store.Available()), zap.Bool("redis", d.redis != nil))
	return d, nil
}

// NewEngine returns the provisioning engine named by cfg.Engine.
func NewEngine(ctx context.Context, cfg config.Config) (domain.ProvisioningEngine, error) {
	switch cfg.Engine {
	case config.EngineMemory, "":
		return memory.New(), nil
	case config.EngineKMS:
		return awskms.NewFromConfig(ctx, cfg)
	case config.EngineCloudFormation:
		return cfn.NewEngineFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

// NewGuard returns nil when the guard is disabled.
func NewGuard(ctx context.Context, cfg config.Config) (*policyopa.Engine, error) {
	if cfg.GuardDisabled {
		return nil, nil
	}
	if cfg.GuardBundlePath != "" {
		return policyopa.NewEngineFromBundlePath(ctx, cfg.GuardBundlePath, filepath.Base(cfg.GuardBundlePath))
	}
	return policyopa.NewEngine(ctx)
}

func (d *Deps) Close() error {
	if d == nil || d.redis == nil {
		return nil
	}
	return d.redis.Close()
}
