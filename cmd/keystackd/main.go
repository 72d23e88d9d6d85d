package main

import (
	"context"
	"os"

	"keystack/internal/app"
	"keystack/internal/config"
	httpinfra "keystack/internal/infra/http"
	"keystack/internal/metrics"
	"keystack/internal/observability/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.FromEnv()
	logger.Init(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, ServiceName: "keystackd"})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	if err := metrics.Register(nil); err != nil {
		log.Fatal("register metrics", logger.Err(err))
	}

	keyCfg, err := config.LoadKeyConfig(cfg.KeyConfigPath)
	if err != nil {
		log.Fatal("load key config", logger.Err(err))
	}

	deps, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal("init dependencies", logger.Err(err))
	}
	defer func() { _ = deps.Close() }()

	srv := httpinfra.NewServerWithDeps(cfg, httpinfra.ServerDeps{
		Provision:      deps.Provision,
		Lookup:         deps.Lookup,
		KeyConfig:      keyCfg,
		StoreAvailable: deps.Store.Available(),
		AdminAPIKey:    cfg.AdminAPIKey,
		RateLimiter:    deps.RateLimiter,
	})
	log.Info("listening", zap.String("addr", cfg.HTTPAddr), logger.Engine(deps.EngineName), logger.Stack(cfg.StackName))
	if err := srv.Run(); err != nil {
		log.Error("server exited", logger.Err(err))
		os.Exit(1)
	}
}
