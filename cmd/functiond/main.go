package main

import (
	"log"
	"os"

	"github.com/dot-do/functions-sub012/internal/api"
	"github.com/dot-do/functions-sub012/internal/backend"
	"github.com/dot-do/functions-sub012/internal/config"
	"github.com/dot-do/functions-sub012/internal/engine"
	"github.com/dot-do/functions-sub012/internal/model"
	"github.com/dot-do/functions-sub012/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("functiond: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"max_concurrent", cfg.MaxConcurrent,
		"max_queue", cfg.MaxQueue,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	registry := backend.NewRegistry()
	human := backend.NewHumanBackend()
	registry.Register(model.FlavorScript, backend.NewScriptBackend(nil))
	registry.Register(model.FlavorAssembly, backend.NewAssemblyBackend(nil))
	registry.Register(model.FlavorHuman, human)
	if cfg.ModelEndpoint != "" {
		registry.Register(model.FlavorModel, backend.NewModelBackend(cfg.ModelEndpoint, nil, nil))
	}

	eng := engine.NewEngine(engine.Config{
		MaxConcurrent:   cfg.MaxConcurrent,
		MaxQueue:        cfg.MaxQueue,
		CacheMaxSize:    cfg.CacheMaxSize,
		DefaultCacheTTL: cfg.CacheTTL,
		WarmIdleTimeout: cfg.WarmIdleTimeout,
	}, registry, db, logger)

	srv := api.NewServer(cfg.ListenAddr, db, registry, eng, human, cfg.DrainTimeout, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
