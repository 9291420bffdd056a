package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/shrimpsizemoose/trekker/logger"

	"rollcall/internal/config"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

// Worker runs the session sweeper against the shared database, for
// deployments that set SWEEP_IN_PROCESS=false on the API replicas.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Fatalf("invalid configuration: %v", err)
	}
	if cfg.StoreBackend != "postgres" {
		logger.Error.Fatalf("the sweeper worker needs STORE_BACKEND=postgres, got %s", cfg.StoreBackend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Error.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error.Fatalf("migrate: %v", err)
	}

	sessions := session.NewService(store.NewPostgres(db), cfg.ExpiryGrace)
	logger.Info.Printf("sweeper started, interval %s", cfg.SweepInterval)
	session.NewSweeper(sessions, cfg.SweepInterval).Run(ctx)
	logger.Info.Println("sweeper stopped")
}
