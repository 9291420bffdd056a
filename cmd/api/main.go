package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/shrimpsizemoose/trekker/logger"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/handler"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/live"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

// repository is everything the API needs from storage.
type repository interface {
	session.Repository
	attendance.Repository
	live.SnapshotRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Fatalf("invalid configuration: %v", err)
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := run(cfg); err != nil {
		logger.Error.Fatalf("http server failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := map[string]handler.Checker{}

	var repo repository
	switch cfg.StoreBackend {
	case "memory":
		logger.Info.Println("using in-memory store; data is lost on restart")
		mem := store.NewMemory()
		if cfg.SeedFile != "" {
			seed, err := store.LoadSeed(cfg.SeedFile)
			if err != nil {
				return err
			}
			mem.Apply(seed)
		}
		repo = mem
	default:
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		health["db"] = db
		repo = store.NewPostgres(db)
	}

	var limiter httpmiddleware.Limiter
	switch cfg.RateLimitBackend {
	case "redis":
		rdb := store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		health["redis"] = rdb
		limiter = httpmiddleware.NewRedisWindow(rdb.Client, cfg.RateLimitPerMin)
	case "memory":
		limiter = httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	}

	bus := live.NewBus(cfg.SubscriberBuffer)
	pool := queue.NewPool("live-publish", cfg.PublishWorkers, cfg.PublishQueueSize)
	sessions := session.NewService(repo, cfg.ExpiryGrace)

	h := &handler.Handler{
		Sessions:   sessions,
		Attendance: attendance.NewService(repo, live.NewPublisher(bus, pool)),
		Snapshots:  live.NewSnapshotBuilder(repo),
		Bus:        bus,
		Heartbeat:  cfg.LiveHeartbeat,
		Health:     health,
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
	}
	if limiter != nil {
		h.RateLimit = httpmiddleware.RateLimit(limiter, handler.CallerKey)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.AccessLog("/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.GinMiddleware())
	h.Register(r)

	if cfg.SweepInProcess {
		go session.NewSweeper(sessions, cfg.SweepInterval).Run(ctx)
	}

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: live streams stay open for the length of a lecture.
		IdleTimeout: 60 * time.Second,
		// Request contexts end with the process so open streams return on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info.Printf("listening on :%s (env=%s, store=%s)", cfg.HTTPPort, cfg.Env, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("forced shutdown: %v", err)
	}
	if err := pool.Close(shutdownCtx); err != nil {
		logger.Error.Printf("live publish queue not drained: %v", err)
	}
	logger.Info.Println("server exited")
	return nil
}
