package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vaxsched/vaccine-scheduler/internal/account"
	"github.com/vaxsched/vaccine-scheduler/internal/api"
	"github.com/vaxsched/vaccine-scheduler/internal/config"
	"github.com/vaxsched/vaccine-scheduler/internal/db"
	redisclient "github.com/vaxsched/vaccine-scheduler/internal/redis"
	"github.com/vaxsched/vaccine-scheduler/internal/scheduling"
)

const version = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		pgPool   *pgxpool.Pool
		rdb      *redis.Client
		repo     scheduling.Repository
		accounts account.Repository
		locker   redisclient.Locker
	)

	if cfg.InMemory() {
		log.Println("POSTGRES_DSN not set, running on in-memory stores")
		repo = scheduling.NewMemoryRepository()
		accounts = account.NewMemoryRepository()
		locker = redisclient.NoopLocker{}
	} else {
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			log.Fatalf("postgres connection error: %v", err)
		}
		defer pgPool.Close()
		log.Println("connected to Postgres")

		if err := db.EnsureSchema(rootCtx, pgPool); err != nil {
			log.Fatalf("schema error: %v", err)
		}

		rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("redis connection error: %v", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Printf("error closing redis: %v", err)
			}
		}()
		log.Println("connected to Redis")

		repo = scheduling.NewPgRepository(pgPool)
		accounts = account.NewPgRepository(pgPool)
		locker = redisclient.NewRedisKeyLocker(rdb, cfg.LockTTL)
	}

	schedulingSvc := scheduling.NewService(repo, locker)
	accountSvc := account.NewService(accounts, cfg.JWTSecret, cfg.TokenTTL)

	router := api.NewRouter(api.RouterConfig{
		Scheduling: schedulingSvc,
		Accounts:   accountSvc,
		PgPool:     pgPool,
		Redis:      rdb,
		Env:        cfg.Env,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	case <-rootCtx.Done():
	}

	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
