package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/shaunmat/PostGradePortal/internal/capability"
	"github.com/shaunmat/PostGradePortal/internal/config"
	"github.com/shaunmat/PostGradePortal/internal/db"
	internalhttp "github.com/shaunmat/PostGradePortal/internal/http"
	"github.com/shaunmat/PostGradePortal/internal/jobs"
	"github.com/shaunmat/PostGradePortal/internal/realtime"
	"github.com/shaunmat/PostGradePortal/internal/repository"
	"github.com/shaunmat/PostGradePortal/internal/session"
	"github.com/shaunmat/PostGradePortal/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("env file error: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := repository.NewStore(pool)

	// Without redis the portal still runs: sessions, capability caching and
	// conversation events fall back to in-process state, which is fine for a
	// single instance and for development.
	var kv session.KV = session.NewMemoryKV()
	var bus realtime.Bus = realtime.NewMemoryBus()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer client.Close()
		kv = session.NewRedisKV(client)
		bus = realtime.NewRedisBus(client)
	} else {
		log.Printf("redis not configured, using in-process session and event state")
	}

	blobs, err := storage.NewFileStore(cfg.BlobRoot)
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}

	sessions := session.NewCache(kv)
	caps := capability.NewService(store, kv, cfg.CapabilityCacheTTL)
	syncer := realtime.NewSyncer(bus, store)

	jobs.StartCapabilityRefreshJob(ctx, cfg, store, caps)

	server := internalhttp.NewServer(cfg, store, sessions, caps, syncer, bus, blobs)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("portal listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
