package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"reparts/api/internal/app"
	"reparts/api/internal/authpw"
	"reparts/api/internal/config"
	"reparts/api/internal/lock"
	"reparts/api/internal/media"
	"reparts/api/internal/metrics"
	"reparts/api/internal/search"
	"reparts/api/internal/store"
	"reparts/api/internal/util"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: .env not loaded: %v", err)
	}
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := util.InitSequence(cfg.NodeID); err != nil {
		log.Fatalf("invalid REPARTS_NODE_ID %d: %v", cfg.NodeID, err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	migrations, err := store.MigrationsFS(cfg.MigrationsDir)
	if err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	if err := store.ApplyMigrations(ctx, db, migrations); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	// Search: Meilisearch when configured, Postgres full-text search otherwise.
	pgfts := search.NewPgFTS(db)
	var (
		primary search.Searcher
		indexer search.Indexer = search.NopIndexer{}
	)
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.MeiliIndex)
		defer meiliClient.Close()
		primary = meiliClient
		indexer = meiliClient
	} else {
		log.Printf("MEILI_URL empty; search served by Postgres only")
	}
	searchService := search.NewService(primary, pgfts)
	indexSync := search.NewIndexSync(dataStore, indexer, search.SyncOptions{
		Interval:    cfg.IndexOutboxInterval,
		BatchSize:   cfg.IndexOutboxBatch,
		MaxAttempts: cfg.IndexOutboxMaxAttempts,
	})
	go indexSync.Run(ctx)

	var locker lock.Locker = lock.NopLocker{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLocker, err := lock.NewRedisLocker(cfg.RedisURL, cfg.ChatLockTTL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, chat creation runs unlocked: %v", err)
		} else {
			defer redisLocker.Close()
			locker = redisLocker
		}
	}

	deps := app.Dependencies{
		Store:     dataStore,
		Index:     indexSync,
		Search:    searchService,
		Locker:    locker,
		Repairs:   app.NewRepairQueue(dataStore, cfg.RepairQueueSize),
		Passwords: authpw.NewService(dataStore),
	}
	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		signer, err := media.NewSigner(media.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
			TTL:       cfg.UploadURLTTL,
		})
		if err != nil {
			log.Fatalf("object storage config invalid: %v", err)
		}
		deps.Uploads = signer
	}
	go deps.Repairs.Run(ctx)

	service := app.New(cfg, deps)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", app.NewHTTPServer(service, cfg.CORSOrigin).Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Reparts API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stop()
	// Flush repairs already queued by in-flight requests.
	deps.Repairs.Drain(shutdownCtx)
}
