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

	"fieldledger/api/internal/app"
	"fieldledger/api/internal/blob"
	"fieldledger/api/internal/config"
	"fieldledger/api/internal/directory"
	"fieldledger/api/internal/logging"
	"fieldledger/api/internal/portal"
	"fieldledger/api/internal/render"
	"fieldledger/api/internal/session"
	"fieldledger/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.NewLogger(cfg.Environment)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}
	dataStore := store.NewPostgresStore(db)

	blobStore, err := blob.NewStore(blob.Config{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
		PublicURL: cfg.BlobPublicURL,
	})
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}
	if err := blobStore.EnsureBucket(ctx); err != nil {
		logger.Warn("blob bucket check failed, uploads may fail until storage is reachable", "error", err)
	}

	pgSearch := directory.NewPgSearch(db)
	var meiliClient *directory.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = directory.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	dirService := directory.NewService(meiliClient, pgSearch, logger)
	dirService.Rebuild(ctx)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	renderer := render.NewService()
	var indexer directory.Indexer = pgIndexerOrMeili(meiliClient)
	reconciler := portal.NewReconciler(dataStore, renderer, blobStore, indexer, logger)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	sweeper := portal.NewSweeper(dataStore, reconciler, cfg.SyncSweepInterval, cfg.SyncStaleAfter, cfg.SyncSweepWorkers, logger)
	go sweeper.Run(sweepCtx)

	service := app.New(cfg, dataStore, reconciler, dirService, sessions, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("FieldLedger API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// pgIndexerOrMeili picks where reconciliations publish directory entries.
// With Meilisearch configured the entries go there; without it the
// Postgres rows themselves back the directory, so indexing is a no-op.
func pgIndexerOrMeili(meili *directory.Meili) directory.Indexer {
	if meili != nil {
		return meili
	}
	return directory.NoopIndexer{}
}
