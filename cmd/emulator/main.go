package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/abduss/storage-emulator/internal/archive"
	"github.com/abduss/storage-emulator/internal/auth"
	"github.com/abduss/storage-emulator/internal/config"
	"github.com/abduss/storage-emulator/internal/events"
	"github.com/abduss/storage-emulator/internal/file"
	"github.com/abduss/storage-emulator/internal/logger"
	"github.com/abduss/storage-emulator/internal/metrics"
	"github.com/abduss/storage-emulator/internal/persistence"
	"github.com/abduss/storage-emulator/internal/rules"
	"github.com/abduss/storage-emulator/internal/server"
	"github.com/abduss/storage-emulator/internal/storage"
	"github.com/abduss/storage-emulator/internal/upload"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.Init()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := persistence.New(cfg.Storage.Root, persistence.WithCompression(cfg.Storage.Compress))
	if err != nil {
		log.Fatal("open persistence root", zap.String("root", cfg.Storage.Root), zap.Error(err))
	}
	defer store.Close()

	checks := map[string]storage.Check{"disk": storage.DiskCheck(cfg.Storage.Root)}

	validator, err := rules.FromMode(cfg.Rules.Mode, cfg.Rules.RemoteURL)
	if err != nil {
		log.Fatal("configure rules", zap.Error(err))
	}
	validator = rules.AllowAdmin(validator)

	var dispatchers []events.Dispatcher
	if cfg.Events.Log {
		dispatchers = append(dispatchers, events.LogDispatcher(log.Named("events")))
	}
	if cfg.Events.FunctionsURL != "" {
		dispatchers = append(dispatchers, events.NewFunctionsDispatcher(cfg.Events.FunctionsURL, &http.Client{Timeout: 10 * time.Second}))
	}
	if cfg.Events.Outbox {
		dbPool, err := storage.NewOutboxPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal("connect postgres", zap.Error(err))
		}
		defer dbPool.Close()

		outbox := events.NewOutboxDispatcher(dbPool)
		if err := outbox.EnsureSchema(ctx); err != nil {
			log.Fatal("create event outbox", zap.Error(err))
		}
		dispatchers = append(dispatchers, outbox)
		checks["outbox"] = storage.OutboxCheck(dbPool)
	}
	notifier := events.NewNotifier(cfg.Project.ID, events.Multi(dispatchers...), log.Named("notifier"))

	opts := []file.Option{file.WithLogger(log.Named("storage"))}
	if cfg.MinIO.Enabled {
		minioClient, err := storage.NewArchiveClient(cfg.MinIO)
		if err != nil {
			log.Fatal("connect minio", zap.Error(err))
		}
		if err := storage.EnsureArchiveBucket(ctx, minioClient, cfg.MinIO); err != nil {
			log.Fatal("ensure archive bucket", zap.Error(err))
		}
		opts = append(opts, file.WithArchiver(archive.NewMinIOArchiver(archive.NewMinIOBucket(minioClient, cfg.MinIO.Bucket))))
		checks["archive"] = storage.ArchiveCheck(minioClient, cfg.MinIO.Bucket)
	}

	metrics.InitMetrics()

	fileService := file.NewService(validator, store, upload.NewService(upload.WithTTL(cfg.Uploads.IdleTTL, cfg.Uploads.ClosedTTL)), notifier, opts...)

	router := server.NewRouter(server.Dependencies{
		Config:      cfg,
		FileService: fileService,
		Verifier:    auth.NewVerifier(cfg.Auth),
		Checks:      checks,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("storage emulator listening",
			zap.String("addr", cfg.Server.Address()),
			zap.String("project", cfg.Project.ID),
			zap.String("rules", cfg.Rules.Mode),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info("shutting down gracefully")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", zap.Error(err))
	}
	notifier.Wait()
}
