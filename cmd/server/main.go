package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"repertor/internal/archive"
	"repertor/internal/audit"
	dochandler "repertor/internal/document/handler"
	docmetrics "repertor/internal/document/metrics"
	docservice "repertor/internal/document/service"
	docstore "repertor/internal/document/store"
	"repertor/internal/jwtauth"
	"repertor/internal/platform/config"
	"repertor/internal/platform/database"
	"repertor/internal/platform/httpserver"
	"repertor/internal/platform/logger"
	redisclient "repertor/internal/platform/redis"
	reghandler "repertor/internal/registration/handler"
	regmetrics "repertor/internal/registration/metrics"
	regservice "repertor/internal/registration/service"
	regstore "repertor/internal/registration/store"
	httptransport "repertor/internal/transport/http"
	"repertor/pkg/platform/tx"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Error("load time zone", "zone", cfg.TimeZone, "error", err)
		os.Exit(1)
	}

	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(db, log); err != nil {
		log.Error("run migrations", "error", err)
		os.Exit(1)
	}

	redis, err := redisclient.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redis != nil {
		defer redis.Close()
	}

	archiveStore, err := buildArchiveStore(ctx, cfg, redis, log)
	if err != nil {
		log.Error("build archive store", "error", err)
		os.Exit(1)
	}

	runner := tx.NewSQLRunner(db)
	auditStore := audit.NewPostgres(db)
	jwtSvc := jwtauth.NewService(cfg.JWTSigningKey, "repertor")

	regSvc := regservice.New(regstore.NewPostgres(db), runner, auditStore, loc, log, regmetrics.New())
	docSvc := docservice.New(
		docstore.NewPostgres(db),
		regstore.NewPostgres(db),
		runner,
		archiveStore,
		auditStore,
		docservice.ArchiveParams{
			Tier: archive.Tier(cfg.Archive.DefaultTier),
			Restore: archive.RestoreParams{
				AvailabilityDays: cfg.Archive.RestoreDays,
				Speed:            archive.RestoreSpeed(cfg.Archive.RestoreSpeed),
			},
		},
		log,
		docmetrics.New(),
	)

	router := httptransport.NewRouter(log, db,
		reghandler.New(regSvc, log, jwtSvc),
		dochandler.New(docSvc, log, jwtSvc),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting repertor", "addr", cfg.Addr, "timezone", cfg.TimeZone)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := audit.NewKafkaPublisher(ctx, cfg.Kafka)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		worker := audit.NewWorker(auditStore, publisher, log, cfg.Kafka.PollEvery, cfg.Kafka.OutboxBatch)
		g.Go(func() error {
			return worker.Run(ctx)
		})
	} else {
		log.Warn("kafka brokers not configured, audit events stay in the outbox")
	}

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// buildArchiveStore selects S3 when a bucket is configured, otherwise an
// in-memory store for local development. The redis-backed status cache wraps
// either when redis is available.
func buildArchiveStore(ctx context.Context, cfg config.Config, redis *redisclient.Client, log *slog.Logger) (archive.Store, error) {
	var store archive.Store
	if cfg.Archive.Bucket != "" {
		s3Store, err := archive.NewS3(ctx, cfg.Archive)
		if err != nil {
			return nil, err
		}
		store = s3Store
	} else {
		log.Warn("archive bucket not configured, using in-memory evidence store")
		store = archive.NewMemory()
	}

	if redis != nil {
		return archive.NewStatusCache(store, redis.Client, cfg.Archive.StatusCacheTTL, log), nil
	}
	return store, nil
}
