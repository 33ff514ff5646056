package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ecolex.org/internal/auth"
	"ecolex.org/internal/blob"
	"ecolex.org/internal/cache"
	"ecolex.org/internal/compliance"
	"ecolex.org/internal/config"
	"ecolex.org/internal/httpapi"
	"ecolex.org/internal/obs"
	"ecolex.org/internal/store/pg"
	"ecolex.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	log := obs.Logger()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	obs.SetLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log.Info("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := obs.Logger()

	var (
		store compliance.Store
		db    *sql.DB
	)
	switch cfg.Store {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		store = compliance.NewInMemory()
	default:
		pgStore, err := pg.Open(cfg.DatabaseURL, cfg.DBMaxOpenConns)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		db = pgStore.DB()
		store = pgStore

		if cfg.MigrateOnStart {
			mctx, cancel := context.WithTimeout(ctx, time.Minute)
			err := applySchema(mctx, pg.NewMigrator(db), log)
			cancel()
			if err != nil {
				return err
			}
		}
	}

	opts := []compliance.Option{compliance.WithLogger(log)}

	var (
		blobs   compliance.Blobs
		uploads http.Handler
	)
	if cfg.S3Endpoint != "" {
		s3, err := blob.NewS3(ctx, blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		blobs = s3
	} else {
		local := blob.NewLocal(cfg.UploadDir, cfg.BaseURL)
		blobs, uploads = local, local.Handler()
	}
	opts = append(opts, compliance.WithBlobs(blobs))

	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			DB:       cfg.RedisDB,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			// The cache is optional; serve from the store.
			log.Warn("redis unavailable, project cache disabled", "error", err)
		} else {
			defer rc.Close()
			opts = append(opts, compliance.WithCache(rc, cfg.CacheTTL))
		}
	}

	events := stream.New()
	opts = append(opts, compliance.WithPublisher(events))

	var signer *auth.Signer
	if cfg.AuthSecret != "" {
		var err error
		if signer, err = auth.NewSigner(cfg.AuthSecret); err != nil {
			return err
		}
		log.Info("write access requires bearer tokens")
	}

	api := httpapi.New(httpapi.Config{
		Service:     compliance.NewService(store, opts...),
		Stream:      events,
		Ready:       httpapi.ReadyProbe{DB: db},
		Uploads:     uploads,
		Version:     version,
		Environment: cfg.AppEnv,
		Development: cfg.Development(),
		RateBurst:   cfg.RateLimitBurst,
		RatePerSec:  cfg.RateLimitPerSec,
		CORSOrigins: cfg.AllowedOrigins(),
		Logger:      log,
		Auth:        signer,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays zero so the SSE feed is not cut off.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting ecolex-api", "version", version, "addr", srv.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type schemaMigrator interface {
	Up(ctx context.Context) ([]string, error)
	Seed(ctx context.Context) ([]string, error)
}

// applySchema runs pending migrations and then seeds. Seeds only run on a
// fully migrated schema.
func applySchema(ctx context.Context, m schemaMigrator, log *slog.Logger) error {
	applied, err := m.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Info("migrations applied", "files", applied)
	seeded, err := m.Seed(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	log.Info("seeds applied", "files", seeded)
	return nil
}
