// cmd/roadcased/main.go
// Package main implements the entry point for the road case service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roadcase/roadcase-go/internal/cases"
	"github.com/roadcase/roadcase-go/internal/config"
	"github.com/roadcase/roadcase-go/internal/counter"
	"github.com/roadcase/roadcase-go/internal/dashboard"
	"github.com/roadcase/roadcase-go/internal/engagement"
	"github.com/roadcase/roadcase-go/internal/event"
	"github.com/roadcase/roadcase-go/internal/geocode"
	"github.com/roadcase/roadcase-go/internal/jwks"
	"github.com/roadcase/roadcase-go/internal/logger"
	"github.com/roadcase/roadcase-go/internal/media"
	"github.com/roadcase/roadcase-go/internal/notify"
	"github.com/roadcase/roadcase-go/internal/schema"
	"github.com/roadcase/roadcase-go/internal/server"
	"github.com/roadcase/roadcase-go/internal/storage"
	"github.com/roadcase/roadcase-go/internal/telemetry"
	"github.com/roadcase/roadcase-go/internal/tracking"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log, flush := logger.Init(logger.Options{
		Dev:         !cfg.IsProduction(),
		Level:       cfg.LogLevel,
		SentryDSN:   cfg.SentryDSN,
		Environment: cfg.Env,
	})
	defer flush()

	if err := run(cfg, log); err != nil {
		log.Error("service failed", "error", err)
		flush()
		os.Exit(1)
	}
	log.Info("server exited")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		if _, err := telemetry.InitTracer(telemetry.TracerName, version, cfg.Env); err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			telemetry.ShutdownTracer(shutdownCtx)
		}()
	}

	// Storage backend: PostgreSQL when a DSN is configured, SQLite otherwise
	var store storage.Store
	var err error
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
	} else {
		store, err = storage.NewSQLite(cfg.SQLitePath)
	}
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()

	// Photo storage: S3 when a bucket is configured, local disk otherwise
	var uploader media.Uploader
	var mediaDir string
	if cfg.S3Bucket != "" {
		s3c, err := media.NewS3Client(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3PublicURL)
		if err != nil {
			return fmt.Errorf("initialize s3: %w", err)
		}
		uploader = s3c
	} else {
		local, err := media.NewLocal(cfg.MediaDir, cfg.MediaBaseURL)
		if err != nil {
			return err
		}
		uploader = local
		mediaDir = local.Dir()
		log.Warn("S3 not configured, storing photos on local disk", "dir", mediaDir)
	}

	pub := event.NewPublisher(cfg.NATSURL, log)
	defer pub.Close()

	var notifier notify.Notifier
	switch {
	case cfg.FCMCredentialsFile != "":
		fcm, err := notify.NewFCM(ctx, cfg.FCMCredentialsFile, log)
		if err != nil {
			return fmt.Errorf("initialize fcm: %w", err)
		}
		notifier = fcm
	case cfg.NATSURL != "":
		notifier = notify.NewQueue(pub)
	default:
		notifier = notify.NewLog(log)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		return fmt.Errorf("initialize schema validator: %w", err)
	}

	var jwksClient *jwks.Client
	if cfg.JWTIssuer != "" {
		jwksClient = jwks.NewClient(cfg.JWKSURL)
	} else {
		log.Warn("ROAD_JWT_ISSUER not set, admin routes are unauthenticated")
	}

	counters := counter.New(store, cfg.TxnMaxAttempts)
	caseStore := cases.New(store, cases.WithMaxAttempts(cfg.TxnMaxAttempts))
	eng := engagement.New(store, caseStore, counters, cfg.TxnMaxAttempts)
	defer eng.Wait()

	handler := server.NewMux(server.Deps{
		Store:              store,
		Cases:              caseStore,
		Uploads:            cases.NewUploadLock(),
		Engagement:         eng,
		Tracker:            tracking.New(store, counters, tracking.WithMaxAttempts(cfg.TxnMaxAttempts)),
		Dashboard:          dashboard.New(caseStore, counters),
		Counters:           counters,
		Validator:          validator,
		Media:              uploader,
		Geocoder:           geocode.New(cfg.GeocoderURL, cfg.GeocoderUserAgent),
		Notifier:           notifier,
		Events:             pub,
		Logger:             log,
		MediaDir:           mediaDir,
		JWKS:               jwksClient,
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		MaxMediaSize:       cfg.MaxMediaSize,
		AllowedMimeTypes:   cfg.AllowedMimeTypes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second, // photo uploads from mobile clients
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", addr, "env", cfg.Env, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
