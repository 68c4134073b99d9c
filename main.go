package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel"

	"github.com/xiaot623/gogo/runhook/internal/adapter/callback"
	"github.com/xiaot623/gogo/runhook/internal/adapter/objectstore"
	"github.com/xiaot623/gogo/runhook/internal/adapter/sandbox"
	"github.com/xiaot623/gogo/runhook/internal/adapter/secrets"
	"github.com/xiaot623/gogo/runhook/internal/adapter/signals"
	"github.com/xiaot623/gogo/runhook/internal/auth"
	"github.com/xiaot623/gogo/runhook/internal/config"
	"github.com/xiaot623/gogo/runhook/internal/repository"
	"github.com/xiaot623/gogo/runhook/internal/service"
	"github.com/xiaot623/gogo/runhook/internal/telemetry"
	handler "github.com/xiaot623/gogo/runhook/internal/transport/http"
	"github.com/xiaot623/gogo/runhook/policy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, "runhook")
	if err != nil {
		return err
	}
	logger.Info("starting runhook",
		"http_port", cfg.HTTPPort, "internal_port", cfg.InternalPort, "database", cfg.DatabaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	codec, err := newSecretsCodec(cfg, logger)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	tokens := auth.NewTokenIssuer(cfg.TokenSecret, cfg.SandboxTokenTTL())
	deps := service.Dependencies{
		Sandbox:   sandbox.NewClient(cfg.SandboxAPIURL),
		Callbacks: callback.NewSender(cfg.CallbackTimeout()),
		Secrets:   codec,
		Tokens:    tokens,
		Policy:    policyEngine,
		Logger:    logger,
		Telemetry: tel,
	}

	if cfg.S3Bucket != "" {
		objects, err := objectstore.NewS3Store(ctx, objectstore.Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			PresignExpiry:   cfg.PresignExpiry(),
		})
		if err != nil {
			return fmt.Errorf("failed to initialize object store: %w", err)
		}
		deps.ObjectStore = objects
	} else {
		logger.Warn("S3_BUCKET not set; storage endpoints are disabled")
	}

	if cfg.RedisAddr != "" {
		publisher, err := signals.NewPublisher(ctx, cfg.RedisAddr, signals.WithStream(cfg.RedisStream))
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer publisher.Close()
		deps.Signals = publisher
	}

	// Initialize service
	svc := service.New(db, cfg, deps)

	externalServer := handler.NewExternalServer(svc)
	internalServer := handler.NewInternalServer(svc, tokens)

	errCh := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := externalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("external server: %w", err)
		}
	}()
	go func() {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		if err := internalServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("internal server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	logger.Info("shutting down runhook")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := externalServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown external server gracefully", "err", err)
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown internal server gracefully", "err", err)
	}

	logger.Info("runhook stopped")
	return serveErr
}

func newSecretsCodec(cfg *config.Config, logger *log.Logger) (*secrets.Codec, error) {
	if cfg.SecretsKey != "" {
		codec, err := secrets.NewCodec(cfg.SecretsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load secrets key: %w", err)
		}
		return codec, nil
	}
	logger.Warn("SECRETS_KEY not set; stored secrets will not survive a restart")
	return secrets.NewEphemeralCodec()
}
