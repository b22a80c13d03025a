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

	"github.com/relaykit/copilot-relay/internal/admission"
	"github.com/relaykit/copilot-relay/internal/alias"
	"github.com/relaykit/copilot-relay/internal/api"
	"github.com/relaykit/copilot-relay/internal/auth"
	"github.com/relaykit/copilot-relay/internal/catalog"
	"github.com/relaykit/copilot-relay/internal/config"
	"github.com/relaykit/copilot-relay/internal/credential"
	"github.com/relaykit/copilot-relay/internal/httputil"
	"github.com/relaykit/copilot-relay/internal/relay"
	"github.com/relaykit/copilot-relay/internal/secrets"
	"github.com/relaykit/copilot-relay/internal/telemetry"
	"github.com/relaykit/copilot-relay/internal/tokenstore"
	"github.com/relaykit/copilot-relay/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting copilot relay", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Init(ctx, "copilot-relay", cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(ctx)

	githubToken := cfg.GitHubToken
	if githubToken == "" && cfg.GitHubTokenSecretName != "" {
		store, err := secrets.NewAWSStore(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to connect to secrets manager", "error", err)
			os.Exit(1)
		}
		githubToken, err = secrets.GitHubToken(ctx, store, cfg.GitHubTokenSecretName)
		if err != nil {
			slog.Error("failed to fetch github token secret", "error", err)
			os.Exit(1)
		}
		slog.Info("github token loaded from secrets manager", "secret", cfg.GitHubTokenSecretName)
	}
	if githubToken == "" {
		slog.Error("no github token configured")
		os.Exit(1)
	}

	credStore := credential.NewStore()
	refresher := credential.NewGitHubRefresher(githubToken, cfg.TokenURL)
	coord := credential.NewCoordinator(credStore, refresher)

	if cfg.TokenFile != "" && cfg.EncryptionKey != "" {
		fileStore, err := tokenstore.NewFileStore(cfg.TokenFile, cfg.EncryptionKey)
		if err != nil {
			slog.Error("failed to open token file store", "error", err)
			os.Exit(1)
		}
		if cred, err := fileStore.Load(); err == nil {
			credStore.Replace(cred)
			slog.Info("credential restored from token file")
		} else if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to load persisted credential", "error", err)
		}
		coord.OnRefresh(func(cred *credential.Credential) {
			if err := fileStore.Save(cred); err != nil {
				slog.Warn("failed to persist credential", "error", err)
			}
		})
	}

	// Exchange eagerly so the first request does not pay the refresh.
	// Failure here is not fatal, the coordinator retries on demand.
	if _, err := credStore.Get(); err != nil {
		if _, err := coord.ForceRefresh(ctx); err != nil {
			slog.Warn("startup credential exchange failed", "error", err)
		}
	}

	registry := alias.Default()
	rel := relay.New(registry, coord, httputil.StreamingClient())
	cat := catalog.New(coord, httputil.DefaultClient(), cfg.CatalogTTL)

	var gates admission.Chain
	var checkers []api.HealthChecker
	checkers = append(checkers, api.NewCredentialHealthChecker(credStore))

	if cfg.ManualApproval {
		gates = append(gates, admission.NewManualApproval(os.Stdin, os.Stderr))
		slog.Info("manual approval enabled")
	}

	if cfg.RedisURL != "" {
		limiter, err := admission.NewRedisLimiter(cfg.RedisURL, cfg.RateLimitRPM)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer limiter.Close()
		gates = append(gates, limiter)
		checkers = append(checkers, api.NewRedisHealthChecker(limiter.Client()))
		slog.Info("using redis rate limiter", "rpm", cfg.RateLimitRPM)
	} else {
		gates = append(gates, admission.NewInMemoryLimiter(cfg.RateLimitRPM))
		slog.Info("using in-memory rate limiter", "rpm", cfg.RateLimitRPM)
	}

	var recorder usage.Recorder
	if cfg.DatabaseURL != "" {
		pg, err := usage.Open(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		recorder = pg
		checkers = append(checkers, api.NewPostgresHealthChecker(pg.DB()))
		slog.Info("recording usage to postgres")
	} else {
		recorder = usage.NewMemoryRecorder()
		slog.Info("recording usage in memory")
	}

	handler := api.NewHandler(api.HandlerConfig{
		Relay:          rel,
		Catalog:        cat,
		Refresher:      coord,
		Admission:      gates,
		Usage:          recorder,
		Registry:       registry,
		AdminKey:       auth.NewAdminKey(cfg.AdminKeyHash),
		HealthCheckers: checkers,
	})

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// Streaming responses can stay open for minutes; the write
		// timeout has to accommodate the longest completion.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
