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

	"golang.org/x/sync/errgroup"

	"icarus/internal/app"
	"icarus/internal/config"
	"icarus/internal/queue"
	"icarus/internal/server"
	"icarus/internal/storage"
	"icarus/internal/util"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("ICARUS_CONFIG")
	if configPath == "" {
		configPath = config.ConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	util.InitLogger(cfg.LogLevel)

	sessionTTL, err := cfg.ParseSessionTTL()
	if err != nil {
		return err
	}

	var events *queue.Publisher
	if cfg.EventStream != "" {
		events, err = queue.NewPublisher(queue.PublisherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventStream,
		})
		if err != nil {
			return fmt.Errorf("init event publisher: %w", err)
		}
	}

	var archive storage.ObjectStore
	if cfg.ArchiveEndpoint != "" {
		archive, err = storage.NewMinioStore(cfg.ArchiveEndpoint, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveBucket, cfg.ArchiveUseSSL)
		if err != nil {
			return fmt.Errorf("init upload archive: %w", err)
		}
	}

	application, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		SessionTTL:    sessionTTL,
		SessionSecret: cfg.SessionSecret,
		UploadDir:     cfg.UploadDir,
		Events:        events,
		Archive:       archive,
	})
	if err != nil {
		return fmt.Errorf("init application: %w", err)
	}

	srv, err := server.New(server.Config{
		App:                        application,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		SessionCookieName:          cfg.SessionCookieName,
		SessionCookieSecure:        cfg.SessionCookieSecure,
		SessionTTL:                 sessionTTL,
		AllowedOrigin:              cfg.AllowedOrigin,
		MaxUploadBytes:             cfg.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
