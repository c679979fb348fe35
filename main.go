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

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/eyes/internal/adapter/provider"
	"github.com/xiaot623/gogo/eyes/internal/broadcast"
	"github.com/xiaot623/gogo/eyes/internal/config"
	"github.com/xiaot623/gogo/eyes/internal/eyes"
	xlog "github.com/xiaot623/gogo/eyes/internal/log"
	"github.com/xiaot623/gogo/eyes/internal/policy"
	"github.com/xiaot623/gogo/eyes/internal/repository"
	"github.com/xiaot623/gogo/eyes/internal/router"
	"github.com/xiaot623/gogo/eyes/internal/routing"
	"github.com/xiaot623/gogo/eyes/internal/service"
	httptransport "github.com/xiaot623/gogo/eyes/internal/transport/http"
	"github.com/xiaot623/gogo/eyes/internal/transport/ws"
)

func main() {
	if err := run(); err != nil {
		xlog.Base().Error().Err(err).Msg("eyes exited with error")
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "eyes"})
	logger := xlog.WithComponent("main")

	logger.Info().
		Int("http_port", cfg.HTTPPort).
		Str("database", cfg.DatabaseURL).
		Str("routing_backend", cfg.RoutingBackend).
		Str("mode", cfg.Mode).
		Msg("starting eyes")

	// Initialize store
	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	var routingStore repository.RoutingStore = db
	if cfg.RoutingBackend == "redis" {
		rs, err := repository.NewRedisRoutingStore(repository.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, xlog.WithComponent("routing"))
		if err != nil {
			return fmt.Errorf("failed to initialize redis routing store: %w", err)
		}
		defer rs.Close()
		routingStore = rs
	}

	// Providers and routing
	providers := provider.NewSet(cfg)
	r := router.New(providers, routingStore, router.Config{
		PrimaryTimeout:  cfg.PrimaryTimeout,
		FallbackTimeout: cfg.FallbackTimeout,
		RetryMaxTries:   uint(cfg.RetryMaxTries),
		RetryInitial:    cfg.RetryInitial,
		RetryMaxDelay:   cfg.RetryMaxDelay,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize policy engine
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	hub := broadcast.NewHub(broadcast.Config{
		ReplaySize:   cfg.ReplayBufferSize,
		SendBuffer:   cfg.SendBufferSize,
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
	})

	// Initialize service
	svc, err := service.New(service.Deps{
		Store:    db,
		Routing:  routingStore,
		Router:   r,
		Eyes:     eyes.DefaultRegistry(),
		Hub:      hub,
		Sessions: service.NewSessionRegistry(),
		Policy:   policyEngine,
	}, service.Options{IdleTTL: cfg.SessionIdleTTL})
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}

	if n, err := routing.Apply(ctx, svc, cfg.File.Routing); err != nil {
		logger.Warn().Err(err).Int("applied", n).Msg("some routing seeds were rejected")
	} else if n > 0 {
		logger.Info().Int("applied", n).Msg("routing seeds applied")
	}

	stream := ws.NewServer(ws.Config{
		WriteTimeout:   cfg.WriteTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
	}, svc)
	server := httptransport.NewServer(svc, stream, httptransport.Config{RateLimitRPS: cfg.RateLimitRPS})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("http server listening")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		svc.RunIdleSweeper(gctx)
		return nil
	})

	if cfg.ConfigFile != "" {
		watcher := routing.NewWatcher(cfg.ConfigFile, svc)
		g.Go(func() error {
			// The watcher is best-effort; the server keeps running without it.
			if err := watcher.Run(gctx); err != nil {
				logger.Warn().Err(err).Msg("routing watcher unavailable")
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down eyes")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to shutdown http server gracefully")
		}
		hub.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("eyes stopped")
	return nil
}
