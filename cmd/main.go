package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/live-relay/internal/config"
	relaygrpc "github.com/weiawesome/live-relay/internal/grpc"
	"github.com/weiawesome/live-relay/internal/relay"
	"github.com/weiawesome/live-relay/internal/upstream"
	pkglog "github.com/weiawesome/live-relay/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: cfg.Log.ServiceName,
	})
	logger := pkglog.L()

	// Initialize upstream source factory
	factory, err := upstream.NewFactory(cfg.Upstream)
	if err != nil {
		logger.Fatal().Err(err).Str(pkglog.FieldDriver, cfg.Upstream.Driver).Msg("failed to initialize upstream")
	}
	logger.Info().Str(pkglog.FieldDriver, cfg.Upstream.Driver).Msg("upstream initialized")

	grpcServer := relaygrpc.NewServer(logger)

	r := relay.New(factory, relay.Options{
		WebSocket: cfg.WebSocket,
		Adapter:   cfg.Upstream.AdapterOptions(),
		OnAttach:  func() { grpcServer.SetServing(true) },
	})
	r.Start()

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     r.Engine(logger),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("live-relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return grpcServer.ListenAndServe(fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port))
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down live-relay")

		grpcServer.SetServing(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http server forced to shutdown")
		}
		if err := r.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("upstream factory close failed")
		}
		grpcServer.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("live-relay stopped with error")
	}
	logger.Info().Msg("live-relay stopped")
}
