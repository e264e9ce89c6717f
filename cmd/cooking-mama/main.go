package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/detect"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/config"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/live/sessions"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/gateway/server"
	"github.com/JadenChoi2k/realtime-cooking-mama/pkg/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "cooking-mama: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if err := config.LoadEnvFile(".env"); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	primary, cleanup, err := buildPrimary(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	fallback, err := buildFallback(ctx, cfg, logger)
	if err != nil {
		return err
	}

	registry := sessions.New()
	gw := server.New(cfg, logger, server.Deps{
		Primary:  primary,
		Fallback: fallback,
		Store:    st,
		Registry: registry,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()
	logger.Info("server started", "addr", cfg.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining(true)
	if n := registry.Count(); n > 0 {
		logger.Info("draining live sessions", "count", n)
	}
	registry.CancelAll()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer waitCancel()
	if err := registry.Wait(waitCtx); err != nil {
		logger.Warn("sessions did not drain in time", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("no database configured, cooking history disabled")
		return store.Nop{}, nil
	}
	pg, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("cooking history store ready")
	return pg, nil
}

func buildPrimary(ctx context.Context, cfg *config.Config, logger *slog.Logger) (detect.Detector, func(), error) {
	if cfg.DetectorCommand == "" {
		logger.Info("no primary detector configured")
		return nil, func() {}, nil
	}
	labels, err := detect.LoadLabels(cfg.DetectorLabels)
	if err != nil {
		return nil, nil, fmt.Errorf("load detector labels: %w", err)
	}
	engine, err := detect.StartWorker(ctx, cfg.DetectorCommand, strings.Fields(cfg.DetectorArgs)...)
	if err != nil {
		return nil, nil, fmt.Errorf("start detector worker: %w", err)
	}
	logger.Info("primary detector started",
		"command", cfg.DetectorCommand, "labels", len(labels), "confidence", cfg.DetectorConfidence)
	cleanup := func() {
		if err := engine.Close(); err != nil {
			logger.Warn("detector worker close", "error", err)
		}
	}
	return detect.NewPrimary(engine, labels, cfg.DetectorConfidence), cleanup, nil
}

func buildFallback(ctx context.Context, cfg *config.Config, logger *slog.Logger) (detect.Detector, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Info("no fallback detector configured")
		return nil, nil
	}
	g, err := detect.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.FallbackEdge)
	if err != nil {
		return nil, fmt.Errorf("init fallback detector: %w", err)
	}
	logger.Info("fallback detector ready", "model", cfg.GeminiModel)
	return g, nil
}
