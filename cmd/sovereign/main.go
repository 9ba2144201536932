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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/sovereign-gateway/internal/audit"
	"github.com/xela07ax/sovereign-gateway/internal/connectors"
	"github.com/xela07ax/sovereign-gateway/internal/console/handler"
	"github.com/xela07ax/sovereign-gateway/internal/console/server"
	"github.com/xela07ax/sovereign-gateway/internal/engine"
	"github.com/xela07ax/sovereign-gateway/internal/infra"
	"github.com/xela07ax/sovereign-gateway/internal/infra/auth"
	"github.com/xela07ax/sovereign-gateway/internal/policy"
	"github.com/xela07ax/sovereign-gateway/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sovereign: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Конфиг и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Контекст жизненного цикла: SIGINT/SIGTERM останавливают всё
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Политика: нарушение инвариантов таблиц — паника на старте
	pdp := policy.Default()

	// 3. Хранилища: у каждого файла своя очередь записи
	store := storage.NewStore(cfg.State.Dir, logger)
	defer store.Close()
	if err := store.EnsureInitialized(appCtx, cfg.State.Project); err != nil {
		return fmt.Errorf("init project state: %w", err)
	}
	events := storage.NewEventLog(cfg.State.Dir, logger)
	defer events.Close()
	auditLog := audit.NewFileLog(cfg.State.Dir, logger)
	defer auditLog.Close()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewMetrics(reg)

	// 4. Downstream: клиенты + лимитер + Circuit Breaker
	downstreams, err := connectors.FromConfig(cfg, &http.Client{}, metrics, logger)
	if err != nil {
		return err
	}
	for _, name := range pdp.Downstreams() {
		if _, ok := downstreams.Get(name); !ok {
			logger.Warn("allowlisted downstream is not configured", zap.String("downstream", name))
		}
	}

	// 5. Ядро
	limiter := engine.NewRateLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	dispatcher := engine.NewDispatcher(store, events, downstreams, logger)
	gateway := engine.NewGateway(pdp, dispatcher, auditLog, metrics, logger)
	guard := auth.NewGuard(auth.Tokens{Read: cfg.Auth.TokenRead, Write: cfg.Auth.TokenWrite}, limiter, auditLog, metrics, logger)
	ui := handler.NewUIHandler(store, events, auditLog, metrics, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.New(logger, guard, gateway, ui),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(appCtx)

	g.Go(func() error {
		logger.Info("sovereign gateway started", zap.String("addr", srv.Addr), zap.Strings("downstreams", downstreams.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listen: %w", err)
			}
			return nil
		})
	}

	// Фоновые задачи: уборка окон лимитера, проверка downstream
	g.Go(func() error {
		limiter.StartJanitor(gctx, cfg.RateLimit.SweepInterval)
		return nil
	})
	g.Go(func() error {
		connectors.Probe(gctx, downstreams, cfg.Downstream.ProbeAttempts, logger)
		return nil
	})

	// 6. Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("sovereign gateway stopping")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("sovereign gateway exited properly")
	return nil
}
