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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/msp-compliance-console/internal/audit"
	"github.com/xela07ax/msp-compliance-console/internal/console/handler"
	"github.com/xela07ax/msp-compliance-console/internal/console/server"
	"github.com/xela07ax/msp-compliance-console/internal/console/service"
	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
	"github.com/xela07ax/msp-compliance-console/internal/infra/auth"
	"github.com/xela07ax/msp-compliance-console/internal/repository/postgres"
	"github.com/xela07ax/msp-compliance-console/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "msp-console: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Ключи RS256
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		return err
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return err
	}

	// 3. Ресурсы
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := postgres.NewPool(initCtx, cfg.Database)
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Без Redis консоль работает, но без кэша и сигналов
		logger.Warn("redis unavailable at startup", zap.Error(err))
	}

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 4. Источник строк
	var source service.RecordSource
	switch cfg.Dashboard.Source {
	case infra.DashboardSourceREST:
		source, err = upstream.NewSources(cfg.Upstream, metrics, logger)
		if err != nil {
			return err
		}
	default:
		source = postgres.NewSnapshotRepo(pool)
	}
	logger.Info("dashboard source selected", zap.String("source", cfg.Dashboard.Source))

	// 5. Аудит доступа
	recorder := audit.NewRecorder(postgres.NewAuditRepo(pool), cfg.Sync.AuditBuffer, metrics, logger)
	recorder.Start()
	defer recorder.Stop()

	// 6. Сервисы и обработчики (Dependency Injection)
	validator := auth.NewBaseValidator(pubKey)
	dashSvc := service.NewDashboardService(source, service.NewRedisSnapshotCache(rdb, cfg.Dashboard.CacheTTL), metrics, logger).
		WithBuildTimeout(cfg.Dashboard.BuildTimeout)
	authSvc := service.NewAuthService(postgres.NewUserRepo(pool), privKey, cfg.Auth.TokenTTL, logger)
	shareSvc := service.NewShareService(dashSvc, privKey, validator, cfg.Server.PublicURL, cfg.Share)
	syncSvc := service.NewSyncService(postgres.NewSyncRepo(pool), rdb, logger)

	api := server.NewConsoleServer(logger, validator,
		handler.NewAuthHandler(authSvc, recorder),
		handler.NewDashboardHandler(dashSvc, shareSvc, recorder, logger),
		handler.NewShareHandler(shareSvc, recorder, logger),
		handler.NewSyncHandler(syncSvc, recorder, logger),
	)

	go dashSvc.ListenRefresh(ctx, rdb)

	// 7. HTTP серверы
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 8. Graceful Shutdown
	select {
	case <-ctx.Done():
		logger.Info("console stopping")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
		stop()
	}

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("console exited properly")
	return nil
}
