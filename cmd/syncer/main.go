package main

import (
	"context"
	"errors"
	"fmt"
	"net"
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
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/msp-compliance-console/internal/engine"
	"github.com/xela07ax/msp-compliance-console/internal/infra"
	"github.com/xela07ax/msp-compliance-console/internal/repository/postgres"
	"github.com/xela07ax/msp-compliance-console/internal/syncer"
	"github.com/xela07ax/msp-compliance-console/internal/upstream"
)

const serviceName = "msp.syncer"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "msp-syncer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required for the syncer")
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
		return fmt.Errorf("redis: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	sources, err := upstream.NewSources(cfg.Upstream, metrics, logger)
	if err != nil {
		return err
	}
	runs := postgres.NewSyncRepo(pool)
	s := syncer.New(sources, postgres.NewSnapshotRepo(pool), runs,
		syncer.NewRedisCoordinator(rdb, cfg.Sync.LockTTL), metrics, logger)

	// gRPC health: SERVING после первого удачного прогона
	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)

	lis, err := net.Listen("tcp", cfg.Sync.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen gRPC: %w", err)
	}
	go func() {
		logger.Info("syncer gRPC health started", zap.String("addr", cfg.Sync.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("gRPC serve failed", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go watchHealth(ctx, s, hs)

	requests := syncer.ListenRequests(ctx, rdb, logger.Named("sync-requests"))
	logger.Info("syncer started", zap.Duration("interval", cfg.Sync.Interval))
	s.Loop(ctx, cfg.Sync.Interval, requests) // Блокирует до сигнала

	logger.Info("syncer stopping")
	hs.Shutdown()
	grpcSrv.GracefulStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("syncer exited properly")
	return nil
}

func watchHealth(ctx context.Context, s *syncer.Syncer, hs *health.Server) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.Healthy() {
				hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
				hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
				return
			}
		}
	}
}
