package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/storefront-oms/internal/auth"
	healthcheck "github.com/vladislavdragonenkov/storefront-oms/internal/health"
	"github.com/vladislavdragonenkov/storefront-oms/internal/metrics"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/aggregate"
	grpcsvc "github.com/vladislavdragonenkov/storefront-oms/internal/service/grpc"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/httpapi"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront-oms/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront-oms/internal/version"
	omsv1 "github.com/vladislavdragonenkov/storefront-oms/proto/oms/v1"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает HTTP API, gRPC и сервер метрик, запускает фоновые воркеры
// и блокируется до отмены ctx или падения одного из компонентов.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	engine := aggregate.NewEngine(deps.orderStore, aggregate.WithLogger(logger.WithField("layer", "aggregate")))
	retry := orders.DefaultRetryConfig()
	retry.MaxAttempts = cfg.ConflictRetryAttempts
	orderService := orders.NewService(engine,
		orders.WithTimeline(deps.timelineRepo),
		orders.WithMetrics(metrics.NewOrderMetrics()),
		orders.WithRetryConfig(retry),
		orders.WithLogger(logger.WithField("layer", "orders")),
	)

	tokens, err := auth.NewManager(auth.Config{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.JWTTTL,
	}, deps.revocations)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Handler: httpapi.NewRouter(httpapi.Options{
			Orders:         orderService,
			Products:       deps.products,
			Tokens:         tokens,
			Idempotency:    deps.idempotencyRepo,
			IdempotencyTTL: cfg.IdempotencyTTL,
			CORSOrigins:    cfg.CORSOriginList(),
			Logger:         logger.WithField("layer", "http"),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, healthServer := newGRPCServer(orderService, deps, tokens, logger)

	relay, err := newOutboxRelay(cfg, deps.outboxRepo, logger)
	if err != nil {
		// Сервис принимает заказы и без брокера; события остаются pending.
		logger.WithError(err).Warn("outbox relay is disabled")
	}
	if relay != nil {
		defer relay.Close()
	}

	healthHandler := newHealthHandler(cfg, deps)

	// Слушаем заранее, чтобы занятый порт был ошибкой запуска, а не фоновой.
	listeners, err := listenAll(cfg.HTTPAddr, cfg.GRPCAddr, cfg.MetricsAddr)
	if err != nil {
		return err
	}
	httpLis, grpcLis, metricsLis := listeners[0], listeners[1], listeners[2]

	g, gctx := errgroup.WithContext(ctx)

	metricsSrv := startMetricsServer(gctx, metricsLis, logger, healthHandler)

	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("gRPC сервер слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	cleanupOpts := []idempotency.CleanupOption{
		idempotency.WithLogger(logger.WithField("worker", "cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	}
	// Redis удаляет отзывы по TTL сам, in-memory хранилище чистит воркер.
	if sweeper, ok := deps.revocations.(idempotency.Sweeper); ok {
		cleanupOpts = append(cleanupOpts, idempotency.WithSweeper("revocations", sweeper))
	}
	if sweeper, ok := deps.outboxRepo.(idempotency.Sweeper); ok && cfg.OutboxRetention > 0 {
		cleanupOpts = append(cleanupOpts, idempotency.WithSweeper("outbox", idempotency.Retained(sweeper, cfg.OutboxRetention)))
	}
	cleanup := idempotency.NewCleanupWorker(deps.idempotencyRepo, cleanupOpts...)
	g.Go(func() error { return cleanup.Run(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("останавливаем серверы")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stopGRPC(grpcServer, logger)
		shutdownHTTP(httpSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func newGRPCServer(orderService *orders.Service, deps *runtimeDependencies, tokens *auth.Manager, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcMetrics.UnaryServerInterceptor(),
		grpcsvc.AuthUnaryInterceptor(tokens, logger.WithField("layer", "grpc-auth"),
			"/grpc.health.v1.Health/Check",
			"/grpc.health.v1.Health/Watch",
		),
	))

	omsv1.RegisterOrderServiceServer(server,
		grpcsvc.NewOrderService(orderService, deps.idempotencyRepo, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(server)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server, healthServer
}

func newHealthHandler(cfg Config, deps *runtimeDependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		handler.RegisterChecker("storage", deps.storageChecker)
	}
	if deps.revocationChecker != nil {
		handler.RegisterChecker("redis", deps.revocationChecker)
	}
	if cfg.OutboxMaxPending <= 0 {
		return handler
	}
	handler.RegisterChecker("outbox", healthcheck.NewOptionalChecker("outbox", func(ctx context.Context) error {
		stats, err := deps.outboxRepo.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingCount > cfg.OutboxMaxPending {
			return fmt.Errorf("outbox backlog %d exceeds %d", stats.PendingCount, cfg.OutboxMaxPending)
		}
		return nil
	}))
	return handler
}

func listenAll(addrs ...string) ([]net.Listener, error) {
	listeners := make([]net.Listener, 0, len(addrs))
	for _, addr := range addrs {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			for _, opened := range listeners {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		listeners = append(listeners, lis)
	}
	return listeners, nil
}

// startMetricsServer обслуживает /metrics и health-эндпоинты на lis
// и останавливается при отмене ctx.
func startMetricsServer(ctx context.Context, lis net.Listener, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
