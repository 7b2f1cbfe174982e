package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	shutdownTimeout     = 5 * time.Second
	grpcHealthSyncEvery = 5 * time.Second
)

// Run поднимает HTTP API, gRPC health и сервер метрик и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	storefrontMetrics := metrics.NewStorefrontMetrics()

	// Kafka опциональна: без брокера заказы создаются, события не публикуются.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(producer, logger)

	var (
		publisher *kafka.BreakerPublisher
		dlq       domain.OutboxPublisher
	)
	if producer != nil {
		publisher = newOutboxPublisher(producer, cfg.OrderEventsTopic, logger)
		deps.checkers["kafka"] = newBrokerChecker(publisher)
		if cfg.DeadLetterTopic != "" {
			dlq = kafka.NewOutboxPublisher(producer, cfg.DeadLetterTopic)
		}
	}

	serviceOptions := []orders.Option{
		orders.WithMetrics(storefrontMetrics),
		orders.WithLogger(logger.WithField("layer", "orders")),
	}
	if deps.Cache != nil {
		serviceOptions = append(serviceOptions, orders.WithCache(deps.Cache))
	}
	// In-memory outbox без publisher только копил бы сообщения.
	if publisher != nil || deps.Durable {
		serviceOptions = append(serviceOptions, orders.WithOutbox(deps.Outbox))
	}
	orderService := orders.NewService(deps.Orders, serviceOptions...)

	api := httpapi.NewHandler(
		orderService,
		catalog.NewService(deps.Products),
		httpapi.WithIdempotency(idempotency.NewGuard(deps.Idempotency, idempotency.DefaultTTL, logger.WithField("layer", "idempotency"))),
		httpapi.WithMetrics(storefrontMetrics),
		httpapi.WithLogger(logger.WithField("layer", "http")),
		httpapi.WithRequestTimeout(cfg.RequestTimeout),
	)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	deps.registerCheckers(healthHandler)

	apiListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http api: %w", err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiListener.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	grpcServer, grpcHealth := newGRPCServer(logger)
	apiServer := &http.Server{
		Handler:           api.HTTPHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	workersCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	startWorkers(workersCtx, &workers, cfg, deps, publisher, dlq, logger)

	workers.Add(1)
	go func() {
		defer workers.Done()
		syncGRPCHealth(workersCtx, healthHandler, grpcHealth, grpcHealthSyncEvery)
	}()

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC сервер слушает %s", grpcListener.Addr())
		errCh <- grpcServer.Serve(grpcListener)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", apiListener.Addr())
		errCh <- apiServer.Serve(apiListener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	grpcHealth.Shutdown()
	shutdownHTTP(apiServer, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)

	stopWorkers()
	workers.Wait()

	return runErr
}

// startWorkers запускает фоновые воркеры: relay outbox → Kafka и очистку ключей идемпотентности.
func startWorkers(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg Config,
	deps *Dependencies,
	publisher *kafka.BreakerPublisher,
	dlq domain.OutboxPublisher,
	logger *log.Entry,
) {
	if publisher != nil {
		worker := outbox.NewWorker(deps.Outbox, publisher,
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
			outbox.WithDLQPublisher(dlq),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	cleanup := idempotency.NewCleanupWorker(deps.Idempotency,
		idempotency.WithLogger(logger.WithField("layer", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanup.Run(ctx)
	}()
}

// newGRPCServer создаёт gRPC сервер со стандартным health-сервисом и reflection.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	// reflection нужен grpcurl и grpc_health_probe без proto-файлов.
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	return server, healthServer
}

// syncGRPCHealth переносит статус readiness в gRPC health, пока не отменён ctx.
func syncGRPCHealth(ctx context.Context, h *healthcheck.Handler, server *health.Server, every time.Duration) {
	update := func() {
		status, _ := h.Evaluate(ctx)
		serving := healthpb.HealthCheckResponse_SERVING
		if status == healthcheck.StatusUnhealthy {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		server.SetServingStatus("", serving)
	}

	update()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
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

// startMetricsServer запускает HTTP-обработчик /metrics и health endpoints.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
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
