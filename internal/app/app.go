package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/auditstream"
	"github.com/vladislavdragonenkov/pos/internal/service/tokencleanup"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

// Run собирает зависимости, запускает фоновые воркеры и HTTP-сервер метрик,
// затем ждёт отмены контекста и аккуратно всё останавливает.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.BootstrapAdminUsername != "" && cfg.BootstrapAdminPassword != "" {
		if err := deps.Sessions.BootstrapAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword); err != nil {
			return err
		}
		logger.WithField("username", cfg.BootstrapAdminUsername).Info("bootstrap admin ensured")
	}

	// Kafka producer опционален: без брокеров аудит остаётся в локальном журнале.
	var kafkaProducer *kafka.Producer
	var wg sync.WaitGroup

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka producer, continuing without audit stream")
		} else {
			kafkaProducer = producer
			logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")

			auditWorker := auditstream.NewWorker(
				deps.Store,
				kafka.NewAuditPublisher(producer, kafka.TopicAuditEvents),
				auditstream.WithLogger(logger.WithField("component", "auditstream")),
				auditstream.WithPollInterval(cfg.AuditPollInterval),
				auditstream.WithBatchSize(cfg.AuditBatchSize),
			)
			wg.Add(1)
			go func() {
				defer wg.Done()
				auditWorker.Run(ctx)
			}()
		}
	}

	cleanupWorker := tokencleanup.NewCleanupWorker(
		deps.Tokens,
		tokencleanup.WithLogger(logger.WithField("component", "tokencleanup")),
		tokencleanup.WithInterval(cfg.TokenCleanupInterval),
		tokencleanup.WithBatchSize(cfg.TokenCleanupBatchSize),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cleanupWorker.Run(ctx)
	}()

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.pgStore != nil {
		pg := deps.pgStore
		healthHandler.RegisterCheck("postgres", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pg.Ping(checkCtx)
		})
	}
	if deps.redisClient != nil {
		rc := deps.redisClient
		healthHandler.RegisterCheck("redis", func() error {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rc.Ping(checkCtx).Err()
		})
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем сервис")

	wg.Wait()
	shutdownHTTP(metricsSrv, logger)

	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka producer")
		} else {
			logger.Info("kafka producer closed")
		}
	}

	return ctx.Err()
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
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
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
