// Package auditstream публикует закоммиченные записи аудита во внешний поток.
// Записи пишутся в той же транзакции, что и бизнес-мутация, а публикуются
// асинхронно: отказ брокера никогда не блокирует кассовые операции.
package auditstream

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	auditPublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_audit_publish_attempts_total",
		Help: "Total number of audit publish attempts grouped by result.",
	}, []string{"result"})
	auditPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pos_audit_pending_records",
		Help: "Current number of committed audit records awaiting publication.",
	})
)

// Publisher отправляет запись аудита во внешний поток.
type Publisher interface {
	Publish(rec domain.AuditRecord) error
}

// WorkerOptions задаёт параметры audit worker.
type WorkerOptions struct {
	Logger         *log.Entry
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithPollInterval задаёт частоту опроса аудита.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча записей.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithMaxAttempts задаёт число попыток публикации одной записи.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовый delay для exponential backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.RetryBaseDelay = delay
	}
}

// Worker публикует неопубликованные записи аудита в брокер.
type Worker struct {
	store          domain.Store
	publisher      Publisher
	logger         *log.Entry
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт audit worker.
func NewWorker(store domain.Store, publisher Publisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:   defaultPollInterval,
		BatchSize:      defaultBatchSize,
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "auditstream-worker")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}

	return &Worker{
		store:          store,
		publisher:      publisher,
		logger:         logger,
		pollInterval:   opts.PollInterval,
		batchSize:      opts.BatchSize,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
	}
}

// Run запускает периодический polling до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.store == nil || w.publisher == nil {
		w.logger.Warn("auditstream worker is disabled: store or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	records, err := w.store.PullUnpublishedAudit(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull unpublished audit records")
		return
	}
	auditPendingRecords.Set(float64(len(records)))
	if len(records) == 0 {
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}

		if err := w.publishWithRetry(ctx, rec); err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"audit_id": rec.ID,
				"entity":   rec.Entity,
			}).Error("audit publish failed after retries")
			auditPublishAttempts.WithLabelValues("failed").Inc()
			// Запись остаётся неопубликованной и будет повторена в
			// следующем цикле.
			continue
		}

		if err := w.store.MarkAuditPublished(ctx, rec.ID); err != nil {
			w.logger.WithError(err).WithField("audit_id", rec.ID).Warn("failed to mark audit record as published")
		}
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, rec domain.AuditRecord) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.publisher.Publish(rec)
		if err == nil {
			auditPublishAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		lastErr = err
		auditPublishAttempts.WithLabelValues("retry_error").Inc()

		if attempt >= w.maxAttempts {
			break
		}

		delay := w.retryBackoff(attempt)
		if delay <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return w.retryBaseDelay
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}
