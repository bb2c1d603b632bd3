package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CommerceMetrics содержит метрики торгового ядра.
type CommerceMetrics struct {
	// Счётчики жизненного цикла инвойсов
	invoicesCreated   prometheus.Counter
	invoicesIssued    prometheus.Counter
	invoicesPaid      prometheus.Counter
	invoicesCancelled prometheus.Counter

	// Счётчики возвратов и склада
	refundsProcessed  prometheus.Counter
	stockEntries      *prometheus.CounterVec
	insufficientStock prometheus.Counter
	overRefunds       prometheus.Counter

	// Счётчики сессий
	tokenReuse   prometheus.Counter
	loginsFailed prometheus.Counter

	// Гистограммы времени выполнения транзакций
	txDuration *prometheus.HistogramVec

	// Gauge для открытых (draft/issued) инвойсов
	openInvoices prometheus.Gauge
}

// NewCommerceMetrics создаёт новый экземпляр метрик.
func NewCommerceMetrics() *CommerceMetrics {
	return newCommerceMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCommerceMetricsWithRegisterer(registerer prometheus.Registerer) *CommerceMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CommerceMetrics{
		invoicesCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_invoices_created_total",
			Help: "Total number of invoices created as draft",
		}),
		invoicesIssued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_invoices_issued_total",
			Help: "Total number of invoices issued",
		}),
		invoicesPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_invoices_paid_total",
			Help: "Total number of invoices fully paid",
		}),
		invoicesCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_invoices_cancelled_total",
			Help: "Total number of invoices cancelled",
		}),
		refundsProcessed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_refunds_processed_total",
			Help: "Total number of refunds processed",
		}),
		stockEntries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_stock_entries_total",
			Help: "Total number of stock ledger entries by kind",
		}, []string{"kind"}),
		insufficientStock: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_insufficient_stock_total",
			Help: "Total number of operations rejected for insufficient stock",
		}),
		overRefunds: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_over_refunds_total",
			Help: "Total number of refunds rejected for exceeding sold quantity",
		}),
		tokenReuse: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_token_reuse_detected_total",
			Help: "Total number of refresh token replays detected",
		}),
		loginsFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_logins_failed_total",
			Help: "Total number of failed login attempts",
		}),
		txDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_tx_duration_seconds",
			Help:    "Duration of transactional operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		openInvoices: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_open_invoices",
			Help: "Number of invoices currently in draft or issued state",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordInvoiceCreated увеличивает счётчик созданных инвойсов.
func (m *CommerceMetrics) RecordInvoiceCreated() {
	m.invoicesCreated.Inc()
	m.openInvoices.Inc()
}

// RecordInvoiceIssued увеличивает счётчик выставленных инвойсов.
func (m *CommerceMetrics) RecordInvoiceIssued() {
	m.invoicesIssued.Inc()
}

// RecordInvoicePaid увеличивает счётчик полностью оплаченных инвойсов.
func (m *CommerceMetrics) RecordInvoicePaid() {
	m.invoicesPaid.Inc()
	m.openInvoices.Dec()
}

// RecordInvoiceCancelled увеличивает счётчик отменённых инвойсов.
func (m *CommerceMetrics) RecordInvoiceCancelled() {
	m.invoicesCancelled.Inc()
	m.openInvoices.Dec()
}

// RecordRefundProcessed увеличивает счётчик обработанных возвратов.
func (m *CommerceMetrics) RecordRefundProcessed() {
	m.refundsProcessed.Inc()
}

// RecordStockEntry увеличивает счётчик проводок журнала по типу.
func (m *CommerceMetrics) RecordStockEntry(kind string) {
	m.stockEntries.WithLabelValues(kind).Inc()
}

// RecordInsufficientStock увеличивает счётчик отказов по нехватке остатка.
func (m *CommerceMetrics) RecordInsufficientStock() {
	m.insufficientStock.Inc()
}

// RecordOverRefund увеличивает счётчик отказов по превышению проданного количества.
func (m *CommerceMetrics) RecordOverRefund() {
	m.overRefunds.Inc()
}

// RecordTokenReuse увеличивает счётчик обнаруженных replay refresh-токенов.
func (m *CommerceMetrics) RecordTokenReuse() {
	m.tokenReuse.Inc()
}

// RecordLoginFailed увеличивает счётчик неудачных логинов.
func (m *CommerceMetrics) RecordLoginFailed() {
	m.loginsFailed.Inc()
}

// RecordTxDuration записывает время выполнения транзакционной операции.
func (m *CommerceMetrics) RecordTxDuration(operation string, duration time.Duration) {
	m.txDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
