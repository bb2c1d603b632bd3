// Команда loadtest гоняет конкурентный сценарий продажа→оплата→возврат
// поверх in-memory хранилища и проверяет фундаментальные инварианты склада:
// остаток никогда не уходит в минус и всегда равен свёртке журнала проводок.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/invoice"
	"github.com/vladislavdragonenkov/pos/internal/service/ledger"
	"github.com/vladislavdragonenkov/pos/internal/service/refund"
	"github.com/vladislavdragonenkov/pos/internal/service/retry"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"

	"github.com/shopspring/decimal"
)

type loadMode string

const (
	modeSale       loadMode = "sale"
	modeSaleRefund loadMode = "sale-refund"
)

type config struct {
	scenarios    int
	concurrency  int
	products     int
	initialStock int64
	refundRate   int
	mode         loadMode
	outputPath   string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type opReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Errors    map[string]int64 `json:"errors"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt        time.Time           `json:"started_at"`
	DurationSeconds  float64             `json:"duration_seconds"`
	TotalScenarios   int64               `json:"total_scenarios"`
	SuccessScenarios int64               `json:"success_scenarios"`
	FailedScenarios  int64               `json:"failed_scenarios"`
	RPS              float64             `json:"rps"`
	Operations       map[string]opReport `json:"operations"`
	InvariantsOK     bool                `json:"invariants_ok"`
	Violations       []string            `json:"violations,omitempty"`
}

type opStats struct {
	calls     int64
	success   int64
	failed    int64
	errors    map[string]int64
	latencies []float64
}

type collector struct {
	mu  sync.Mutex
	ops map[string]*opStats
}

func newCollector() *collector {
	return &collector{ops: make(map[string]*opStats)}
}

func (c *collector) record(op string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.ops[op]
	if !ok {
		stats = &opStats{errors: make(map[string]int64)}
		c.ops[op] = stats
	}

	stats.calls++
	if err == nil {
		stats.success++
	} else {
		stats.failed++
		stats.errors[errorKind(err)]++
	}
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Operations:      make(map[string]opReport, len(c.ops)),
	}

	if scenario := c.ops["scenario"]; scenario != nil {
		result.TotalScenarios = scenario.calls
		result.SuccessScenarios = scenario.success
		result.FailedScenarios = scenario.failed
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.ops {
		errsCopy := make(map[string]int64, len(stats.errors))
		for kind, count := range stats.errors {
			errsCopy[kind] = count
		}
		result.Operations[name] = opReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Errors:    errsCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

// errorKind сворачивает доменные ошибки в короткие имена для отчёта.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrOverRefund):
		return "over_refund"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	default:
		return "other"
	}
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string

	flag.IntVar(&cfg.scenarios, "scenarios", 500, "total sale scenarios to execute")
	flag.IntVar(&cfg.concurrency, "concurrency", 16, "number of concurrent workers")
	flag.IntVar(&cfg.products, "products", 5, "number of products competing for stock")
	flag.Int64Var(&cfg.initialStock, "initial-stock", 200, "seeded stock per product")
	flag.IntVar(&cfg.refundRate, "refund-rate", 30, "refund probability in percent for sale-refund mode (0..100)")
	flag.StringVar(&modeValue, "mode", string(modeSaleRefund), "load mode: sale | sale-refund")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	switch loadMode(strings.TrimSpace(modeValue)) {
	case modeSale:
		cfg.mode = modeSale
	case modeSaleRefund:
		cfg.mode = modeSaleRefund
	default:
		return cfg, fmt.Errorf("unsupported mode: %s (use sale | sale-refund)", modeValue)
	}

	if cfg.scenarios <= 0 {
		return cfg, errors.New("scenarios must be > 0")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.products <= 0 {
		return cfg, errors.New("products must be > 0")
	}
	if cfg.initialStock <= 0 {
		return cfg, errors.New("initial-stock must be > 0")
	}
	if cfg.refundRate < 0 || cfg.refundRate > 100 {
		return cfg, errors.New("refund-rate must be between 0 and 100")
	}
	return cfg, nil
}

func productID(i int) string {
	return fmt.Sprintf("load-prod-%03d", i)
}

func seedStore(cfg config) *memory.Store {
	store := memory.NewStore()
	for i := 0; i < cfg.products; i++ {
		store.SeedProduct(domain.Product{
			ID:        productID(i),
			SKU:       fmt.Sprintf("SKU-LOAD-%03d", i),
			Name:      fmt.Sprintf("load product %03d", i),
			UnitPrice: decimal.NewFromInt(int64(5 + i)),
			CreatedAt: time.Now().UTC(),
		}, cfg.initialStock)
	}
	return store
}

// runScenario прогоняет один цикл: черновик → выпуск → оплата → (возврат).
func runScenario(ctx context.Context, cfg config, rng *rand.Rand, deps scenarioDeps, id int) error {
	cashier := domain.Session{UserID: "load-cashier", Role: domain.RoleCashier}
	employee := domain.Session{UserID: "load-employee", Role: domain.RoleEmployee}

	lineCount := 1 + rng.Intn(3)
	lines := make([]invoice.LineInput, 0, lineCount)
	seen := map[string]bool{}
	for len(lines) < lineCount {
		pid := productID(rng.Intn(cfg.products))
		if seen[pid] {
			continue
		}
		seen[pid] = true
		lines = append(lines, invoice.LineInput{
			ProductID: pid,
			Qty:       int64(1 + rng.Intn(3)),
		})
	}

	start := time.Now()
	inv, err := deps.invoices.Create(ctx, cashier, invoice.CreateInput{
		CustomerID: fmt.Sprintf("load-customer-%d", id%17),
		Lines:      lines,
	})
	deps.stats.record("create", time.Since(start), err)
	if err != nil {
		return err
	}

	start = time.Now()
	issued, err := deps.invoices.Issue(ctx, cashier, inv.ID)
	deps.stats.record("issue", time.Since(start), err)
	if err != nil {
		return err
	}

	start = time.Now()
	paid, err := deps.invoices.Pay(ctx, cashier, issued.ID, issued.Totals.GrandTotal, "card")
	deps.stats.record("pay", time.Since(start), err)
	if err != nil {
		return err
	}

	if cfg.mode == modeSaleRefund && rng.Intn(100) < cfg.refundRate {
		item := paid.Items[rng.Intn(len(paid.Items))]
		start = time.Now()
		_, err = deps.refunds.Process(ctx, employee, paid.ID, []refund.ItemInput{{
			ProductID: item.ProductID,
			Qty:       1,
		}}, "load test refund")
		deps.stats.record("refund", time.Since(start), err)
		if err != nil {
			return err
		}
	}
	return nil
}

type scenarioDeps struct {
	invoices *invoice.Engine
	refunds  *refund.Engine
	stats    *collector
}

// verifyInvariants сверяет остатки со свёрткой журнала по каждому товару.
func verifyInvariants(ctx context.Context, store *memory.Store, cfg config) []string {
	var violations []string
	for i := 0; i < cfg.products; i++ {
		pid := productID(i)
		lvl, err := store.StockLevel(ctx, pid)
		if err != nil {
			violations = append(violations, fmt.Sprintf("%s: stock level unavailable: %v", pid, err))
			continue
		}
		if lvl.Quantity < 0 {
			violations = append(violations, fmt.Sprintf("%s: negative stock %d", pid, lvl.Quantity))
		}

		entries, err := store.StockEntries(ctx, pid, math.MaxInt32)
		if err != nil {
			violations = append(violations, fmt.Sprintf("%s: entries unavailable: %v", pid, err))
			continue
		}
		var sum int64
		for _, e := range entries {
			sum += e.Delta
		}
		if sum != lvl.Quantity {
			violations = append(violations,
				fmt.Sprintf("%s: ledger sum %d != materialized quantity %d", pid, sum, lvl.Quantity))
		}
	}
	return violations
}

func buildLatencySummary(latencies []float64) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: total / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(p)/100.0*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "loadtest")

	cfg, err := parseConfig()
	if err != nil {
		logger.WithError(err).Fatal("invalid flags")
	}

	store := seedStore(cfg)
	stats := newCollector()

	engineLogger := logger.WithField("layer", "engines")
	deps := scenarioDeps{
		invoices: invoice.NewEngineWithoutMetrics(store, invoice.Config{
			Branch:  "LOAD",
			TaxRate: decimal.RequireFromString("0.20"),
			Retry:   retry.DefaultConfig(),
		}, engineLogger),
		refunds: refund.NewEngineWithoutMetrics(store, retry.DefaultConfig(), engineLogger),
		stats:   stats,
	}
	// Ledger-движок здесь не нужен: весь трафик идёт через invoice/refund,
	// но прямые корректировки добавляют контент в журнал.
	adjuster := ledger.NewEngineWithoutMetrics(store, false, engineLogger)

	ctx := context.Background()
	startedAt := time.Now()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)))
			employee := domain.Session{UserID: "load-employee", Role: domain.RoleEmployee}
			for id := range jobs {
				start := time.Now()
				err := runScenario(ctx, cfg, rng, deps, id)
				stats.record("scenario", time.Since(start), err)

				// Изредка подмешиваем ручные корректировки склада.
				if id%97 == 0 {
					_, adjErr := adjuster.Adjust(ctx, employee, ledger.AdjustInput{
						ProductID: productID(rng.Intn(cfg.products)),
						Delta:     int64(1 + rng.Intn(5)),
						Kind:      domain.StockAdjust,
						Ref:       "loadtest-topup",
					})
					stats.record("adjust", 0, adjErr)
				}
			}
		}(w)
	}

	for i := 0; i < cfg.scenarios; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	duration := time.Since(startedAt)
	result := stats.buildReport(startedAt, duration)

	violations := verifyInvariants(ctx, store, cfg)
	result.InvariantsOK = len(violations) == 0
	result.Violations = violations

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.WithError(err).Fatal("encode report")
	}
	fmt.Println(string(encoded))

	if cfg.outputPath != "" {
		if err := os.WriteFile(cfg.outputPath, encoded, 0o644); err != nil {
			logger.WithError(err).Fatal("write report file")
		}
	}

	if !result.InvariantsOK {
		logger.WithField("violations", len(violations)).Fatal("stock invariants violated")
	}
	logger.WithFields(log.Fields{
		"scenarios": result.TotalScenarios,
		"failed":    result.FailedScenarios,
		"rps":       fmt.Sprintf("%.1f", result.RPS),
	}).Info("load test finished, invariants hold")
}
