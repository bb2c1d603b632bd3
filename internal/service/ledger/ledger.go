// Package ledger реализует append-only журнал складских движений с
// материализованным остатком по каждому товару.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/authz"
)

// Engine — операции складского журнала поверх domain.Store.
type Engine struct {
	store         domain.Store
	logger        *log.Entry
	metrics       *metrics.CommerceMetrics
	allowNegative bool
}

// NewEngine создаёт рабочий экземпляр ledger-движка.
// allowNegative отключает защиту от отрицательного остатка (режим
// несинхронизированных филиалов).
func NewEngine(store domain.Store, allowNegative bool, logger *log.Entry) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "ledger")
	}
	return &Engine{
		store:         store,
		logger:        logger,
		metrics:       metrics.NewCommerceMetrics(),
		allowNegative: allowNegative,
	}
}

// NewEngineWithoutMetrics создаёт движок без метрик (для тестов).
func NewEngineWithoutMetrics(store domain.Store, allowNegative bool, logger *log.Entry) *Engine {
	engine := NewEngine(store, allowNegative, logger)
	engine.metrics = nil
	return engine
}

// AdjustInput описывает ручную корректировку остатка.
type AdjustInput struct {
	ProductID string
	Delta     int64
	Kind      domain.StockEntryKind
	Ref       string
	Batch     string
	Location  string
	Expiry    *time.Time
}

// Adjust дописывает одну проводку и сворачивает её в остаток. Проводка,
// новый остаток и запись аудита фиксируются одной транзакцией.
func (e *Engine) Adjust(ctx context.Context, session domain.Session, in AdjustInput) (domain.StockLevel, error) {
	if err := authz.Authorize(session, domain.CapStockAdjust); err != nil {
		return domain.StockLevel{}, err
	}

	entry := domain.StockEntry{
		ID:        uuid.NewString(),
		ProductID: in.ProductID,
		Delta:     in.Delta,
		Kind:      in.Kind,
		Ref:       in.Ref,
		Batch:     in.Batch,
		Location:  in.Location,
		Expiry:    in.Expiry,
		CreatedAt: time.Now().UTC(),
	}
	if errs := entry.ValidateInvariants(); len(errs) > 0 {
		return domain.StockLevel{}, errs[0]
	}

	start := time.Now()
	var level domain.StockLevel
	err := e.store.WithinTx(ctx, func(tx domain.Tx) error {
		if _, err := tx.Product(in.ProductID); err != nil {
			return err
		}

		levels, err := ApplyEntries(tx, []domain.StockEntry{entry}, e.allowNegative)
		if err != nil {
			return err
		}
		level = levels[0]

		return tx.InsertAudit(domain.AuditRecord{
			ID:     uuid.NewString(),
			Entity: "product:" + in.ProductID,
			Action: domain.AuditActionUpdate,
			UserID: &session.UserID,
			Changes: map[string]any{
				"delta":    in.Delta,
				"kind":     string(in.Kind),
				"ref":      in.Ref,
				"quantity": level.Quantity,
			},
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) && e.metrics != nil {
			e.metrics.RecordInsufficientStock()
		}
		return domain.StockLevel{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordStockEntry(string(in.Kind))
		e.metrics.RecordTxDuration("stock.adjust", time.Since(start))
	}

	e.logger.WithFields(log.Fields{
		"product_id": in.ProductID,
		"delta":      in.Delta,
		"kind":       in.Kind,
		"quantity":   level.Quantity,
	}).Info("stock adjusted")

	return level, nil
}

// Level возвращает последний закоммиченный остаток товара.
func (e *Engine) Level(ctx context.Context, session domain.Session, productID string) (domain.StockLevel, error) {
	if err := authz.Authorize(session, domain.CapStockRead); err != nil {
		return domain.StockLevel{}, err
	}
	return e.store.StockLevel(ctx, productID)
}

// Entries возвращает проводки журнала по товару, новые первыми.
func (e *Engine) Entries(ctx context.Context, session domain.Session, productID string, limit int) ([]domain.StockEntry, error) {
	if err := authz.Authorize(session, domain.CapStockRead); err != nil {
		return nil, err
	}
	return e.store.StockEntries(ctx, productID, limit)
}

// ApplyEntries применяет пакет проводок внутри уже открытой транзакции,
// всё-или-ничего. Блокировки захватываются в отсортированном порядке
// product id: единый порядок исключает deadlock между конкурентными
// многострочными операциями. Защита от минуса проверяется по суммарной
// delta каждого товара.
func ApplyEntries(tx domain.Tx, entries []domain.StockEntry, allowNegative bool) ([]domain.StockLevel, error) {
	for i := range entries {
		if errs := entries[i].ValidateInvariants(); len(errs) > 0 {
			return nil, errs[0]
		}
	}

	totals := make(map[string]int64)
	products := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, seen := totals[entry.ProductID]; !seen {
			products = append(products, entry.ProductID)
		}
		totals[entry.ProductID] += entry.Delta
	}
	sort.Strings(products)

	for _, productID := range products {
		level, err := tx.LockStockLevel(productID)
		if err != nil {
			return nil, err
		}
		if !allowNegative && level.Quantity+totals[productID] < 0 {
			return nil, fmt.Errorf("product %s: have %d, need %d: %w",
				productID, level.Quantity, -totals[productID], domain.ErrInsufficientStock)
		}
	}

	levels := make([]domain.StockLevel, 0, len(entries))
	for _, productID := range products {
		for _, entry := range entries {
			if entry.ProductID != productID {
				continue
			}
			level, err := tx.InsertStockEntry(entry)
			if err != nil {
				return nil, err
			}
			levels = append(levels, level)
		}
	}
	return levels, nil
}
