// Package refund реализует возвраты: компенсирующие IN-проводки по складу
// и неизменяемую запись возврата с суммой по исходным ценам инвойса.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/authz"
	"github.com/vladislavdragonenkov/pos/internal/service/ledger"
	"github.com/vladislavdragonenkov/pos/internal/service/retry"
)

// Engine — операции возвратов поверх domain.Store.
type Engine struct {
	store    domain.Store
	retryCfg retry.Config
	logger   *log.Entry
	metrics  *metrics.CommerceMetrics
}

// NewEngine создаёт рабочий экземпляр движка возвратов.
func NewEngine(store domain.Store, retryCfg retry.Config, logger *log.Entry) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "refund")
	}
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &Engine{
		store:    store,
		retryCfg: retryCfg,
		logger:   logger,
		metrics:  metrics.NewCommerceMetrics(),
	}
}

// NewEngineWithoutMetrics создаёт движок без метрик (для тестов).
func NewEngineWithoutMetrics(store domain.Store, retryCfg retry.Config, logger *log.Entry) *Engine {
	engine := NewEngine(store, retryCfg, logger)
	engine.metrics = nil
	return engine
}

// ItemInput — одна возвращаемая позиция. Цена не принимается на вход:
// сумма возврата всегда считается по исходным ценам инвойса.
type ItemInput struct {
	ProductID string
	Qty       int64
}

// Process оформляет возврат по инвойсу. Компенсирующие IN-проводки, запись
// возврата и аудит фиксируются одной транзакцией. Накопительная граница:
// суммарно возвращённое количество по товару никогда не превышает проданное.
// Статус инвойса возврат не меняет.
func (e *Engine) Process(ctx context.Context, session domain.Session, invoiceID string, items []ItemInput, reason string) (domain.Refund, error) {
	if err := authz.Authorize(session, domain.CapRefundProcess); err != nil {
		return domain.Refund{}, err
	}
	if len(items) == 0 {
		return domain.Refund{}, domain.ErrRefundItemsRequired
	}
	if reason == "" {
		return domain.Refund{}, domain.ErrRefundReasonRequired
	}
	requested := make(map[string]int64, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return domain.Refund{}, domain.ErrProductIDRequired
		}
		if item.Qty <= 0 {
			return domain.Refund{}, domain.ErrItemQtyInvalid
		}
		requested[item.ProductID] += item.Qty
	}

	start := time.Now()
	var result domain.Refund
	err := retry.Do(ctx, e.retryCfg, e.logger, "refund.process", func() error {
		return e.store.WithinTx(ctx, func(tx domain.Tx) error {
			inv, err := tx.Invoice(invoiceID)
			if err != nil {
				return err
			}
			if inv.Status != domain.InvoiceStatusIssued && inv.Status != domain.InvoiceStatusPaid {
				return fmt.Errorf("invoice %s: refund from %s: %w", invoiceID, inv.Status, domain.ErrInvalidState)
			}

			sold := inv.SoldQuantities()
			refunded, err := tx.RefundedQuantities(invoiceID)
			if err != nil {
				return err
			}
			for productID, qty := range requested {
				soldQty, wasSold := sold[productID]
				if !wasSold {
					return fmt.Errorf("product %s was not sold on invoice %s: %w", productID, invoiceID, domain.ErrOverRefund)
				}
				if refunded[productID]+qty > soldQty {
					return fmt.Errorf("product %s: sold %d, already refunded %d, requested %d: %w",
						productID, soldQty, refunded[productID], qty, domain.ErrOverRefund)
				}
			}

			now := time.Now().UTC()
			refundID := uuid.NewString()

			// Цена каждой позиции — из исходного инвойса.
			prices := make(map[string]decimal.Decimal, len(inv.Items))
			for _, line := range inv.Items {
				prices[line.ProductID] = line.UnitPrice
			}

			amount := decimal.Zero
			refundItems := make([]domain.RefundItem, 0, len(requested))
			entries := make([]domain.StockEntry, 0, len(requested))
			for productID, qty := range requested {
				lineAmount := prices[productID].Mul(decimal.NewFromInt(qty))
				refundItems = append(refundItems, domain.RefundItem{
					ProductID:  productID,
					Qty:        qty,
					UnitPrice:  prices[productID],
					LineAmount: lineAmount,
				})
				amount = amount.Add(lineAmount)
				entries = append(entries, domain.StockEntry{
					ID:        uuid.NewString(),
					ProductID: productID,
					Delta:     qty,
					Kind:      domain.StockIn,
					Ref:       "refund:" + refundID,
					CreatedAt: now,
				})
			}

			if _, err := ledger.ApplyEntries(tx, entries, true); err != nil {
				return err
			}

			ref := domain.Refund{
				ID:          refundID,
				InvoiceID:   invoiceID,
				Items:       refundItems,
				Amount:      amount,
				Reason:      reason,
				ProcessedBy: session.UserID,
				CreatedAt:   now,
			}
			if err := tx.InsertRefund(ref); err != nil {
				return err
			}

			if err := tx.InsertAudit(domain.AuditRecord{
				ID:     uuid.NewString(),
				Entity: "refund:" + refundID,
				Action: domain.AuditActionCreate,
				UserID: &session.UserID,
				Changes: map[string]any{
					"invoice_id": invoiceID,
					"amount":     amount.String(),
					"reason":     reason,
					"items":      len(refundItems),
				},
				Timestamp: now,
			}); err != nil {
				return err
			}

			result = ref
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrOverRefund) && e.metrics != nil {
			e.metrics.RecordOverRefund()
		}
		return domain.Refund{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordRefundProcessed()
		e.metrics.RecordStockEntry(string(domain.StockIn))
		e.metrics.RecordTxDuration("refund.process", time.Since(start))
	}
	e.logger.WithFields(log.Fields{
		"refund_id":  result.ID,
		"invoice_id": invoiceID,
		"amount":     result.Amount,
	}).Info("refund processed")

	return result, nil
}

// Get возвращает возврат по ID.
func (e *Engine) Get(ctx context.Context, session domain.Session, refundID string) (domain.Refund, error) {
	if err := authz.Authorize(session, domain.CapRefundRead); err != nil {
		return domain.Refund{}, err
	}
	return e.store.GetRefund(ctx, refundID)
}

// ListByInvoice возвращает все возвраты по инвойсу, новые первыми.
func (e *Engine) ListByInvoice(ctx context.Context, session domain.Session, invoiceID string) ([]domain.Refund, error) {
	if err := authz.Authorize(session, domain.CapRefundRead); err != nil {
		return nil, err
	}
	return e.store.RefundsByInvoice(ctx, invoiceID)
}
