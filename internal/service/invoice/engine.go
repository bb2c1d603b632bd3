// Package invoice реализует жизненный цикл инвойса:
// draft → issued → paid, с отменой из draft/issued.
package invoice

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

// Config — параметры движка инвойсов.
type Config struct {
	// Branch — код филиала, входит в номер инвойса.
	Branch string
	// TaxRate — ставка налога, применяется к subtotal.
	TaxRate decimal.Decimal
	// AllowNegativeStock отключает защиту от отрицательного остатка.
	AllowNegativeStock bool
	// Retry — политика повторов при конфликтах версий.
	Retry retry.Config
}

// Engine — операции над инвойсами поверх domain.Store.
type Engine struct {
	store   domain.Store
	cfg     Config
	logger  *log.Entry
	metrics *metrics.CommerceMetrics
}

// NewEngine создаёт рабочий экземпляр движка.
func NewEngine(store domain.Store, cfg Config, logger *log.Entry) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "invoice")
	}
	if cfg.Branch == "" {
		cfg.Branch = "MAIN"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Engine{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCommerceMetrics(),
	}
}

// NewEngineWithoutMetrics создаёт движок без метрик (для тестов).
func NewEngineWithoutMetrics(store domain.Store, cfg Config, logger *log.Entry) *Engine {
	engine := NewEngine(store, cfg, logger)
	engine.metrics = nil
	return engine
}

// LineInput — одна позиция создаваемого инвойса. Нулевая UnitPrice означает
// «взять цену из карточки товара».
type LineInput struct {
	ProductID string
	Qty       int64
	UnitPrice decimal.Decimal
}

// CreateInput — параметры создания инвойса.
type CreateInput struct {
	CustomerID string
	Lines      []LineInput
	Discount   decimal.Decimal
}

// Create создаёт инвойс в статусе draft. Складских эффектов нет; номер
// выдаётся из пофилиальной последовательности в той же транзакции, поэтому
// откат не оставляет дыр в нумерации.
func (e *Engine) Create(ctx context.Context, session domain.Session, in CreateInput) (domain.Invoice, error) {
	if err := authz.Authorize(session, domain.CapInvoiceCreate); err != nil {
		return domain.Invoice{}, err
	}
	if in.CustomerID == "" {
		return domain.Invoice{}, domain.ErrCustomerRequired
	}
	if len(in.Lines) == 0 {
		return domain.Invoice{}, domain.ErrItemsRequired
	}
	for _, line := range in.Lines {
		if line.ProductID == "" {
			return domain.Invoice{}, domain.ErrProductIDRequired
		}
		if line.Qty <= 0 {
			return domain.Invoice{}, domain.ErrItemQtyInvalid
		}
		if line.UnitPrice.IsNegative() {
			return domain.Invoice{}, domain.ErrItemPriceInvalid
		}
	}
	if in.Discount.IsNegative() {
		return domain.Invoice{}, domain.ErrItemPriceInvalid
	}

	start := time.Now()
	now := start.UTC()
	inv := domain.Invoice{
		ID:         uuid.NewString(),
		Branch:     e.cfg.Branch,
		CustomerID: in.CustomerID,
		Status:     domain.InvoiceStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := e.store.WithinTx(ctx, func(tx domain.Tx) error {
		subtotal := decimal.Zero
		items := make([]domain.LineItem, 0, len(in.Lines))
		for _, line := range in.Lines {
			product, err := tx.Product(line.ProductID)
			if err != nil {
				return err
			}
			price := line.UnitPrice
			if price.IsZero() {
				price = product.UnitPrice
			}
			lineTotal := price.Mul(decimal.NewFromInt(line.Qty))
			items = append(items, domain.LineItem{
				ID:        uuid.NewString(),
				ProductID: line.ProductID,
				Qty:       line.Qty,
				UnitPrice: price,
				LineTotal: lineTotal,
				CreatedAt: now,
			})
			subtotal = subtotal.Add(lineTotal)
		}

		tax := subtotal.Mul(e.cfg.TaxRate).Round(2)
		inv.Items = items
		inv.Totals = domain.Totals{
			Subtotal:   subtotal,
			Tax:        tax,
			Discount:   in.Discount,
			GrandTotal: subtotal.Add(tax).Sub(in.Discount),
		}

		seq, err := tx.NextInvoiceSeq(e.cfg.Branch)
		if err != nil {
			return err
		}
		inv.Number = fmt.Sprintf("INV-%s-%06d", e.cfg.Branch, seq)

		if err := tx.InsertInvoice(inv); err != nil {
			return err
		}

		return tx.InsertAudit(domain.AuditRecord{
			ID:     uuid.NewString(),
			Entity: "invoice:" + inv.ID,
			Action: domain.AuditActionCreate,
			UserID: &session.UserID,
			Changes: map[string]any{
				"number":      inv.Number,
				"customer_id": inv.CustomerID,
				"lines":       len(inv.Items),
				"grand_total": inv.Totals.GrandTotal.String(),
			},
			Timestamp: now,
		})
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordInvoiceCreated()
		e.metrics.RecordTxDuration("invoice.create", time.Since(start))
	}
	e.logger.WithFields(log.Fields{
		"invoice_id": inv.ID,
		"number":     inv.Number,
		"customer":   inv.CustomerID,
	}).Info("invoice created")

	return inv, nil
}

// Issue переводит инвойс из draft в issued, списывая все позиции со склада
// одной атомарной единицей. Нехватка любого товара откатывает всё.
func (e *Engine) Issue(ctx context.Context, session domain.Session, invoiceID string) (domain.Invoice, error) {
	if err := authz.Authorize(session, domain.CapInvoiceIssue); err != nil {
		return domain.Invoice{}, err
	}

	start := time.Now()
	var result domain.Invoice
	err := retry.Do(ctx, e.cfg.Retry, e.logger, "invoice.issue", func() error {
		return e.store.WithinTx(ctx, func(tx domain.Tx) error {
			inv, err := tx.Invoice(invoiceID)
			if err != nil {
				return err
			}
			if inv.Status != domain.InvoiceStatusDraft {
				return fmt.Errorf("invoice %s: issue from %s: %w", invoiceID, inv.Status, domain.ErrInvalidState)
			}

			now := time.Now().UTC()
			entries := make([]domain.StockEntry, 0, len(inv.Items))
			for productID, qty := range inv.SoldQuantities() {
				entries = append(entries, domain.StockEntry{
					ID:        uuid.NewString(),
					ProductID: productID,
					Delta:     -qty,
					Kind:      domain.StockOut,
					Ref:       "invoice:" + inv.ID,
					CreatedAt: now,
				})
			}
			if _, err := ledger.ApplyEntries(tx, entries, e.cfg.AllowNegativeStock); err != nil {
				return err
			}

			inv.Status = domain.InvoiceStatusIssued
			inv.UpdatedAt = now
			if err := tx.UpdateInvoice(inv); err != nil {
				return err
			}

			if err := tx.InsertAudit(domain.AuditRecord{
				ID:     uuid.NewString(),
				Entity: "invoice:" + inv.ID,
				Action: domain.AuditActionUpdate,
				UserID: &session.UserID,
				Changes: map[string]any{
					"status":      string(domain.InvoiceStatusIssued),
					"prev_status": string(domain.InvoiceStatusDraft),
				},
				Timestamp: now,
			}); err != nil {
				return err
			}

			result = inv
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) && e.metrics != nil {
			e.metrics.RecordInsufficientStock()
		}
		return domain.Invoice{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordInvoiceIssued()
		e.metrics.RecordStockEntry(string(domain.StockOut))
		e.metrics.RecordTxDuration("invoice.issue", time.Since(start))
	}
	e.logger.WithFields(log.Fields{
		"invoice_id": invoiceID,
		"number":     result.Number,
	}).Info("invoice issued")

	return e.reload(ctx, result.ID)
}

// Pay фиксирует платёж по выставленному инвойсу. Частичные платежи
// накапливаются; при нулевом остатке инвойс становится paid. Переплата
// отклоняется целиком.
func (e *Engine) Pay(ctx context.Context, session domain.Session, invoiceID string, amount decimal.Decimal, method string) (domain.Invoice, error) {
	if err := authz.Authorize(session, domain.CapInvoicePay); err != nil {
		return domain.Invoice{}, err
	}
	if !amount.IsPositive() {
		return domain.Invoice{}, domain.ErrPaymentAmountInvalid
	}

	start := time.Now()
	paidInFull := false
	var result domain.Invoice
	err := retry.Do(ctx, e.cfg.Retry, e.logger, "invoice.pay", func() error {
		paidInFull = false
		return e.store.WithinTx(ctx, func(tx domain.Tx) error {
			inv, err := tx.Invoice(invoiceID)
			if err != nil {
				return err
			}
			if inv.Status != domain.InvoiceStatusIssued {
				return fmt.Errorf("invoice %s: pay from %s: %w", invoiceID, inv.Status, domain.ErrInvalidState)
			}

			outstanding := inv.Outstanding()
			if amount.GreaterThan(outstanding) {
				return fmt.Errorf("invoice %s: amount %s > outstanding %s: %w",
					invoiceID, amount, outstanding, domain.ErrPaymentExceedsBalance)
			}

			now := time.Now().UTC()
			payment := domain.Payment{
				ID:         uuid.NewString(),
				Amount:     amount,
				Method:     method,
				ReceivedAt: now,
			}
			if err := tx.InsertPayment(inv.ID, payment); err != nil {
				return err
			}

			newStatus := inv.Status
			if outstanding.Sub(amount).IsZero() {
				newStatus = domain.InvoiceStatusPaid
				paidInFull = true
			}

			prevStatus := inv.Status
			inv.Status = newStatus
			inv.UpdatedAt = now
			if err := tx.UpdateInvoice(inv); err != nil {
				return err
			}

			if err := tx.InsertAudit(domain.AuditRecord{
				ID:     uuid.NewString(),
				Entity: "invoice:" + inv.ID,
				Action: domain.AuditActionUpdate,
				UserID: &session.UserID,
				Changes: map[string]any{
					"payment":     amount.String(),
					"method":      method,
					"status":      string(newStatus),
					"prev_status": string(prevStatus),
				},
				Timestamp: now,
			}); err != nil {
				return err
			}

			result = inv
			return nil
		})
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	if e.metrics != nil {
		if paidInFull {
			e.metrics.RecordInvoicePaid()
		}
		e.metrics.RecordTxDuration("invoice.pay", time.Since(start))
	}
	e.logger.WithFields(log.Fields{
		"invoice_id": invoiceID,
		"amount":     amount,
		"status":     result.Status,
	}).Info("payment recorded")

	return e.reload(ctx, result.ID)
}

// Cancel отменяет инвойс. Отмена draft не трогает склад; отмена issued
// возвращает списанное компенсирующими ADJUST-проводками. Инвойс с
// зафиксированными платежами отменить нельзя: сначала возврат.
func (e *Engine) Cancel(ctx context.Context, session domain.Session, invoiceID, reason string) (domain.Invoice, error) {
	if err := authz.Authorize(session, domain.CapInvoiceCancel); err != nil {
		return domain.Invoice{}, err
	}

	start := time.Now()
	var result domain.Invoice
	err := retry.Do(ctx, e.cfg.Retry, e.logger, "invoice.cancel", func() error {
		return e.store.WithinTx(ctx, func(tx domain.Tx) error {
			inv, err := tx.Invoice(invoiceID)
			if err != nil {
				return err
			}

			switch inv.Status {
			case domain.InvoiceStatusDraft:
				// Складских эффектов ещё не было.
			case domain.InvoiceStatusIssued:
				if len(inv.Payments) > 0 {
					return fmt.Errorf("invoice %s: %w: %w", invoiceID, domain.ErrInvalidState, domain.ErrInvoicePartiallyPaid)
				}
			default:
				return fmt.Errorf("invoice %s: cancel from %s: %w", invoiceID, inv.Status, domain.ErrInvalidState)
			}

			now := time.Now().UTC()
			if inv.Status == domain.InvoiceStatusIssued {
				entries := make([]domain.StockEntry, 0, len(inv.Items))
				for productID, qty := range inv.SoldQuantities() {
					entries = append(entries, domain.StockEntry{
						ID:        uuid.NewString(),
						ProductID: productID,
						Delta:     qty,
						Kind:      domain.StockAdjust,
						Ref:       "invoice-cancel:" + inv.ID,
						CreatedAt: now,
					})
				}
				if _, err := ledger.ApplyEntries(tx, entries, e.cfg.AllowNegativeStock); err != nil {
					return err
				}
			}

			prevStatus := inv.Status
			inv.Status = domain.InvoiceStatusCancelled
			inv.UpdatedAt = now
			if err := tx.UpdateInvoice(inv); err != nil {
				return err
			}

			if err := tx.InsertAudit(domain.AuditRecord{
				ID:     uuid.NewString(),
				Entity: "invoice:" + inv.ID,
				Action: domain.AuditActionUpdate,
				UserID: &session.UserID,
				Changes: map[string]any{
					"status":      string(domain.InvoiceStatusCancelled),
					"prev_status": string(prevStatus),
					"reason":      reason,
				},
				Timestamp: now,
			}); err != nil {
				return err
			}

			result = inv
			return nil
		})
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	if e.metrics != nil {
		e.metrics.RecordInvoiceCancelled()
		e.metrics.RecordTxDuration("invoice.cancel", time.Since(start))
	}
	e.logger.WithFields(log.Fields{
		"invoice_id": invoiceID,
		"reason":     reason,
	}).Info("invoice cancelled")

	return e.reload(ctx, result.ID)
}

// Get возвращает инвойс по ID.
func (e *Engine) Get(ctx context.Context, session domain.Session, invoiceID string) (domain.Invoice, error) {
	if err := authz.Authorize(session, domain.CapInvoiceRead); err != nil {
		return domain.Invoice{}, err
	}
	return e.store.GetInvoice(ctx, invoiceID)
}

// ListByCustomer возвращает инвойсы клиента, новые первыми.
func (e *Engine) ListByCustomer(ctx context.Context, session domain.Session, customerID string, limit int) ([]domain.Invoice, error) {
	if err := authz.Authorize(session, domain.CapInvoiceRead); err != nil {
		return nil, err
	}
	return e.store.InvoicesByCustomer(ctx, customerID, limit)
}

func (e *Engine) reload(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	return e.store.GetInvoice(ctx, invoiceID)
}
