package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundItem — одна возвращаемая позиция.
// UnitPrice всегда берётся из исходной позиции инвойса, не переопределяется оператором.
type RefundItem struct {
	ProductID  string
	Qty        int64
	UnitPrice  decimal.Decimal
	LineAmount decimal.Decimal
}

// Refund — неизменяемая запись возврата. Создаётся ровно один раз,
// после создания не обновляется; компенсирующие складские проводки
// ссылаются на её ID.
type Refund struct {
	ID        string
	InvoiceID string
	Items     []RefundItem
	Amount    decimal.Decimal
	Reason    string
	// ProcessedBy — пользователь, оформивший возврат.
	ProcessedBy string
	CreatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты возврата и возвращает список замечаний.
func (r *Refund) ValidateInvariants() []error {
	var errs []error

	if r.InvoiceID == "" {
		errs = append(errs, ErrInvoiceNotFound)
	}
	if len(r.Items) == 0 {
		errs = append(errs, ErrRefundItemsRequired)
	}
	if r.Reason == "" {
		errs = append(errs, ErrRefundReasonRequired)
	}
	for _, item := range r.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
	}

	return errs
}
