package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus описывает жизненный цикл инвойса.
type InvoiceStatus string

const (
	// InvoiceStatusDraft — инвойс создан, складских эффектов ещё нет.
	InvoiceStatusDraft InvoiceStatus = "draft"
	// InvoiceStatusIssued — инвойс выставлен, товар списан со склада.
	InvoiceStatusIssued InvoiceStatus = "issued"
	// InvoiceStatusPaid — инвойс полностью оплачен. Терминальный статус.
	InvoiceStatusPaid InvoiceStatus = "paid"
	// InvoiceStatusCancelled — инвойс отменён. Терминальный статус.
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// LineItem представляет одну позицию инвойса.
type LineItem struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID        string
	ProductID string
	Qty       int64
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	CreatedAt time.Time
}

// Payment — зафиксированный платёж по инвойсу.
type Payment struct {
	ID         string
	Amount     decimal.Decimal
	Method     string
	ReceivedAt time.Time
}

// Totals — рассчитанные итоги инвойса.
type Totals struct {
	Subtotal   decimal.Decimal
	Tax        decimal.Decimal
	Discount   decimal.Decimal
	GrandTotal decimal.Decimal
}

// Invoice агрегирует состояние инвойса и его позиции.
// Мутируется только через операции Invoice Engine, не прямой записью полей.
type Invoice struct {
	ID string
	// Number — автогенерируемый номер, уникальный и монотонный в пределах филиала.
	// Не переиспользуется даже после отмены инвойса.
	Number     string
	Branch     string
	CustomerID string
	Items      []LineItem
	Totals     Totals
	Status     InvoiceStatus
	Payments   []Payment
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ValidateInvariants проверяет базовые инварианты инвойса и возвращает список замечаний.
func (i *Invoice) ValidateInvariants() []error {
	var errs []error

	if i.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(i.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	for _, item := range i.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
	}

	return errs
}

// PaidAmount возвращает сумму всех зафиксированных платежей.
func (i *Invoice) PaidAmount() decimal.Decimal {
	total := decimal.Zero
	for _, p := range i.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// Outstanding возвращает остаток к оплате.
func (i *Invoice) Outstanding() decimal.Decimal {
	return i.Totals.GrandTotal.Sub(i.PaidAmount())
}

// IsTerminal сообщает, находится ли инвойс в терминальном статусе.
func (i *Invoice) IsTerminal() bool {
	return i.Status == InvoiceStatusPaid || i.Status == InvoiceStatusCancelled
}

// SoldQuantities возвращает проданное количество по каждому товару.
func (i *Invoice) SoldQuantities() map[string]int64 {
	result := make(map[string]int64, len(i.Items))
	for _, item := range i.Items {
		result[item.ProductID] += item.Qty
	}
	return result
}
