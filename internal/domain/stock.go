package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockEntryKind описывает тип складской проводки.
type StockEntryKind string

const (
	// StockIn — приход товара (поставка, возврат).
	StockIn StockEntryKind = "IN"
	// StockOut — расход товара (продажа).
	StockOut StockEntryKind = "OUT"
	// StockAdjust — корректировка (инвентаризация, компенсация отмены).
	StockAdjust StockEntryKind = "ADJUST"
)

// StockEntry — неизменяемая проводка журнала движения товара.
// После записи не обновляется и не удаляется.
type StockEntry struct {
	ID        string
	ProductID string
	// Delta — знаковое изменение остатка: положительное для IN/ADJUST-вверх,
	// отрицательное для OUT/ADJUST-вниз.
	Delta int64
	Kind  StockEntryKind
	// Seq — порядковый номер проводки в журнале, присваивается хранилищем.
	Seq int64
	// Ref — ссылка на породившую транзакцию: invoice id, refund id или ручная метка.
	Ref       string
	Batch     string
	Location  string
	Expiry    *time.Time
	CreatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты проводки и возвращает список замечаний.
func (e *StockEntry) ValidateInvariants() []error {
	var errs []error

	if e.ProductID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if e.Delta == 0 {
		errs = append(errs, ErrStockDeltaZero)
	}

	switch e.Kind {
	case StockIn:
		if e.Delta < 0 {
			errs = append(errs, ErrStockDeltaSign)
		}
	case StockOut:
		if e.Delta > 0 {
			errs = append(errs, ErrStockDeltaSign)
		}
	case StockAdjust:
		// Корректировка допускает любой знак.
	default:
		errs = append(errs, ErrStockKindInvalid)
	}

	return errs
}

// StockLevel — материализованный остаток товара: кэш свёртки проводок журнала.
// Источник истины — сами StockEntry; Quantity всегда равен сумме их Delta
// на момент LastEntrySeq.
type StockLevel struct {
	ProductID string
	Quantity  int64
	// LastEntrySeq — Seq последней применённой проводки.
	LastEntrySeq int64
	UpdatedAt    time.Time
}

// Product — минимальная карточка товара, достаточная для работы ledger.
// Полный CRUD товаров живёт за пределами ядра.
type Product struct {
	ID        string
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	CreatedAt time.Time
}
