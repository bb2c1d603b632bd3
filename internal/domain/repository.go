package domain

import (
	"context"
	"time"
)

// Tx объединяет операции, которые обязаны зафиксироваться одной атомарной
// единицей: бизнес-мутация и её аудит либо видны вместе, либо не видны вовсе.
type Tx interface {
	// Product возвращает карточку товара или ErrProductNotFound.
	Product(productID string) (Product, error)
	// LockStockLevel возвращает текущий остаток, захватывая эксклюзивную
	// блокировку по товару до конца транзакции. Вызывающий обязан захватывать
	// блокировки в отсортированном порядке product id.
	LockStockLevel(productID string) (StockLevel, error)
	// InsertStockEntry дописывает проводку в журнал и сворачивает её в
	// материализованный остаток. Возвращает остаток после применения.
	InsertStockEntry(entry StockEntry) (StockLevel, error)

	// Invoice возвращает инвойс по ID или ErrInvoiceNotFound.
	Invoice(invoiceID string) (Invoice, error)
	// InsertInvoice сохраняет новый инвойс; дубликат ID или номера — ErrConflict.
	InsertInvoice(inv Invoice) error
	// UpdateInvoice применяет изменения с optimistic locking: расхождение
	// версий — ErrConflict.
	UpdateInvoice(inv Invoice) error
	// InsertPayment дописывает платёж к инвойсу.
	InsertPayment(invoiceID string, p Payment) error
	// NextInvoiceSeq атомарно выдаёт следующий номер последовательности филиала.
	// Инкремент фиксируется вместе с транзакцией: откат не оставляет дыр.
	NextInvoiceSeq(branch string) (int64, error)

	// InsertRefund сохраняет неизменяемую запись возврата.
	InsertRefund(ref Refund) error
	// RefundedQuantities возвращает накопленное возвращённое количество
	// по каждому товару инвойса (по всем прежним возвратам).
	RefundedQuantities(invoiceID string) (map[string]int64, error)

	// InsertAudit дописывает запись аудита в рамках той же транзакции.
	InsertAudit(rec AuditRecord) error
}

// Store — unit of work поверх персистентного хранилища плюс читатели
// закоммиченного состояния.
type Store interface {
	// WithinTx исполняет fn в одной атомарной транзакции. Ошибка fn
	// откатывает все сделанные внутри изменения.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// GetProduct возвращает карточку товара или ErrProductNotFound.
	GetProduct(ctx context.Context, productID string) (Product, error)
	// StockLevel возвращает последний закоммиченный остаток. Никогда не
	// отражает частично применённую многострочную операцию.
	StockLevel(ctx context.Context, productID string) (StockLevel, error)
	// StockEntries возвращает проводки журнала по товару, новые первыми.
	StockEntries(ctx context.Context, productID string, limit int) ([]StockEntry, error)

	// GetInvoice возвращает инвойс или ErrInvoiceNotFound.
	GetInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	// InvoicesByCustomer возвращает инвойсы клиента, новые первыми.
	InvoicesByCustomer(ctx context.Context, customerID string, limit int) ([]Invoice, error)

	// GetRefund возвращает возврат или ErrRefundNotFound.
	GetRefund(ctx context.Context, refundID string) (Refund, error)
	// RefundsByInvoice возвращает возвраты по инвойсу, новые первыми.
	RefundsByInvoice(ctx context.Context, invoiceID string) ([]Refund, error)

	// AuditTrail возвращает записи аудита по сущности, новые первыми.
	AuditTrail(ctx context.Context, entity string, limit int) ([]AuditRecord, error)
	// PullUnpublishedAudit возвращает закоммиченные, но ещё не опубликованные
	// записи аудита (в порядке записи).
	PullUnpublishedAudit(ctx context.Context, limit int) ([]AuditRecord, error)
	// MarkAuditPublished отмечает запись как опубликованную во внешний поток.
	MarkAuditPublished(ctx context.Context, auditID string) error
}

// TokenRepository хранит состояние выданных refresh-токенов (JTI).
type TokenRepository interface {
	// Create сохраняет новый JTI в состоянии active.
	Create(ctx context.Context, rec RefreshTokenRecord) error
	// Get возвращает запись по JTI или ErrTokenNotFound.
	Get(ctx context.Context, jti string) (RefreshTokenRecord, error)
	// Rotate атомарно переводит jti из active в rotated и сохраняет next.
	// Если jti уже не active (проигранная гонка двух refresh) — ErrConflict.
	Rotate(ctx context.Context, jti string, next RefreshTokenRecord) error
	// Revoke переводит JTI в revoked. Идемпотентна: повторный отзыв — не ошибка.
	Revoke(ctx context.Context, jti string) error
	// RevokeFamily отзывает все токены семейства, возвращает число отозванных.
	RevokeFamily(ctx context.Context, familyID string) (int, error)
	// DeleteExpired удаляет записи с expires_at <= before порциями limit.
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// UserRepository описывает минимальное хранилище учётных записей.
type UserRepository interface {
	Create(ctx context.Context, user User) error
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
}
