package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Store — in-memory реализация domain.Store для локальной разработки и тестов.
// Одна общая блокировка сериализует все транзакции; изменения внутри
// WithinTx накапливаются в staging и применяются только при успешном коммите,
// поэтому частично применённая транзакция никогда не видна читателям.
type Store struct {
	mu sync.RWMutex

	products map[string]domain.Product
	levels   map[string]domain.StockLevel
	entries  []domain.StockEntry
	entrySeq int64

	invoices map[string]domain.Invoice
	seqs     map[string]int64

	refunds map[string]domain.Refund
	audits  []domain.AuditRecord
}

// NewStore возвращает пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		products: make(map[string]domain.Product),
		levels:   make(map[string]domain.StockLevel),
		invoices: make(map[string]domain.Invoice),
		seqs:     make(map[string]int64),
		refunds:  make(map[string]domain.Refund),
	}
}

// SeedProduct регистрирует товар с начальным остатком. Начальный остаток
// оформляется обычной IN-проводкой, чтобы инвариант сохранения выполнялся
// с первой записи.
func (s *Store) SeedProduct(p domain.Product, initialQty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	s.products[p.ID] = p

	level := domain.StockLevel{ProductID: p.ID, UpdatedAt: now}
	if initialQty > 0 {
		s.entrySeq++
		s.entries = append(s.entries, domain.StockEntry{
			ID:        fmt.Sprintf("seed-%s", p.ID),
			ProductID: p.ID,
			Delta:     initialQty,
			Kind:      domain.StockIn,
			Seq:       s.entrySeq,
			Ref:       "seed",
			CreatedAt: now,
		})
		level.Quantity = initialQty
		level.LastEntrySeq = s.entrySeq
	}
	s.levels[p.ID] = level
}

// WithinTx исполняет fn под общей блокировкой, применяя staging при успехе.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:    s,
		levels:   make(map[string]domain.StockLevel),
		invoices: make(map[string]domain.Invoice),
		refunds:  make(map[string]domain.Refund),
		payments: make(map[string][]domain.Payment),
		seqs:     make(map[string]int64),
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx.commit()
	return nil
}

// memoryTx накапливает изменения транзакции до коммита.
type memoryTx struct {
	store *Store

	levels   map[string]domain.StockLevel
	entries  []domain.StockEntry
	invoices map[string]domain.Invoice
	payments map[string][]domain.Payment
	refunds  map[string]domain.Refund
	audits   []domain.AuditRecord
	seqs     map[string]int64
}

func (t *memoryTx) Product(productID string) (domain.Product, error) {
	p, ok := t.store.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (t *memoryTx) LockStockLevel(productID string) (domain.StockLevel, error) {
	if lvl, ok := t.levels[productID]; ok {
		return lvl, nil
	}
	lvl, ok := t.store.levels[productID]
	if !ok {
		return domain.StockLevel{}, domain.ErrProductNotFound
	}
	return lvl, nil
}

func (t *memoryTx) InsertStockEntry(entry domain.StockEntry) (domain.StockLevel, error) {
	lvl, err := t.LockStockLevel(entry.ProductID)
	if err != nil {
		return domain.StockLevel{}, err
	}

	entry.Seq = t.store.entrySeq + int64(len(t.entries)) + 1
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	t.entries = append(t.entries, entry)

	lvl.Quantity += entry.Delta
	lvl.LastEntrySeq = entry.Seq
	lvl.UpdatedAt = entry.CreatedAt
	t.levels[entry.ProductID] = lvl

	return lvl, nil
}

func (t *memoryTx) Invoice(invoiceID string) (domain.Invoice, error) {
	if inv, ok := t.invoices[invoiceID]; ok {
		return cloneInvoice(inv), nil
	}
	inv, ok := t.store.invoices[invoiceID]
	if !ok {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	inv.Payments = append(inv.Payments, t.payments[invoiceID]...)
	return cloneInvoice(inv), nil
}

func (t *memoryTx) InsertInvoice(inv domain.Invoice) error {
	if _, staged := t.invoices[inv.ID]; staged {
		return domain.ErrConflict
	}
	if _, exists := t.store.invoices[inv.ID]; exists {
		return domain.ErrConflict
	}
	t.invoices[inv.ID] = cloneInvoice(inv)
	return nil
}

func (t *memoryTx) UpdateInvoice(inv domain.Invoice) error {
	current, err := t.Invoice(inv.ID)
	if err != nil {
		return err
	}
	if current.Version != inv.Version {
		return domain.ErrConflict
	}
	// Инкрементируем версию перед сохранением.
	inv.Version++
	inv.Payments = current.Payments
	t.invoices[inv.ID] = cloneInvoice(inv)
	// Отложенные платежи уже вошли в staged-инвойс.
	delete(t.payments, inv.ID)
	return nil
}

func (t *memoryTx) InsertPayment(invoiceID string, p domain.Payment) error {
	if _, err := t.Invoice(invoiceID); err != nil {
		return err
	}
	if staged, ok := t.invoices[invoiceID]; ok {
		staged.Payments = append(staged.Payments, p)
		t.invoices[invoiceID] = staged
		return nil
	}
	t.payments[invoiceID] = append(t.payments[invoiceID], p)
	return nil
}

func (t *memoryTx) NextInvoiceSeq(branch string) (int64, error) {
	next, ok := t.seqs[branch]
	if !ok {
		next = t.store.seqs[branch]
	}
	next++
	t.seqs[branch] = next
	return next, nil
}

func (t *memoryTx) InsertRefund(ref domain.Refund) error {
	if _, staged := t.refunds[ref.ID]; staged {
		return domain.ErrConflict
	}
	if _, exists := t.store.refunds[ref.ID]; exists {
		return domain.ErrConflict
	}
	t.refunds[ref.ID] = cloneRefund(ref)
	return nil
}

func (t *memoryTx) RefundedQuantities(invoiceID string) (map[string]int64, error) {
	result := make(map[string]int64)
	for _, ref := range t.store.refunds {
		if ref.InvoiceID != invoiceID {
			continue
		}
		for _, item := range ref.Items {
			result[item.ProductID] += item.Qty
		}
	}
	for _, ref := range t.refunds {
		if ref.InvoiceID != invoiceID {
			continue
		}
		for _, item := range ref.Items {
			result[item.ProductID] += item.Qty
		}
	}
	return result, nil
}

func (t *memoryTx) InsertAudit(rec domain.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	t.audits = append(t.audits, cloneAudit(rec))
	return nil
}

// commit применяет staged-изменения к базовому состоянию. Вызывается под
// блокировкой Store.
func (t *memoryTx) commit() {
	s := t.store

	for id, lvl := range t.levels {
		s.levels[id] = lvl
	}
	s.entries = append(s.entries, t.entries...)
	s.entrySeq += int64(len(t.entries))

	for id, inv := range t.invoices {
		s.invoices[id] = inv
	}
	for id, pays := range t.payments {
		inv := s.invoices[id]
		inv.Payments = append(inv.Payments, pays...)
		s.invoices[id] = inv
	}
	for branch, seq := range t.seqs {
		s.seqs[branch] = seq
	}
	for id, ref := range t.refunds {
		s.refunds[id] = ref
	}
	s.audits = append(s.audits, t.audits...)
}

func (s *Store) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) StockLevel(ctx context.Context, productID string) (domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lvl, ok := s.levels[productID]
	if !ok {
		return domain.StockLevel{}, domain.ErrProductNotFound
	}
	return lvl, nil
}

func (s *Store) StockEntries(ctx context.Context, productID string, limit int) ([]domain.StockEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ProductID != productID {
			continue
		}
		result = append(result, s.entries[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return domain.Invoice{}, domain.ErrInvoiceNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *Store) InvoicesByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.CustomerID != customerID {
			continue
		}
		result = append(result, cloneInvoice(inv))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetRefund(ctx context.Context, refundID string) (domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.refunds[refundID]
	if !ok {
		return domain.Refund{}, domain.ErrRefundNotFound
	}
	return cloneRefund(ref), nil
}

func (s *Store) RefundsByInvoice(ctx context.Context, invoiceID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Refund, 0)
	for _, ref := range s.refunds {
		if ref.InvoiceID != invoiceID {
			continue
		}
		result = append(result, cloneRefund(ref))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) AuditTrail(ctx context.Context, entity string, limit int) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditRecord, 0)
	for i := len(s.audits) - 1; i >= 0; i-- {
		if entity != "" && s.audits[i].Entity != entity {
			continue
		}
		result = append(result, cloneAudit(s.audits[i]))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) PullUnpublishedAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditRecord, 0)
	for _, rec := range s.audits {
		if rec.PublishedAt != nil {
			continue
		}
		result = append(result, cloneAudit(rec))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) MarkAuditPublished(ctx context.Context, auditID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.audits {
		if s.audits[i].ID == auditID {
			now := time.Now().UTC()
			s.audits[i].PublishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("audit record %s not found", auditID)
}

// Копируем слайсы, чтобы избежать непредсказуемых мутаций извне.
func cloneInvoice(inv domain.Invoice) domain.Invoice {
	items := make([]domain.LineItem, len(inv.Items))
	copy(items, inv.Items)
	payments := make([]domain.Payment, len(inv.Payments))
	copy(payments, inv.Payments)
	inv.Items = items
	inv.Payments = payments
	return inv
}

func cloneRefund(ref domain.Refund) domain.Refund {
	items := make([]domain.RefundItem, len(ref.Items))
	copy(items, ref.Items)
	ref.Items = items
	return ref
}

func cloneAudit(rec domain.AuditRecord) domain.AuditRecord {
	changes := make(map[string]any, len(rec.Changes))
	for k, v := range rec.Changes {
		changes[k] = v
	}
	rec.Changes = changes
	return rec
}

var _ domain.Store = (*Store)(nil)
var _ domain.Tx = (*memoryTx)(nil)
