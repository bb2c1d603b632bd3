package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const opTimeout = 5 * time.Second

// WithinTx исполняет fn в одной транзакции PostgreSQL. Конфликты конкурентной
// записи (unique violation, serialization failure) схлопываются в
// domain.ErrConflict — ретраи живут уровнем выше.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&pgTx{ctx: ctx, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return translateError(err)
	}

	if err := sqlTx.Commit(); err != nil {
		return translateError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// pgTx реализует domain.Tx поверх открытой SQL-транзакции.
type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *pgTx) Product(productID string) (domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT id, sku, name, unit_price, created_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.SKU, &p.Name, &p.UnitPrice, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (t *pgTx) LockStockLevel(productID string) (domain.StockLevel, error) {
	var lvl domain.StockLevel
	err := t.tx.QueryRowContext(t.ctx, `
		SELECT product_id, quantity, last_entry_seq, updated_at
		FROM stock_levels
		WHERE product_id = $1
		FOR UPDATE
	`, productID).Scan(&lvl.ProductID, &lvl.Quantity, &lvl.LastEntrySeq, &lvl.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, domain.ErrProductNotFound
		}
		return domain.StockLevel{}, fmt.Errorf("lock stock level: %w", err)
	}
	return lvl, nil
}

func (t *pgTx) InsertStockEntry(entry domain.StockEntry) (domain.StockLevel, error) {
	var seq int64
	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO stock_entries (id, product_id, delta, kind, ref, batch, location, expiry, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING seq
	`, entry.ID, entry.ProductID, entry.Delta, string(entry.Kind),
		entry.Ref, entry.Batch, entry.Location, entry.Expiry, entry.CreatedAt,
	).Scan(&seq)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("insert stock entry: %w", err)
	}

	var lvl domain.StockLevel
	err = t.tx.QueryRowContext(t.ctx, `
		UPDATE stock_levels
		SET quantity = quantity + $2, last_entry_seq = $3, updated_at = $4
		WHERE product_id = $1
		RETURNING product_id, quantity, last_entry_seq, updated_at
	`, entry.ProductID, entry.Delta, seq, entry.CreatedAt,
	).Scan(&lvl.ProductID, &lvl.Quantity, &lvl.LastEntrySeq, &lvl.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, domain.ErrProductNotFound
		}
		return domain.StockLevel{}, fmt.Errorf("apply stock delta: %w", err)
	}
	return lvl, nil
}

func (t *pgTx) Invoice(invoiceID string) (domain.Invoice, error) {
	return loadInvoice(t.ctx, t.tx, invoiceID)
}

func (t *pgTx) InsertInvoice(inv domain.Invoice) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO invoices (
			id, number, branch, customer_id,
			subtotal, tax, discount, grand_total,
			status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, inv.ID, inv.Number, inv.Branch, inv.CustomerID,
		inv.Totals.Subtotal, inv.Totals.Tax, inv.Totals.Discount, inv.Totals.GrandTotal,
		string(inv.Status), inv.Version, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	for _, item := range inv.Items {
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO invoice_items (id, invoice_id, product_id, qty, unit_price, line_total, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, item.ID, inv.ID, item.ProductID, item.Qty, item.UnitPrice, item.LineTotal, item.CreatedAt); err != nil {
			return fmt.Errorf("insert invoice item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) UpdateInvoice(inv domain.Invoice) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE invoices
		SET status = $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND version = $4
	`, inv.ID, string(inv.Status), inv.UpdatedAt, inv.Version)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice rows affected: %w", err)
	}
	if affected == 0 {
		// Либо инвойс исчез, либо версия устарела.
		var exists bool
		if err := t.tx.QueryRowContext(t.ctx,
			`SELECT TRUE FROM invoices WHERE id = $1`, inv.ID,
		).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrInvoiceNotFound
			}
			return fmt.Errorf("check invoice existence: %w", err)
		}
		return domain.ErrConflict
	}
	return nil
}

func (t *pgTx) InsertPayment(invoiceID string, p domain.Payment) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO invoice_payments (id, invoice_id, amount, method, received_at)
		VALUES ($1,$2,$3,$4,$5)
	`, p.ID, invoiceID, p.Amount, p.Method, p.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) NextInvoiceSeq(branch string) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(t.ctx, `
		INSERT INTO invoice_sequences (branch, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (branch) DO UPDATE SET last_seq = invoice_sequences.last_seq + 1
		RETURNING last_seq
	`, branch).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next invoice seq: %w", err)
	}
	return seq, nil
}

func (t *pgTx) InsertRefund(ref domain.Refund) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO refunds (id, invoice_id, amount, reason, processed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, ref.ID, ref.InvoiceID, ref.Amount, ref.Reason, ref.ProcessedBy, ref.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}

	for _, item := range ref.Items {
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO refund_items (refund_id, product_id, qty, unit_price, line_amount)
			VALUES ($1,$2,$3,$4,$5)
		`, ref.ID, item.ProductID, item.Qty, item.UnitPrice, item.LineAmount); err != nil {
			return fmt.Errorf("insert refund item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) RefundedQuantities(invoiceID string) (map[string]int64, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT ri.product_id, COALESCE(SUM(ri.qty), 0)
		FROM refund_items ri
		JOIN refunds r ON r.id = ri.refund_id
		WHERE r.invoice_id = $1
		GROUP BY ri.product_id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("select refunded quantities: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var productID string
		var qty int64
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, fmt.Errorf("scan refunded quantity: %w", err)
		}
		result[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunded quantities: %w", err)
	}
	return result, nil
}

func (t *pgTx) InsertAudit(rec domain.AuditRecord) error {
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO audit_log (id, entity, action, user_id, changes, ts)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.Entity, string(rec.Action), rec.UserID, changes, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, unit_price, created_at
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.SKU, &p.Name, &p.UnitPrice, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

// RegisterProduct сохраняет карточку товара и нулевой остаток.
// Используется при первичном наполнении каталога.
func (s *Store) RegisterProduct(ctx context.Context, p domain.Product) error {
	return s.WithinTx(ctx, func(tx domain.Tx) error {
		pg := tx.(*pgTx)
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		if _, err := pg.tx.ExecContext(pg.ctx, `
			INSERT INTO products (id, sku, name, unit_price, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO NOTHING
		`, p.ID, p.SKU, p.Name, p.UnitPrice, p.CreatedAt); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		if _, err := pg.tx.ExecContext(pg.ctx, `
			INSERT INTO stock_levels (product_id, quantity, last_entry_seq, updated_at)
			VALUES ($1, 0, 0, $2)
			ON CONFLICT (product_id) DO NOTHING
		`, p.ID, p.CreatedAt); err != nil {
			return fmt.Errorf("insert stock level: %w", err)
		}
		return nil
	})
}

func (s *Store) StockLevel(ctx context.Context, productID string) (domain.StockLevel, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var lvl domain.StockLevel
	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, last_entry_seq, updated_at
		FROM stock_levels
		WHERE product_id = $1
	`, productID).Scan(&lvl.ProductID, &lvl.Quantity, &lvl.LastEntrySeq, &lvl.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StockLevel{}, domain.ErrProductNotFound
		}
		return domain.StockLevel{}, fmt.Errorf("select stock level: %w", err)
	}
	return lvl, nil
}

func (s *Store) StockEntries(ctx context.Context, productID string, limit int) ([]domain.StockEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, delta, kind, seq, ref, batch, location, expiry, created_at
		FROM stock_entries
		WHERE product_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("select stock entries: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.StockEntry, 0)
	for rows.Next() {
		var e domain.StockEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Delta, &kind, &e.Seq,
			&e.Ref, &e.Batch, &e.Location, &e.Expiry, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stock entry: %w", err)
		}
		e.Kind = domain.StockEntryKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock entries: %w", err)
	}
	return entries, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return loadInvoice(ctx, s.db, invoiceID)
}

func (s *Store) InvoicesByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM invoices
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select invoices by customer: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan invoice id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice ids: %w", err)
	}

	invoices := make([]domain.Invoice, 0, len(ids))
	for _, id := range ids {
		inv, err := loadInvoice(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

func (s *Store) GetRefund(ctx context.Context, refundID string) (domain.Refund, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var ref domain.Refund
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_id, amount, reason, processed_by, created_at
		FROM refunds
		WHERE id = $1
	`, refundID).Scan(&ref.ID, &ref.InvoiceID, &ref.Amount, &ref.Reason, &ref.ProcessedBy, &ref.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Refund{}, domain.ErrRefundNotFound
		}
		return domain.Refund{}, fmt.Errorf("select refund: %w", err)
	}

	items, err := s.loadRefundItems(ctx, ref.ID)
	if err != nil {
		return domain.Refund{}, err
	}
	ref.Items = items
	return ref, nil
}

func (s *Store) RefundsByInvoice(ctx context.Context, invoiceID string) ([]domain.Refund, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, amount, reason, processed_by, created_at
		FROM refunds
		WHERE invoice_id = $1
		ORDER BY created_at DESC
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("select refunds by invoice: %w", err)
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0)
	for rows.Next() {
		var ref domain.Refund
		if err := rows.Scan(&ref.ID, &ref.InvoiceID, &ref.Amount, &ref.Reason, &ref.ProcessedBy, &ref.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		refunds = append(refunds, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refunds: %w", err)
	}

	for i := range refunds {
		items, err := s.loadRefundItems(ctx, refunds[i].ID)
		if err != nil {
			return nil, err
		}
		refunds[i].Items = items
	}
	return refunds, nil
}

func (s *Store) loadRefundItems(ctx context.Context, refundID string) ([]domain.RefundItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty, unit_price, line_amount
		FROM refund_items
		WHERE refund_id = $1
		ORDER BY product_id
	`, refundID)
	if err != nil {
		return nil, fmt.Errorf("select refund items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.RefundItem, 0)
	for rows.Next() {
		var item domain.RefundItem
		if err := rows.Scan(&item.ProductID, &item.Qty, &item.UnitPrice, &item.LineAmount); err != nil {
			return nil, fmt.Errorf("scan refund item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refund items: %w", err)
	}
	return items, nil
}

func (s *Store) AuditTrail(ctx context.Context, entity string, limit int) ([]domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, entity, action, user_id, changes, ts, published_at
		FROM audit_log
		WHERE ($1 = '' OR entity = $1)
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, entity, limit)
	if err != nil {
		return nil, fmt.Errorf("select audit trail: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func (s *Store) PullUnpublishedAudit(ctx context.Context, limit int) ([]domain.AuditRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity, action, user_id, changes, ts, published_at
		FROM audit_log
		WHERE published_at IS NULL
		ORDER BY ts ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select unpublished audit: %w", err)
	}
	defer rows.Close()

	return scanAuditRows(rows)
}

func (s *Store) MarkAuditPublished(ctx context.Context, auditID string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_log SET published_at = NOW()
		WHERE id = $1 AND published_at IS NULL
	`, auditID)
	if err != nil {
		return fmt.Errorf("mark audit published: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark audit published rows affected: %w", err)
	}
	return nil
}

// queryer объединяет *sql.DB и *sql.Tx для общих загрузчиков.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadInvoice(ctx context.Context, q queryer, invoiceID string) (domain.Invoice, error) {
	var inv domain.Invoice
	var status string
	err := q.QueryRowContext(ctx, `
		SELECT id, number, branch, customer_id,
		       subtotal, tax, discount, grand_total,
		       status, version, created_at, updated_at
		FROM invoices
		WHERE id = $1
	`, invoiceID).Scan(
		&inv.ID, &inv.Number, &inv.Branch, &inv.CustomerID,
		&inv.Totals.Subtotal, &inv.Totals.Tax, &inv.Totals.Discount, &inv.Totals.GrandTotal,
		&status, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Invoice{}, domain.ErrInvoiceNotFound
		}
		return domain.Invoice{}, fmt.Errorf("select invoice: %w", err)
	}
	inv.Status = domain.InvoiceStatus(status)

	items, err := loadInvoiceItems(ctx, q, inv.ID)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.Items = items

	payments, err := loadPayments(ctx, q, inv.ID)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.Payments = payments

	return inv, nil
}

func loadInvoiceItems(ctx context.Context, q queryer, invoiceID string) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, qty, unit_price, line_total, created_at
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY created_at, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("select invoice items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Qty, &item.UnitPrice, &item.LineTotal, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoice items: %w", err)
	}
	return items, nil
}

func loadPayments(ctx context.Context, q queryer, invoiceID string) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, amount, method, received_at
		FROM invoice_payments
		WHERE invoice_id = $1
		ORDER BY received_at, id
	`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.Amount, &p.Method, &p.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return payments, nil
}

func scanAuditRows(rows *sql.Rows) ([]domain.AuditRecord, error) {
	records := make([]domain.AuditRecord, 0)
	for rows.Next() {
		var rec domain.AuditRecord
		var action string
		var changes []byte
		if err := rows.Scan(&rec.ID, &rec.Entity, &action, &rec.UserID, &changes, &rec.Timestamp, &rec.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Action = domain.AuditAction(action)
		if len(changes) > 0 {
			if err := json.Unmarshal(changes, &rec.Changes); err != nil {
				return nil, fmt.Errorf("unmarshal audit changes: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// translateError схлопывает конкурентные ошибки PostgreSQL в domain.ErrConflict.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%v: %w", pgErr.ConstraintName, domain.ErrConflict)
		case "40001": // serialization_failure
			return fmt.Errorf("serialization failure: %w", domain.ErrConflict)
		case "40P01": // deadlock_detected
			return fmt.Errorf("deadlock detected: %w", domain.ErrConflict)
		}
	}
	return err
}

var _ domain.Store = (*Store)(nil)
var _ domain.Tx = (*pgTx)(nil)
