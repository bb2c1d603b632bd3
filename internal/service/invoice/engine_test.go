package invoice_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/invoice"
	"github.com/vladislavdragonenkov/pos/internal/service/retry"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

var (
	cashier  = domain.Session{UserID: "cashier-1", Role: domain.RoleCashier}
	employee = domain.Session{UserID: "employee-1", Role: domain.RoleEmployee}
)

func newEngine(t *testing.T) (*invoice.Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: "prod-1", SKU: "SKU-1", Name: "Widget", UnitPrice: decimal.NewFromInt(10)}, 100)
	store.SeedProduct(domain.Product{ID: "prod-2", SKU: "SKU-2", Name: "Gadget", UnitPrice: decimal.NewFromInt(25)}, 5)
	engine := invoice.NewEngineWithoutMetrics(store, invoice.Config{Branch: "MAIN"}, nil)
	return engine, store
}

func createDraft(t *testing.T, engine *invoice.Engine, lines ...invoice.LineInput) domain.Invoice {
	t.Helper()
	if len(lines) == 0 {
		lines = []invoice.LineInput{{ProductID: "prod-1", Qty: 2}}
	}
	inv, err := engine.Create(context.Background(), cashier, invoice.CreateInput{
		CustomerID: "cust-1",
		Lines:      lines,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return inv
}

func TestCreateDraft(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 3})

	if inv.Status != domain.InvoiceStatusDraft {
		t.Fatalf("expected draft, got %s", inv.Status)
	}
	if inv.Number != "INV-MAIN-000001" {
		t.Fatalf("unexpected number %s", inv.Number)
	}
	// Цена берётся из карточки товара, когда не переопределена.
	if !inv.Items[0].UnitPrice.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected catalog price 10, got %s", inv.Items[0].UnitPrice)
	}
	if !inv.Totals.GrandTotal.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected grand total 30, got %s", inv.Totals.GrandTotal)
	}

	// Черновик не трогает склад.
	level, err := store.StockLevel(ctx, "prod-1")
	if err != nil {
		t.Fatalf("stock level failed: %v", err)
	}
	if level.Quantity != 100 {
		t.Fatalf("draft must not touch stock, got %d", level.Quantity)
	}

	trail, err := store.AuditTrail(ctx, "invoice:"+inv.ID, 10)
	if err != nil {
		t.Fatalf("audit trail failed: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != domain.AuditActionCreate {
		t.Fatalf("expected single CREATE audit record, got %+v", trail)
	}
}

func TestCreateWithTaxAndDiscount(t *testing.T) {
	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: "prod-1", UnitPrice: decimal.NewFromInt(100)}, 10)
	engine := invoice.NewEngineWithoutMetrics(store, invoice.Config{
		Branch:  "MAIN",
		TaxRate: decimal.NewFromFloat(0.15),
	}, nil)

	inv, err := engine.Create(context.Background(), cashier, invoice.CreateInput{
		CustomerID: "cust-1",
		Lines:      []invoice.LineInput{{ProductID: "prod-1", Qty: 2}},
		Discount:   decimal.NewFromInt(30),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if !inv.Totals.Subtotal.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected subtotal 200, got %s", inv.Totals.Subtotal)
	}
	if !inv.Totals.Tax.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected tax 30, got %s", inv.Totals.Tax)
	}
	if !inv.Totals.GrandTotal.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected grand total 200, got %s", inv.Totals.GrandTotal)
	}
}

func TestCreateValidation(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   invoice.CreateInput
		want error
	}{
		{"missing customer", invoice.CreateInput{Lines: []invoice.LineInput{{ProductID: "prod-1", Qty: 1}}}, domain.ErrCustomerRequired},
		{"no lines", invoice.CreateInput{CustomerID: "cust-1"}, domain.ErrItemsRequired},
		{"zero qty", invoice.CreateInput{CustomerID: "cust-1", Lines: []invoice.LineInput{{ProductID: "prod-1", Qty: 0}}}, domain.ErrItemQtyInvalid},
		{"negative price", invoice.CreateInput{CustomerID: "cust-1", Lines: []invoice.LineInput{{ProductID: "prod-1", Qty: 1, UnitPrice: decimal.NewFromInt(-1)}}}, domain.ErrItemPriceInvalid},
		{"unknown product", invoice.CreateInput{CustomerID: "cust-1", Lines: []invoice.LineInput{{ProductID: "prod-x", Qty: 1}}}, domain.ErrProductNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Create(ctx, cashier, tc.in)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestInvoiceNumbersGapFree(t *testing.T) {
	engine, _ := newEngine(t)

	for i := 1; i <= 3; i++ {
		inv := createDraft(t, engine)
		want := fmt.Sprintf("INV-MAIN-%06d", i)
		if inv.Number != want {
			t.Fatalf("expected %s, got %s", want, inv.Number)
		}
	}
}

func TestIssueDeductsStock(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 4})

	issued, err := engine.Issue(ctx, cashier, inv.ID)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if issued.Status != domain.InvoiceStatusIssued {
		t.Fatalf("expected issued, got %s", issued.Status)
	}

	level, err := store.StockLevel(ctx, "prod-1")
	if err != nil {
		t.Fatalf("stock level failed: %v", err)
	}
	if level.Quantity != 96 {
		t.Fatalf("expected quantity 96, got %d", level.Quantity)
	}

	entries, err := store.StockEntries(ctx, "prod-1", 1)
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if entries[0].Ref != "invoice:"+inv.ID {
		t.Fatalf("entry must reference the invoice, got %s", entries[0].Ref)
	}
}

// Дубли товара в позициях агрегируются перед списанием.
func TestIssueAggregatesDuplicateLines(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine,
		invoice.LineInput{ProductID: "prod-2", Qty: 2},
		invoice.LineInput{ProductID: "prod-2", Qty: 3},
	)

	if _, err := engine.Issue(ctx, cashier, inv.ID); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	level, err := store.StockLevel(ctx, "prod-2")
	if err != nil {
		t.Fatalf("stock level failed: %v", err)
	}
	if level.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", level.Quantity)
	}
}

// Нехватка одного товара откатывает списание всех позиций.
func TestIssueInsufficientStockRollsBackAll(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine,
		invoice.LineInput{ProductID: "prod-1", Qty: 1},
		invoice.LineInput{ProductID: "prod-2", Qty: 6}, // остаток prod-2 всего 5
	)

	_, err := engine.Issue(ctx, cashier, inv.ID)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	for _, productID := range []string{"prod-1", "prod-2"} {
		level, err := store.StockLevel(ctx, productID)
		if err != nil {
			t.Fatalf("stock level failed: %v", err)
		}
		want := int64(100)
		if productID == "prod-2" {
			want = 5
		}
		if level.Quantity != want {
			t.Fatalf("%s: expected untouched %d, got %d", productID, want, level.Quantity)
		}
	}

	stored, err := store.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.InvoiceStatusDraft {
		t.Fatalf("invoice must stay draft, got %s", stored.Status)
	}
}

func TestIssueFromWrongState(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine)
	if _, err := engine.Issue(ctx, cashier, inv.ID); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	_, err := engine.Issue(ctx, cashier, inv.ID)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPayPartialThenFull(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 2}) // итог 20
	if _, err := engine.Issue(ctx, cashier, inv.ID); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	partial, err := engine.Pay(ctx, cashier, inv.ID, decimal.NewFromInt(15), "cash")
	if err != nil {
		t.Fatalf("partial pay failed: %v", err)
	}
	if partial.Status != domain.InvoiceStatusIssued {
		t.Fatalf("expected issued after partial payment, got %s", partial.Status)
	}
	if !partial.Outstanding().Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected outstanding 5, got %s", partial.Outstanding())
	}

	paid, err := engine.Pay(ctx, cashier, inv.ID, decimal.NewFromInt(5), "card")
	if err != nil {
		t.Fatalf("final pay failed: %v", err)
	}
	if paid.Status != domain.InvoiceStatusPaid {
		t.Fatalf("expected paid, got %s", paid.Status)
	}
}

func TestPayRejectsOverpaymentAndWrongState(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 2})

	// Платёж по черновику недопустим.
	if _, err := engine.Pay(ctx, cashier, inv.ID, decimal.NewFromInt(20), "cash"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	if _, err := engine.Issue(ctx, cashier, inv.ID); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := engine.Pay(ctx, cashier, inv.ID, decimal.NewFromInt(21), "cash"); !errors.Is(err, domain.ErrPaymentExceedsBalance) {
		t.Fatalf("expected ErrPaymentExceedsBalance, got %v", err)
	}
	if _, err := engine.Pay(ctx, cashier, inv.ID, decimal.Zero, "cash"); !errors.Is(err, domain.ErrPaymentAmountInvalid) {
		t.Fatalf("expected ErrPaymentAmountInvalid, got %v", err)
	}
}

func TestCancelDraft(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine)
	cancelled, err := engine.Cancel(ctx, employee, inv.ID, "customer changed mind")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.InvoiceStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

// Отмена выставленного инвойса возвращает списанный товар на склад.
func TestCancelIssuedRestoresStock(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 7})
	if _, err := engine.Issue(ctx, cashier, inv.ID); err != nil {
		t.Fatalf("issue failed: %v", err)
	}

	if _, err := engine.Cancel(ctx, employee, inv.ID, "mistake"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	level, err := store.StockLevel(ctx, "prod-1")
	if err != nil {
		t.Fatalf("stock level failed: %v", err)
	}
	if level.Quantity != 100 {
		t.Fatalf("expected restored quantity 100, got %d", level.Quantity)
	}

	entries, err := store.StockEntries(ctx, "prod-1", 1)
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if entries[0].Kind != domain.StockAdjust || entries[0].Delta != 7 {
		t.Fatalf("expected compensating ADJUST +7, got %+v", entries[0])
	}
}

func TestCancelBlockedByPayments(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 2})
	if _, err := engine.Issue(ctx, cashier, inv.ID); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := engine.Pay(ctx, cashier, inv.ID, decimal.NewFromInt(5), "cash"); err != nil {
		t.Fatalf("pay failed: %v", err)
	}

	_, err := engine.Cancel(ctx, employee, inv.ID, "late regret")
	if !errors.Is(err, domain.ErrInvoicePartiallyPaid) {
		t.Fatalf("expected ErrInvoicePartiallyPaid, got %v", err)
	}
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("error must also classify as invalid state, got %v", err)
	}
}

func TestCancelTerminalStates(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	inv := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 2})
	if _, err := engine.Issue(ctx, cashier, inv.ID); err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := engine.Pay(ctx, cashier, inv.ID, decimal.NewFromInt(20), "cash"); err != nil {
		t.Fatalf("pay failed: %v", err)
	}

	if _, err := engine.Cancel(ctx, employee, inv.ID, "too late"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for paid invoice, got %v", err)
	}
}

func TestCancelRequiresEmployee(t *testing.T) {
	engine, _ := newEngine(t)

	inv := createDraft(t, engine)
	_, err := engine.Cancel(context.Background(), cashier, inv.ID, "not allowed")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestListByCustomer(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	createDraft(t, engine)
	createDraft(t, engine)

	invoices, err := engine.ListByCustomer(ctx, cashier, "cust-1", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoices, got %d", len(invoices))
	}
}

// Гонка за последнюю единицу товара: из двух конкурентных issue побеждает
// ровно один, остаток не уходит в минус.
func TestIssueConcurrentLastUnit(t *testing.T) {
	store := memory.NewStore()
	store.SeedProduct(domain.Product{ID: "prod-1", UnitPrice: decimal.NewFromInt(10)}, 1)
	engine := invoice.NewEngineWithoutMetrics(store, invoice.Config{
		Branch: "MAIN",
		Retry:  retry.Config{MaxAttempts: 1, InitialDelay: 1, MaxDelay: 1, BackoffFactor: 2},
	}, nil)
	ctx := context.Background()

	first := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 1})
	second := createDraft(t, engine, invoice.LineInput{ProductID: "prod-1", Qty: 1})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, err := engine.Issue(ctx, cashier, id)
			results[i] = err
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one winner, got %d", succeeded)
	}

	level, err := store.StockLevel(ctx, "prod-1")
	if err != nil {
		t.Fatalf("stock level failed: %v", err)
	}
	if level.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", level.Quantity)
	}
}
