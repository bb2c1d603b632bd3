package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// helper для создания базового инвойса с одной позицией.
func makeInvoice() domain.Invoice {
	now := time.Now().UTC()
	return domain.Invoice{
		ID:         "inv-1",
		Number:     "INV-MAIN-000001",
		Branch:     "MAIN",
		CustomerID: "customer-1",
		Items: []domain.LineItem{
			{
				ID:        "line-1",
				ProductID: "product-1",
				Qty:       5,
				UnitPrice: decimal.NewFromInt(100),
				LineTotal: decimal.NewFromInt(500),
				CreatedAt: now,
			},
		},
		Totals: domain.Totals{
			Subtotal:   decimal.NewFromInt(500),
			Tax:        decimal.Zero,
			Discount:   decimal.Zero,
			GrandTotal: decimal.NewFromInt(500),
		},
		Status:    domain.InvoiceStatusDraft,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInvoiceValidateInvariants_Ok(t *testing.T) {
	inv := makeInvoice()
	if errs := inv.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestInvoiceValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(i *domain.Invoice)
	}{
		{
			name: "no customer",
			mut: func(i *domain.Invoice) {
				i.CustomerID = ""
			},
		},
		{
			name: "no items",
			mut: func(i *domain.Invoice) {
				i.Items = nil
			},
		},
		{
			name: "zero qty",
			mut: func(i *domain.Invoice) {
				i.Items[0].Qty = 0
			},
		},
		{
			name: "negative price",
			mut: func(i *domain.Invoice) {
				i.Items[0].UnitPrice = decimal.NewFromInt(-1)
			},
		},
		{
			name: "no product id",
			mut: func(i *domain.Invoice) {
				i.Items[0].ProductID = ""
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := makeInvoice()
			tc.mut(&inv)
			if errs := inv.ValidateInvariants(); len(errs) == 0 {
				t.Fatalf("expected validation errors for case %q", tc.name)
			}
		})
	}
}

func TestInvoiceOutstanding(t *testing.T) {
	inv := makeInvoice()

	if got := inv.Outstanding(); !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected outstanding 500, got %s", got)
	}

	inv.Payments = append(inv.Payments, domain.Payment{
		ID:         "pay-1",
		Amount:     decimal.NewFromInt(200),
		Method:     "cash",
		ReceivedAt: time.Now().UTC(),
	})
	if got := inv.Outstanding(); !got.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected outstanding 300 after partial payment, got %s", got)
	}

	inv.Payments = append(inv.Payments, domain.Payment{
		ID:         "pay-2",
		Amount:     decimal.NewFromInt(300),
		Method:     "card",
		ReceivedAt: time.Now().UTC(),
	})
	if got := inv.Outstanding(); !got.IsZero() {
		t.Fatalf("expected zero outstanding after full payment, got %s", got)
	}
}

func TestInvoiceSoldQuantities(t *testing.T) {
	inv := makeInvoice()
	inv.Items = append(inv.Items, domain.LineItem{
		ID:        "line-2",
		ProductID: "product-1",
		Qty:       2,
		UnitPrice: decimal.NewFromInt(100),
		LineTotal: decimal.NewFromInt(200),
	})

	sold := inv.SoldQuantities()
	if sold["product-1"] != 7 {
		t.Fatalf("expected 7 sold units across duplicate lines, got %d", sold["product-1"])
	}
}

func TestStockEntryValidateInvariants(t *testing.T) {
	cases := []struct {
		name    string
		entry   domain.StockEntry
		wantErr bool
	}{
		{
			name:  "valid in",
			entry: domain.StockEntry{ProductID: "p1", Delta: 5, Kind: domain.StockIn},
		},
		{
			name:  "valid out",
			entry: domain.StockEntry{ProductID: "p1", Delta: -5, Kind: domain.StockOut},
		},
		{
			name:  "adjust down",
			entry: domain.StockEntry{ProductID: "p1", Delta: -1, Kind: domain.StockAdjust},
		},
		{
			name:    "zero delta",
			entry:   domain.StockEntry{ProductID: "p1", Delta: 0, Kind: domain.StockIn},
			wantErr: true,
		},
		{
			name:    "in with negative delta",
			entry:   domain.StockEntry{ProductID: "p1", Delta: -5, Kind: domain.StockIn},
			wantErr: true,
		},
		{
			name:    "out with positive delta",
			entry:   domain.StockEntry{ProductID: "p1", Delta: 5, Kind: domain.StockOut},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			entry:   domain.StockEntry{ProductID: "p1", Delta: 5, Kind: "MOVE"},
			wantErr: true,
		},
		{
			name:    "no product",
			entry:   domain.StockEntry{Delta: 5, Kind: domain.StockIn},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.entry.ValidateInvariants()
			if tc.wantErr && len(errs) == 0 {
				t.Fatalf("expected validation errors")
			}
			if !tc.wantErr && len(errs) != 0 {
				t.Fatalf("expected no validation errors, got %v", errs)
			}
		})
	}
}
