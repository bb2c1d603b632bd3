package authz

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestAllowed(t *testing.T) {
	cases := []struct {
		name string
		role domain.Role
		cap  domain.Capability
		want bool
	}{
		{"cashier creates invoices", domain.RoleCashier, domain.CapInvoiceCreate, true},
		{"cashier takes payments", domain.RoleCashier, domain.CapInvoicePay, true},
		{"cashier cannot cancel", domain.RoleCashier, domain.CapInvoiceCancel, false},
		{"cashier cannot refund", domain.RoleCashier, domain.CapRefundProcess, false},
		{"cashier cannot adjust stock", domain.RoleCashier, domain.CapStockAdjust, false},
		{"employee cancels invoices", domain.RoleEmployee, domain.CapInvoiceCancel, true},
		{"employee processes refunds", domain.RoleEmployee, domain.CapRefundProcess, true},
		{"employee adjusts stock", domain.RoleEmployee, domain.CapStockAdjust, true},
		{"employee cannot read audit", domain.RoleEmployee, domain.CapAuditRead, false},
		{"employee cannot manage users", domain.RoleEmployee, domain.CapUserManage, false},
		{"admin reads audit", domain.RoleAdmin, domain.CapAuditRead, true},
		{"admin manages users", domain.RoleAdmin, domain.CapUserManage, true},
		{"unknown role denied", domain.Role("intern"), domain.CapInvoiceRead, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Allowed(tc.role, tc.cap); got != tc.want {
				t.Fatalf("Allowed(%s, %s) = %v, want %v", tc.role, tc.cap, got, tc.want)
			}
		})
	}
}

// Роли строго вложены: всё, что может кассир, может и сотрудник, и админ.
func TestRoleNesting(t *testing.T) {
	for cap := range grants[domain.RoleCashier] {
		if !Allowed(domain.RoleEmployee, cap) {
			t.Fatalf("employee must inherit cashier capability %s", cap)
		}
	}
	for cap := range grants[domain.RoleEmployee] {
		if !Allowed(domain.RoleAdmin, cap) {
			t.Fatalf("admin must inherit employee capability %s", cap)
		}
	}
}

func TestAuthorize(t *testing.T) {
	session := domain.Session{UserID: "user-1", Role: domain.RoleCashier}

	if err := Authorize(session, domain.CapInvoiceCreate); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}

	err := Authorize(session, domain.CapRefundProcess)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
