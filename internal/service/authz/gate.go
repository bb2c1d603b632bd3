// Package authz реализует статический RBAC: роль разворачивается в набор
// capability при компиляции, без динамических политик.
package authz

import (
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// grants — статическая таблица role → capability. Роли строго вложены:
// admin ⊇ employee ⊇ cashier.
var grants = map[domain.Role]map[domain.Capability]struct{}{
	domain.RoleCashier:  capSet(cashierCaps()),
	domain.RoleEmployee: capSet(employeeCaps()),
	domain.RoleAdmin:    capSet(adminCaps()),
}

func cashierCaps() []domain.Capability {
	return []domain.Capability{
		domain.CapInvoiceCreate,
		domain.CapInvoiceIssue,
		domain.CapInvoicePay,
		domain.CapInvoiceRead,
		domain.CapStockRead,
	}
}

func employeeCaps() []domain.Capability {
	return append(cashierCaps(),
		domain.CapInvoiceCancel,
		domain.CapRefundProcess,
		domain.CapRefundRead,
		domain.CapStockAdjust,
	)
}

func adminCaps() []domain.Capability {
	return append(employeeCaps(),
		domain.CapAuditRead,
		domain.CapUserManage,
	)
}

func capSet(caps []domain.Capability) map[domain.Capability]struct{} {
	set := make(map[domain.Capability]struct{}, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// Allowed сообщает, покрывает ли роль данную capability.
// Неизвестная роль не имеет прав.
func Allowed(role domain.Role, cap domain.Capability) bool {
	set, ok := grants[role]
	if !ok {
		return false
	}
	_, ok = set[cap]
	return ok
}

// Authorize возвращает ErrUnauthorized, если роль сессии не покрывает capability.
func Authorize(session domain.Session, cap domain.Capability) error {
	if !Allowed(session.Role, cap) {
		return fmt.Errorf("role %s lacks %s: %w", session.Role, cap, domain.ErrUnauthorized)
	}
	return nil
}
