package domain

import "time"

// Role — роль пользователя, определяющая набор доступных capability.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
	RoleCashier  Role = "cashier"
)

// Capability — тег операции, проверяемый Authorization Gate по статической таблице.
type Capability string

const (
	CapInvoiceCreate Capability = "invoice:create"
	CapInvoiceIssue  Capability = "invoice:issue"
	CapInvoicePay    Capability = "invoice:pay"
	CapInvoiceCancel Capability = "invoice:cancel"
	CapInvoiceRead   Capability = "invoice:read"
	CapRefundProcess Capability = "refund:process"
	CapRefundRead    Capability = "refund:read"
	CapStockAdjust   Capability = "stock:adjust"
	CapStockRead     Capability = "stock:read"
	CapAuditRead     Capability = "audit:read"
	CapUserManage    Capability = "user:manage"
)

// Session — результат валидации access-токена: кто и с какой ролью действует.
type Session struct {
	UserID string
	Role   Role
}

// RefreshTokenState описывает жизненный цикл refresh-токена.
type RefreshTokenState string

const (
	// TokenStateActive — токен выдан и ещё не использован.
	TokenStateActive RefreshTokenState = "active"
	// TokenStateRotated — токен использован для refresh и заменён новым.
	TokenStateRotated RefreshTokenState = "rotated"
	// TokenStateRevoked — токен отозван (logout или обнаружение replay).
	TokenStateRevoked RefreshTokenState = "revoked"
)

// RefreshTokenRecord — персистентное состояние одного refresh-токена (JTI).
// Повторное предъявление rotated/revoked JTI трактуется как replay и отзывает
// всё семейство.
type RefreshTokenRecord struct {
	JTI    string
	UserID string
	// FamilyID связывает цепочку ротаций одной сессии.
	FamilyID  string
	State     RefreshTokenState
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// User — учётная запись, достаточная для аутентификации и RBAC.
// Полный user management живёт за пределами ядра.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}
