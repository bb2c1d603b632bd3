package domain

import "time"

// AuditAction описывает тип зафиксированного действия.
type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionDelete AuditAction = "DELETE"
	AuditActionAccess AuditAction = "ACCESS"
)

// AuditRecord — неизменяемая запись аудита мутации сущности.
// Пишется в той же транзакции, что и сама бизнес-мутация: если запись аудита
// не зафиксировалась, мутация не видна.
type AuditRecord struct {
	ID     string
	Entity string
	Action AuditAction
	// UserID — действующий пользователь; nil для системных действий.
	UserID    *string
	Changes   map[string]any
	Timestamp time.Time
	// PublishedAt отмечает момент публикации записи во внешний поток аудита.
	// nil — запись ещё не опубликована.
	PublishedAt *time.Time
}
