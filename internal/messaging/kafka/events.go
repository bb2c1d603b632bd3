package kafka

import (
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Topics для Kafka
const (
	// TopicAuditEvents — внешний поток записей аудита.
	TopicAuditEvents = "pos.audit.events"
)

// AuditEvent — сериализованная запись аудита для внешних потребителей.
type AuditEvent struct {
	AuditID   string         `json:"audit_id"`
	Entity    string         `json:"entity"`
	Action    string         `json:"action"`
	UserID    *string        `json:"user_id,omitempty"`
	Changes   map[string]any `json:"changes,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewAuditEvent создает событие из записи аудита.
func NewAuditEvent(rec domain.AuditRecord) *AuditEvent {
	return &AuditEvent{
		AuditID:   rec.ID,
		Entity:    rec.Entity,
		Action:    string(rec.Action),
		UserID:    rec.UserID,
		Changes:   rec.Changes,
		Timestamp: rec.Timestamp,
	}
}
