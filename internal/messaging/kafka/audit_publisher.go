package kafka

import (
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// AuditTopicPublisher публикует записи аудита в заданный Kafka topic.
type AuditTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewAuditPublisher создаёт Kafka-паблишер для потока аудита.
func NewAuditPublisher(producer *Producer, topic string) *AuditTopicPublisher {
	if topic == "" {
		topic = TopicAuditEvents
	}
	return &AuditTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Publish отправляет запись аудита в Kafka. Ключ — сущность записи:
// события одной сущности попадают в одну партицию и сохраняют порядок.
func (p *AuditTopicPublisher) Publish(rec domain.AuditRecord) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka audit publisher is not initialized")
	}

	key := rec.Entity
	if key == "" {
		key = rec.ID
	}

	return p.producer.PublishEvent(p.topic, key, NewAuditEvent(rec))
}
