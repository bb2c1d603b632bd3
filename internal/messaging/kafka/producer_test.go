package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestProducer_PublishEvent(t *testing.T) {
	// Создаем mock producer
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидания
	mockProducer.ExpectSendMessageAndSucceed()

	event := NewAuditEvent(domain.AuditRecord{
		ID:        "audit-1",
		Entity:    "invoice:INV-MAIN-000001",
		Action:    domain.AuditActionCreate,
		Timestamp: time.Now(),
	})

	err := producer.PublishEvent(TopicAuditEvents, "invoice:INV-MAIN-000001", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	// Создаем mock producer с ошибкой
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидание ошибки
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewAuditEvent(domain.AuditRecord{
		ID:        "audit-1",
		Entity:    "invoice:INV-MAIN-000001",
		Action:    domain.AuditActionUpdate,
		Timestamp: time.Now(),
	})

	err := producer.PublishEvent(TopicAuditEvents, "invoice:INV-MAIN-000001", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Каналы не сериализуются в JSON, сообщение не должно дойти до брокера.
	err := producer.PublishEvent(TopicAuditEvents, "key", make(chan int))
	if err == nil {
		t.Fatal("expected marshal error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewAuditEvent(t *testing.T) {
	userID := "user-7"
	ts := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)

	rec := domain.AuditRecord{
		ID:     "audit-42",
		Entity: "product:prod-espresso",
		Action: domain.AuditActionUpdate,
		UserID: &userID,
		Changes: map[string]any{
			"price": "18.00",
		},
		Timestamp: ts,
	}

	event := NewAuditEvent(rec)

	if event.AuditID != rec.ID {
		t.Errorf("expected audit id %s, got %s", rec.ID, event.AuditID)
	}

	if event.Entity != rec.Entity {
		t.Errorf("expected entity %s, got %s", rec.Entity, event.Entity)
	}

	if event.Action != string(domain.AuditActionUpdate) {
		t.Errorf("expected action %s, got %s", domain.AuditActionUpdate, event.Action)
	}

	if event.UserID == nil || *event.UserID != userID {
		t.Error("user id not set correctly")
	}

	if event.Changes["price"] != "18.00" {
		t.Error("changes not set correctly")
	}

	// Метка времени берется из записи, а не из времени публикации.
	if !event.Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, event.Timestamp)
	}
}

func TestNewAuditEvent_SystemAction(t *testing.T) {
	event := NewAuditEvent(domain.AuditRecord{
		ID:        "audit-1",
		Entity:    "user:cashier-1",
		Action:    domain.AuditActionDelete,
		Timestamp: time.Now(),
	})

	if event.UserID != nil {
		t.Error("system action must not carry a user id")
	}
}
