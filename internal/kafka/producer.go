package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/segmentio/kafka-go"
)

// Топики событий жизненного цикла подписки.
const (
	TopicSubscriptionActivated = "subscription.activated"
	TopicSubscriptionCancelled = "subscription.cancelled"
	TopicSubscriptionExpired   = "subscription.expired"
)

// SubscriptionEvent тело сообщения о переходе статуса подписки.
type SubscriptionEvent struct {
	SubscriptionID string                    `json:"subscription_id"`
	UserID         string                    `json:"user_id"`
	Plan           domain.Plan               `json:"plan"`
	Status         domain.SubscriptionStatus `json:"status"`
	Amount         float64                   `json:"amount"`
	EndDate        time.Time                 `json:"end_date"`
	SessionID      string                    `json:"session_id,omitempty"`
	OccurredAt     time.Time                 `json:"occurred_at"`
}

// Producer определяет интерфейс для публикации событий подписок.
type Producer interface {
	// PublishSubscriptionEvent отправляет событие, ключ сообщения user_id.
	PublishSubscriptionEvent(ctx context.Context, topic string, sub *domain.Subscription) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	// RequireOne: подтверждение только от лидера партиции
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)
	return &kafkaProducer{writer: writer, log: log}, nil
}

// NewSubscriptionEvent собирает тело сообщения.
func NewSubscriptionEvent(sub *domain.Subscription, now time.Time) SubscriptionEvent {
	return SubscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Plan:           sub.Plan,
		Status:         sub.Status,
		Amount:         sub.Amount,
		EndDate:        sub.EndDate,
		SessionID:      sub.SessionID(),
		OccurredAt:     now,
	}
}

func (k *kafkaProducer) PublishSubscriptionEvent(ctx context.Context, topic string, sub *domain.Subscription) error {
	// Ключ user_id: события одного пользователя попадают в одну партицию по порядку.
	messageKey := []byte(sub.UserID)

	messageValue, err := json.Marshal(NewSubscriptionEvent(sub, time.Now().UTC()))
	if err != nil {
		k.log.Errorw("Failed to marshal subscription event", "error", err, "subscriptionID", sub.ID, "topic", topic)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   messageKey,
		Value: messageValue,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", topic, "subscriptionID", sub.ID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", topic, "subscriptionID", sub.ID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Infow("Successfully published message to Kafka", "topic", topic, "subscriptionID", sub.ID)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}

type noopProducer struct{}

// NewNoopProducer используется, когда Kafka выключена.
func NewNoopProducer() Producer {
	return noopProducer{}
}

func (noopProducer) PublishSubscriptionEvent(context.Context, string, *domain.Subscription) error {
	return nil
}

func (noopProducer) Close() error { return nil }
