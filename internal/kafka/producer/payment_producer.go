package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/marketplace-payments/internal/domain"
	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/IBM/sarama"
)

// DefaultTopicPaymentRecorded топик новых записей в журнале платежей.
const DefaultTopicPaymentRecorded = "payment.recorded"

// PaymentEvent представляет событие платежа для Kafka
type PaymentEvent struct {
	ID             string               `json:"id"`
	ClientID       string               `json:"client_id"`
	ProviderID     string               `json:"provider_id,omitempty"`
	SubscriptionID string               `json:"subscription_id,omitempty"`
	ReservationID  string               `json:"reservation_id,omitempty"`
	OrderID        string               `json:"order_id,omitempty"`
	SessionID      string               `json:"session_id,omitempty"`
	Amount         float64              `json:"amount"`
	Mode           domain.PaymentMode   `json:"mode"`
	Status         domain.PaymentStatus `json:"status"`
	Timestamp      time.Time            `json:"timestamp"`
}

// PaymentProducer интерфейс для отправки событий платежей
type PaymentProducer interface {
	PublishPaymentRecorded(ctx context.Context, payment *domain.PaymentRecord) error
	Close() error
}

type kafkaPaymentProducer struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewKafkaPaymentProducer создает новый продюсер событий платежей
func NewKafkaPaymentProducer(producer sarama.SyncProducer, topic string, log *logger.Logger) PaymentProducer {
	if topic == "" {
		topic = DefaultTopicPaymentRecorded
	}
	return &kafkaPaymentProducer{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// NewPaymentEvent собирает тело сообщения из записи журнала.
func NewPaymentEvent(payment *domain.PaymentRecord) PaymentEvent {
	return PaymentEvent{
		ID:             payment.ID,
		ClientID:       payment.ClientID,
		ProviderID:     deref(payment.ProviderID),
		SubscriptionID: deref(payment.SubscriptionID),
		ReservationID:  deref(payment.ReservationID),
		OrderID:        deref(payment.OrderID),
		SessionID:      deref(payment.StripeSessionID),
		Amount:         payment.Amount,
		Mode:           payment.Mode,
		Status:         payment.Status,
		Timestamp:      payment.CreatedAt,
	}
}

// PublishPaymentRecorded публикует событие о новой записи платежа
func (p *kafkaPaymentProducer) PublishPaymentRecorded(ctx context.Context, payment *domain.PaymentRecord) error {
	messageValue, err := json.Marshal(NewPaymentEvent(payment))
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(payment.ClientID),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(p.topic),
			},
		},
		Timestamp: time.Now(),
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		p.log.Errorw("Failed to publish payment event", "error", err, "paymentID", payment.ID, "topic", p.topic)
		return fmt.Errorf("failed to publish payment event: %w", err)
	}

	p.log.Infow("Published payment event", "topic", p.topic, "partition", partition, "offset", offset, "paymentID", payment.ID)
	return nil
}

// Close закрывает продюсер
func (p *kafkaPaymentProducer) Close() error {
	return p.producer.Close()
}

type noopPaymentProducer struct{}

// NewNoopPaymentProducer используется, когда Kafka выключена.
func NewNoopPaymentProducer() PaymentProducer {
	return noopPaymentProducer{}
}

func (noopPaymentProducer) PublishPaymentRecorded(context.Context, *domain.PaymentRecord) error {
	return nil
}

func (noopPaymentProducer) Close() error { return nil }
