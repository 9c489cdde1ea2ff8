package kafka

import (
	"fmt"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	"github.com/IBM/sarama"
)

// Config конфигурация для Kafka
type Config struct {
	Brokers  []string
	Producer ProducerConfig
}

// ProducerConfig конфигурация для продюсера
type ProducerConfig struct {
	MaxMessageBytes int
	Compression     sarama.CompressionCodec
	RequiredAcks    sarama.RequiredAcks
	MaxRetries      int
}

// NewConfig создает новую конфигурацию Kafka
func NewConfig(brokers []string) *Config {
	return &Config{
		Brokers: brokers,
		Producer: ProducerConfig{
			MaxMessageBytes: 1000000,
			Compression:     sarama.CompressionSnappy,
			RequiredAcks:    sarama.WaitForAll,
			MaxRetries:      5,
		},
	}
}

// NewSaramaConfig создает новую конфигурацию Sarama
func NewSaramaConfig(cfg *Config) *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_3_0_0
	saramaConfig.ClientID = "marketplace-payments"

	saramaConfig.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	saramaConfig.Producer.Compression = cfg.Producer.Compression
	saramaConfig.Producer.RequiredAcks = cfg.Producer.RequiredAcks
	saramaConfig.Producer.Retry.Max = cfg.Producer.MaxRetries
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	// SyncProducer требует оба канала
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	return saramaConfig
}

// NewSyncProducer подключается к брокерам для публикации платежных событий.
func NewSyncProducer(cfg *Config, log *logger.Logger) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg))
	if err != nil {
		log.Errorw("Failed to create sarama sync producer", "brokers", cfg.Brokers, "error", err)
		return nil, fmt.Errorf("kafka: failed to create sync producer: %w", err)
	}
	log.Infow("Sarama sync producer initialized", "brokers", cfg.Brokers)
	return producer, nil
}
