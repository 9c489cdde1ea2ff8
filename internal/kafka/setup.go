package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/marketplace-payments/pkg/logger"

	kafkaGo "github.com/segmentio/kafka-go"
)

// RequiredTopics топики, которые публикует сервис.
func RequiredTopics(paymentTopic string) map[string]kafkaGo.TopicConfig {
	topics := map[string]kafkaGo.TopicConfig{}
	for _, name := range []string{TopicSubscriptionActivated, TopicSubscriptionCancelled, TopicSubscriptionExpired} {
		topics[name] = kafkaGo.TopicConfig{Topic: name, NumPartitions: 3, ReplicationFactor: 1}
	}
	if paymentTopic != "" {
		topics[paymentTopic] = kafkaGo.TopicConfig{Topic: paymentTopic, NumPartitions: 3, ReplicationFactor: 1}
	}
	return topics
}

// EnsureKafkaTopics проверяет и создает необходимые топики Kafka.
func EnsureKafkaTopics(ctx context.Context, brokers []string, paymentTopic string, log *logger.Logger) error {
	requiredTopics := RequiredTopics(paymentTopic)
	log.Infow("Ensuring Kafka topics exist...", "topics", getTopicNames(requiredTopics))

	if len(brokers) == 0 || brokers[0] == "" {
		log.Errorw("Kafka broker address is empty")
		return errors.New("kafka broker address is empty")
	}
	_, portStr, err := net.SplitHostPort(strings.TrimSpace(brokers[0]))
	if err != nil {
		log.Errorw("Invalid Kafka broker address format", "broker", brokers[0], "error", err)
		return fmt.Errorf("invalid broker address %s: %w", brokers[0], err)
	}
	if _, err := strconv.Atoi(portStr); err != nil {
		log.Errorw("Invalid Kafka broker port", "broker", brokers[0], "error", err)
		return fmt.Errorf("invalid broker port %s: %w", brokers[0], err)
	}

	connCtx, cancelConn := context.WithTimeout(ctx, 15*time.Second)
	defer cancelConn()

	conn, err := kafkaGo.DialLeader(connCtx, "tcp", brokers[0], "", 0)
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker for topic creation", "broker", brokers[0], "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		log.Errorw("Failed to read partitions from Kafka", "error", err)
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	existingTopics := make(map[string]bool)
	for _, p := range partitions {
		existingTopics[p.Topic] = true
	}

	var topicsToCreate []kafkaGo.TopicConfig
	for topicName, config := range requiredTopics {
		if !existingTopics[topicName] {
			log.Infow("Topic needs to be created", "topic", topicName)
			topicsToCreate = append(topicsToCreate, config)
		}
	}

	if len(topicsToCreate) == 0 {
		log.Infow("All required topics already exist.")
		return nil
	}

	if err := conn.CreateTopics(topicsToCreate...); err != nil {
		if !errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Errorw("Failed to create topics", "error", err, "topics", getTopicNamesFromConfig(topicsToCreate))
			return fmt.Errorf("kafka create topics failed: %w", err)
		}
		log.Warnw("One or more topics already existed during creation attempt", "topics", getTopicNamesFromConfig(topicsToCreate))
	}

	log.Infow("Successfully created or verified topics", "topics", getTopicNamesFromConfig(topicsToCreate))
	return nil
}

func getTopicNames(topicMap map[string]kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(topicMap))
	for name := range topicMap {
		names = append(names, name)
	}
	return names
}

func getTopicNamesFromConfig(topicConfigs []kafkaGo.TopicConfig) []string {
	names := make([]string, 0, len(topicConfigs))
	for _, tc := range topicConfigs {
		names = append(names, tc.Topic)
	}
	return names
}
