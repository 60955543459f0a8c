package events

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/IBM/sarama"
	"restaurant-service/internal/entity"
	"time"
)

// SaramaPublisher is the alternative Kafka client, selected with events.driver=sarama.
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaPublisher(brokers []string, topic string) (*SaramaPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Producer.Return.Successes = true // Must be true for SyncProducer
	saramaConfig.Net.DialTimeout = 30 * time.Second
	saramaConfig.Net.ReadTimeout = 30 * time.Second
	saramaConfig.Net.WriteTimeout = 30 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama producer: %w", err)
	}
	logger.Info().Msgf("Sarama producer created with brokers %v", brokers)
	return &SaramaPublisher{producer: producer, topic: topic}, nil
}

func (p *SaramaPublisher) Publish(ctx context.Context, event entity.Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(MessageKey(event)),
		Value: sarama.ByteEncoder(eventJSON),
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Failed to send event to topic %s", p.topic)
	}
	return err
}

func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
