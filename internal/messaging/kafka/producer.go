package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

// HeaderRoutingKey — заголовок, в котором передаётся routing key события.
const HeaderRoutingKey = "routing_key"

// Producer публикует сообщения брокера в Kafka. Exchange сообщения становится topic.
type Producer struct {
	producer sarama.SyncProducer
	client   sarama.Client
	ping     func(ctx context.Context) error
	logger   *log.Entry
}

// NewProducer создаёт синхронный идемпотентный producer.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	p := newProducer(producer, logger)
	p.client = client
	p.ping = clientPing(client)
	return p, nil
}

// clientPing считает кластер доступным, если есть хотя бы один подключённый
// брокер или удаётся обновить метаданные.
func clientPing(client sarama.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if client.Closed() {
			return sarama.ErrClosedClient
		}
		for _, broker := range client.Brokers() {
			if ok, _ := broker.Connected(); ok {
				return nil
			}
		}

		done := make(chan error, 1)
		go func() { done <- client.RefreshMetadata() }()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			return err
		}
	}
}

func newProducer(producer sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{producer: producer, logger: logger}
}

// Publish отправляет сообщение и ждёт подтверждения от брокера.
// sarama.SyncProducer не принимает context, поэтому отменённый ctx проверяется до отправки.
func (p *Producer) Publish(ctx context.Context, msg domain.Message) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka producer is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.Exchange, err)
	}

	pm := &sarama.ProducerMessage{
		Topic:     msg.Exchange,
		Value:     sarama.ByteEncoder(msg.Body),
		Timestamp: time.Now(),
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}
	if msg.RoutingKey != "" {
		pm.Headers = []sarama.RecordHeader{{
			Key:   []byte(HeaderRoutingKey),
			Value: []byte(msg.RoutingKey),
		}}
	}

	partition, offset, err := p.producer.SendMessage(pm)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"topic":       msg.Exchange,
			"key":         msg.Key,
			"routing_key": msg.RoutingKey,
		}).Error("failed to send message to kafka")
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"topic":     msg.Exchange,
		"key":       msg.Key,
		"partition": partition,
		"offset":    offset,
	}).Debug("message sent to kafka")

	return nil
}

// Ping проверяет связь с кластером. Используется readiness-проверкой.
func (p *Producer) Ping(ctx context.Context) error {
	if p == nil || p.ping == nil {
		return errors.New("kafka producer is not initialized")
	}
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("kafka unavailable: %w", err)
	}
	return nil
}

// Close закрывает producer, затем клиента.
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	if p.client != nil && !p.client.Closed() {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("failed to close kafka client: %w", err)
		}
	}
	return nil
}

var _ domain.Broker = (*Producer)(nil)
