package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
)

// Producer publishes concluded matches to Kafka, keyed by room code
type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *slog.Logger
	wg       sync.WaitGroup

	sent   atomic.Int64
	failed atomic.Int64
}

// NewProducer connects an async producer to the configured brokers
func NewProducer(cfg *config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewProducerFromAsync(producer, cfg.Topic, logger), nil
}

// NewProducerFromAsync wraps an existing async producer. Both Successes and
// Errors must be enabled on its config.
func NewProducerFromAsync(producer sarama.AsyncProducer, topic string, logger *slog.Logger) *Producer {
	p := &Producer{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for range producer.Successes() {
			p.sent.Add(1)
		}
	}()
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.failed.Add(1)
			p.logger.Error("failed to publish match result", "error", err.Err, "topic", err.Msg.Topic)
		}
	}()

	return p
}

// Publish enqueues a result. Delivery failures are logged asynchronously.
func (p *Producer) Publish(ctx context.Context, result domain.MatchResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding match result: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(result.RoomCode),
		Value: sarama.ByteEncoder(data),
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports delivered and failed message counts
func (p *Producer) Stats() (sent, failed int64) {
	return p.sent.Load(), p.failed.Load()
}

// Close flushes buffered messages and waits for their outcome
func (p *Producer) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	sent, failed := p.Stats()
	p.logger.Info("Kafka producer closed", "sent", sent, "failed", failed)
	return nil
}
