package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
)

// ResultRecorder stores batches of concluded matches
type ResultRecorder interface {
	RecordBatch(ctx context.Context, results []domain.MatchResult) error
}

// Consumer consumes match results from Kafka and records them in batches
type Consumer struct {
	config        *config.KafkaConfig
	recorder      ResultRecorder
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, recorder ResultRecorder, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		recorder:      recorder,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := NewBatchHandler(c.config, c.recorder, c.logger)
			handler.ready = c.ready

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// BatchHandler implements sarama.ConsumerGroupHandler. Offsets are marked only
// after their batch was recorded or retries were exhausted.
type BatchHandler struct {
	recorder      ResultRecorder
	batchSize     int
	batchTimeout  time.Duration
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger
	ready         chan bool
}

// NewBatchHandler creates a claim handler
func NewBatchHandler(cfg *config.KafkaConfig, recorder ResultRecorder, logger *slog.Logger) *BatchHandler {
	h := &BatchHandler{
		recorder:      recorder,
		batchSize:     cfg.BatchSize,
		batchTimeout:  cfg.BatchTimeout,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        logger,
	}
	if h.batchSize <= 0 {
		h.batchSize = 1
	}
	if h.batchTimeout <= 0 {
		h.batchTimeout = time.Second
	}
	return h
}

// Setup is called at the beginning of a new session
func (h *BatchHandler) Setup(sarama.ConsumerGroupSession) error {
	if h.ready != nil {
		close(h.ready)
	}
	return nil
}

// Cleanup is called at the end of a session
func (h *BatchHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *BatchHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batch := make([]domain.MatchResult, 0, h.batchSize)
	pending := make([]*sarama.ConsumerMessage, 0, h.batchSize)
	batchTimer := time.NewTimer(h.batchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(pending) == 0 {
			return
		}
		if len(batch) > 0 {
			h.record(session.Context(), batch)
		}
		for _, msg := range pending {
			session.MarkMessage(msg, "")
		}
		batch = batch[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(h.batchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}
			pending = append(pending, message)

			var result domain.MatchResult
			if err := json.Unmarshal(message.Value, &result); err != nil {
				h.logger.Warn("failed to unmarshal match result",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}
			if !result.Valid() {
				h.logger.Warn("invalid match result", "match_id", result.ID, "room_code", result.RoomCode)
				continue
			}

			batch = append(batch, result)
			if len(batch) >= h.batchSize {
				processBatch()
				batchTimer.Reset(h.batchTimeout)
			}
		}
	}
}

// record retries a failed batch before giving up on it
func (h *BatchHandler) record(sessionCtx context.Context, batch []domain.MatchResult) {
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := h.recorder.RecordBatch(ctx, batch)
		cancel()
		if err == nil {
			h.logger.Debug("processed batch", "batch_size", len(batch))
			return
		}
		if attempt >= h.retryAttempts {
			h.logger.Error("failed to process batch", "error", err, "batch_size", len(batch), "attempts", attempt+1)
			return
		}
		h.logger.Warn("retrying batch", "error", err, "attempt", attempt+1)
		select {
		case <-time.After(h.retryDelay):
		case <-sessionCtx.Done():
			h.logger.Error("failed to process batch before shutdown", "error", err, "batch_size", len(batch))
			return
		}
	}
}
