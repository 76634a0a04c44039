package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"inventory-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Producer{writer: writer, logger: util.Named("kafka-producer")}
}

// PublishEvent publishes an event keyed by entity so one product's events stay ordered
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer represents a Kafka consumer group member
type Consumer struct {
	reader      *kafka.Reader
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
	})

	return &Consumer{
		reader:      reader,
		logger:      util.Named("kafka-consumer").With(zap.String("group", groupID)),
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches, handles and commits messages until ctx is cancelled.
// A failing handler is retried with backoff; a message that still fails is logged
// and committed so the partition keeps moving.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer", zap.String("topic", c.reader.Config().Topic))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Consumer context cancelled, stopping")
				return ctx.Err()
			}
			c.logger.Warn("Error fetching message", zap.Error(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handle(ctx, handler, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("Skipping message after failed attempts",
				zap.Int64("offset", msg.Offset),
				zap.String("key", string(msg.Key)),
				zap.Int("attempts", c.maxAttempts),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Warn("Error committing message", zap.Error(err))
		}
	}
}

// handle runs handler up to maxAttempts times, doubling the wait between attempts
func (c *Consumer) handle(ctx context.Context, handler MessageHandler, msg kafka.Message) error {
	wait := c.backoff
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = handler(ctx, msg); err == nil {
			return nil
		}
		if attempt == c.maxAttempts {
			break
		}
		c.logger.Warn("Error handling message, retrying",
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
