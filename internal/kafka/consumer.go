package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/segmentio/kafka-go"

	"ms-scheduling/internal/logger"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Handler processes one message. Errors are logged and the message is skipped.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	reader MessageReader
	topic  string
	logger *logger.Logger
}

// NewConsumer creates a consumer-group reader for one topic.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerFromReader(reader, topic, log)
}

func NewConsumerFromReader(reader MessageReader, topic string, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{reader: reader, topic: topic, logger: log}
}

// Start reads until ctx is cancelled or the reader is closed.
func (c *Consumer) Start(ctx context.Context, handler Handler) {
	c.logger.LogKafka("CONSUME", c.topic, "consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.LogKafka("CONSUME", c.topic, "consumer stopped")
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading from %s: %v", c.topic, err))
			continue
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Skipping message at %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
