// Package kafka carries cleanup retries over a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"ragchat/internal/config"
	"ragchat/pkg/log"
	"ragchat/pkg/tasks"
)

// TaskProcessor runs one cleanup task.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.CleanupTask) error
}

// AttemptCounter counts failed deliveries per task key.
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes cleanup tasks.
type Producer struct {
	writer MessageWriter
}

// NewProducer creates a producer for cfg.Topic.
func NewProducer(cfg config.KafkaConfig) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers(cfg)...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	})
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w MessageWriter) *Producer {
	log.Info("Kafka producer initialized")
	return &Producer{writer: w}
}

// Enqueue publishes task keyed by its task key.
func (p *Producer) Enqueue(ctx context.Context, task tasks.CleanupTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal cleanup task: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.Key()), Value: value}); err != nil {
		return fmt.Errorf("publish cleanup task: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer retries cleanup tasks. A message is retried with linear backoff and committed once it
// succeeds or has failed maxAttempts times. Attempts are counted in Redis so they survive restarts.
type Consumer struct {
	reader      MessageReader
	processor   TaskProcessor
	attempts    AttemptCounter
	maxAttempts int64
	backoff     time.Duration
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers(cfg),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewConsumerWithReader(r, processor, attempts, cfg.MaxAttempts)
}

// NewConsumerWithReader wraps an existing reader. maxAttempts <= 0 means 3.
func NewConsumerWithReader(r MessageReader, processor TaskProcessor, attempts AttemptCounter, maxAttempts int) *Consumer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Consumer{reader: r, processor: processor, attempts: attempts, maxAttempts: int64(maxAttempts), backoff: time.Second}
}

// Run consumes until ctx is cancelled or the reader fails, then closes the reader.
func (c *Consumer) Run(ctx context.Context) error {
	log.Info("Kafka consumer started")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("failed to close Kafka consumer: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("Kafka consumer stopped")
				return nil
			}
			log.Error("failed to read Kafka message", err)
			return err
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	var task tasks.CleanupTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		log.Errorf("malformed cleanup message at offset %d: %v", m.Offset, err)
		c.commit(ctx, m)
		return
	}

	for {
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("cleanup %s succeeded", task.Key())
			_ = c.attempts.Reset(ctx, task.Key())
			c.commit(ctx, m)
			return
		}
		log.Errorf("cleanup %s failed: %v", task.Key(), err)

		n, incErr := c.attempts.Incr(ctx, task.Key())
		if incErr != nil {
			// left uncommitted; the group redelivers it after a restart or rebalance
			log.Warnf("attempt counter unavailable for %s: %v", task.Key(), incErr)
			return
		}
		if n >= c.maxAttempts {
			log.Errorf("cleanup %s failed %d times, giving up", task.Key(), n)
			_ = c.attempts.Reset(ctx, task.Key())
			c.commit(ctx, m)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(n)):
		}
	}
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("failed to commit Kafka offset %d: %v", m.Offset, err)
	}
}

func brokers(cfg config.KafkaConfig) []string {
	var out []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
