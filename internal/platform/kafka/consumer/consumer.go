// Package consumer runs a franz-go consumer group and hands records to a
// Handler, committing offsets only after the handler returns.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	defaultMaxAttempts = 3
	defaultRetryDelay  = 200 * time.Millisecond
)

// Message is a transport-neutral view of a consumed record.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Handler processes one message. An error triggers a bounded retry; after the
// last attempt the message is logged and committed so it cannot block the
// partition.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// Consumer polls a consumer group.
type Consumer struct {
	client      *kgo.Client
	handler     Handler
	logger      *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

type Option func(*Consumer)

func WithMaxAttempts(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(c *Consumer) {
		c.retryDelay = d
	}
}

func New(brokers []string, group string, topics []string, handler Handler, logger *slog.Logger, opts ...Option) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	c := &Consumer{
		handler:     handler,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: create consumer client: %w", err)
	}
	c.client = client
	return c, nil
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, fe := range fetches.Errors() {
			c.logger.Warn("kafka fetch error",
				"topic", fe.Topic,
				"partition", fe.Partition,
				"error", fe.Err,
			)
		}

		var done []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			c.process(ctx, FromRecord(rec))
			done = append(done, rec)
		})
		if len(done) == 0 {
			continue
		}
		if err := c.client.CommitRecords(ctx, done...); err != nil {
			c.logger.Error("kafka commit failed", "records", len(done), "error", err)
		}
	}
}

func (c *Consumer) Close() {
	c.client.Close()
}

func (c *Consumer) process(ctx context.Context, msg *Message) {
	var err error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err = c.handler.Handle(ctx, msg); err == nil {
			return
		}
		if attempt < c.maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
	}
	c.logger.Error("kafka message handling failed, skipping",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"error", err,
	)
}

func FromRecord(rec *kgo.Record) *Message {
	return &Message{
		Topic:     rec.Topic,
		Key:       rec.Key,
		Value:     rec.Value,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Timestamp: rec.Timestamp,
	}
}
