// Package kafka carries record-appended notifications over a Kafka topic so
// every server instance re-evaluates the affected certificates.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"trustcert/internal/ledger/events"
	"trustcert/internal/ledger/metrics"
	"trustcert/internal/ledger/models"
	"trustcert/internal/platform/kafka/consumer"
)

// Producer is the slice of the platform producer the publisher uses.
type Producer interface {
	Publish(ctx context.Context, key, value []byte, done func(error))
}

// Publisher implements the ledger's Notifier. Delivery is asynchronous; the
// periodic sweep covers anything that fails to publish.
type Publisher struct {
	producer Producer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewPublisher(producer Producer, logger *slog.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{producer: producer, logger: logger, metrics: m}
}

func (p *Publisher) RecordAppended(ctx context.Context, event models.RecordAppended) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.metrics.IncrementNotifyDropped()
		p.logger.ErrorContext(ctx, "failed to encode record notification", "error", err)
		return
	}
	p.producer.Publish(context.WithoutCancel(ctx), []byte(event.Subject), payload, func(err error) {
		if err != nil {
			p.metrics.IncrementNotifyDropped()
			p.logger.Warn("record notification not delivered",
				"subject", event.Subject,
				"category", event.Category,
				"error", err,
			)
		}
	})
}

// Handler decodes notifications and passes them to fn.
type Handler struct {
	fn      events.HandlerFunc
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewHandler(fn events.HandlerFunc, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{fn: fn, logger: logger, metrics: m}
}

// Handle implements consumer.Handler. Malformed payloads are committed.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	var event models.RecordAppended
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("failed to decode record notification",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	if event.Subject == "" {
		h.logger.Error("record notification missing subject", "offset", msg.Offset)
		return nil
	}
	if err := h.fn(ctx, event); err != nil {
		h.metrics.IncrementNotifyOutcome("error")
		return err
	}
	h.metrics.IncrementNotifyOutcome("ok")
	return nil
}
