package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/glamdesk/salonbook/libs/kafkax"
	otelx "github.com/glamdesk/salonbook/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Source yields batches of unpublished events. *Repository and the in-memory
// store implement it.
type Source interface {
	WithUnpublished(ctx context.Context, limit int, send func(context.Context, []Record) error) error
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	src       Source
	writer    MessageWriter
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

// A nil writer (no brokers configured) makes Run a no-op; events stay in
// the table until a publisher with brokers drains them.
func NewPublisher(src Source, writer MessageWriter, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		src:       src,
		writer:    writer,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.PublishBatch(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishBatch sends one batch. Events are at-least-once: a crash between
// the write and the commit resends them, and consumers dedupe on event_id.
func (p *Publisher) PublishBatch(ctx context.Context) error {
	return p.src.WithUnpublished(ctx, p.batchSize, func(ctx context.Context, records []Record) error {
		msgs := make([]kafka.Message, 0, len(records))
		for _, r := range records {
			msgs = append(msgs, Message(ctx, r))
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		p.logger.Debug("outbox batch published", "count", len(msgs))
		return nil
	})
}

// Message builds the Kafka message for r, restoring the trace context that
// was active when the event was written.
func Message(ctx context.Context, r Record) kafka.Message {
	msgCtx := otelx.TraceHeaders{Traceparent: r.Traceparent, Tracestate: r.Tracestate}.Context(ctx)
	msg := kafka.Message{
		Topic: r.EventType,
		Key:   []byte(r.AggregateID),
		Value: r.Payload,
		Headers: []kafka.Header{
			{Key: kafkax.HeaderEventID, Value: []byte(r.EventID)},
			{Key: kafkax.HeaderEventType, Value: []byte(r.EventType)},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
