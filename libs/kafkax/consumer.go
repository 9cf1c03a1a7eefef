package kafkax

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler applies one message. Handlers dedupe by event id inside their own
// transaction; the consumer delivers at least once.
type Handler func(ctx context.Context, msg kafka.Message) error

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error that a retry cannot fix, such as an
// undecodable payload. The message is logged and its offset committed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type ConsumerConfig struct {
	Brokers string
	GroupID string
	Topic   string
	// RetryBackoff is the first wait before a failed message is retried. It
	// doubles on every attempt up to MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads one topic in a consumer group. A message's offset is
// committed only after its handler succeeded or failed permanently; other
// failures are retried in place, so a partition does not move past an
// order that was not applied.
type Consumer struct {
	reader     messageReader
	logger     *slog.Logger
	handler    Handler
	backoff    time.Duration
	maxBackoff time.Duration
}

func NewConsumer(logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newConsumer(reader, logger.With("topic", cfg.Topic, "group_id", cfg.GroupID), cfg, handler)
}

func newConsumer(reader messageReader, logger *slog.Logger, cfg ConsumerConfig, handler Handler) *Consumer {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxRetryBackoff < cfg.RetryBackoff {
		cfg.MaxRetryBackoff = 30 * time.Second
	}
	return &Consumer{
		reader:     reader,
		logger:     logger,
		handler:    handler,
		backoff:    cfg.RetryBackoff,
		maxBackoff: cfg.MaxRetryBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()
	c.logger.Info("kafka consumer starting")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		if !c.process(ctx, msg) {
			return
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			// The message comes back after a rebalance and the handler dedupes it.
			c.logger.Error("kafka commit failed", "err", err, "offset", msg.Offset, "partition", msg.Partition)
		}
	}
}

// process runs the handler until it succeeds or fails permanently. It
// reports false when ctx ends first, leaving the offset uncommitted.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	backoff := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handle(ctx, msg)
		if err == nil {
			return true
		}
		meta := ExtractEventMeta(msg)
		if IsPermanent(err) {
			c.logger.Error("message dropped", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.Warn("handler failed, retrying", "err", err, "event_id", meta.EventID, "attempt", attempt, "backoff", backoff)
		if !sleep(ctx, backoff) {
			return false
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ctxMsg := ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	if err := c.handler(ctxSpan, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler error")
		return err
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
