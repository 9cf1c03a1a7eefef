package kafkax

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092,")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %#v", got)
	}
	if SplitBrokers("") != nil {
		t.Fatal("expected nil for empty input")
	}
}

func TestExtractEventMetaFallsBackToPositionAndTopic(t *testing.T) {
	msg := kafka.Message{Topic: "order.completed.v1", Key: []byte("pizzaria-centro"), Partition: 2, Offset: 41}
	meta := ExtractEventMeta(msg)
	if meta.EventID != "order.completed.v1/2/41" || meta.EventType != "order.completed.v1" {
		t.Fatalf("unexpected meta: %+v", meta)
	}

	msg.Headers = []kafka.Header{{Key: "event_id", Value: []byte("evt-1")}, {Key: "event_type", Value: []byte("custom")}}
	meta = ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != "custom" {
		t.Fatalf("unexpected meta from headers: %+v", meta)
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := InjectTraceHeaders(ctx, []kafka.Header{{Key: "event_id", Value: []byte("evt-1")}})
	if HeaderValue(headers, "traceparent") == "" {
		t.Fatalf("expected traceparent header, got %#v", headers)
	}

	out := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), kafka.Message{Headers: headers}))
	if out.TraceID() != traceID {
		t.Fatalf("trace id mismatch: %s", out.TraceID())
	}
}

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func order(offset int64, eventID string) kafka.Message {
	return kafka.Message{
		Topic:   "order.completed.v1",
		Offset:  offset,
		Headers: []kafka.Header{{Key: "event_id", Value: []byte(eventID)}},
	}
}

func runConsumer(t *testing.T, handler Handler, msgs ...kafka.Message) *fakeReader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := &fakeReader{msgs: msgs, cancel: cancel}
	c := newConsumer(r, discardLogger(), ConsumerConfig{RetryBackoff: time.Millisecond}, handler)
	c.Run(ctx)
	return r
}

func TestConsumerRetriesFailedMessageBeforeCommitting(t *testing.T) {
	var seen []string
	failures := 1
	r := runConsumer(t, func(_ context.Context, msg kafka.Message) error {
		id := ExtractEventMeta(msg).EventID
		seen = append(seen, id)
		if id == "evt-1" && failures > 0 {
			failures--
			return errors.New("connection refused")
		}
		return nil
	}, order(10, "evt-1"), order(11, "evt-2"))

	if want := []string{"evt-1", "evt-1", "evt-2"}; !slices.Equal(seen, want) {
		t.Fatalf("handled %v, want %v", seen, want)
	}
	if len(r.committed) != 2 || r.committed[0].Offset != 10 || r.committed[1].Offset != 11 {
		t.Fatalf("unexpected commits: %+v", r.committed)
	}
}

func TestConsumerCommitsPermanentFailures(t *testing.T) {
	calls := 0
	r := runConsumer(t, func(context.Context, kafka.Message) error {
		calls++
		return Permanent(errors.New("decode order.completed.v1: unexpected EOF"))
	}, order(3, "evt-bad"))

	if calls != 1 {
		t.Fatalf("expected one attempt, got %d", calls)
	}
	if len(r.committed) != 1 {
		t.Fatalf("expected the message to be committed, got %+v", r.committed)
	}
}

func TestConsumerLeavesOffsetOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeReader{msgs: []kafka.Message{order(5, "evt-5")}, cancel: cancel}
	c := newConsumer(r, discardLogger(), ConsumerConfig{RetryBackoff: time.Millisecond}, func(context.Context, kafka.Message) error {
		cancel()
		return errors.New("postgres down")
	})
	c.Run(ctx)

	if len(r.committed) != 0 {
		t.Fatalf("expected no commit, got %+v", r.committed)
	}
}

func TestPermanent(t *testing.T) {
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must be nil")
	}
	base := errors.New("bad payload")
	err := fmt.Errorf("handle: %w", Permanent(base))
	if !IsPermanent(err) || !errors.Is(err, base) {
		t.Fatalf("unexpected classification of %v", err)
	}
	if IsPermanent(base) {
		t.Fatal("plain errors are retried")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMissingTopics(t *testing.T) {
	parts := []kafka.Partition{{Topic: "order.completed.v1", ID: 0}, {Topic: "order.completed.v1", ID: 1}}
	if err := missingTopics([]string{"order.completed.v1"}, parts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := missingTopics([]string{"order.completed.v1", "loyalty.events.v1"}, parts); err == nil {
		t.Fatal("expected missing topic error")
	}
}
