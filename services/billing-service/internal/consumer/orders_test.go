package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/kafkax"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/usage"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	calls []usage.Order
	err   error
}

func (f *fakeRecorder) RecordOrder(_ context.Context, o usage.Order) error {
	if o.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", usage.ErrInvalidArgument)
	}
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, o)
	return nil
}

func TestOrderHandler(t *testing.T) {
	rec := &fakeRecorder{}
	h := OrderHandler(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, h(context.Background(), kafka.Message{
		Topic: TopicOrderCompleted,
		Headers: []kafka.Header{
			{Key: "tenant_id", Value: []byte("pizzaria-centro")},
			{Key: "event_id", Value: []byte("evt-1")},
		},
		Value: []byte(`{"order_id":"o-1","completed_at":"2026-10-31T23:30:00-03:00"}`),
	}))
	require.Len(t, rec.calls, 1)
	assert.Equal(t, "pizzaria-centro", rec.calls[0].TenantID)
	assert.Equal(t, "evt-1", rec.calls[0].EventID)
	assert.Equal(t, TopicOrderCompleted, rec.calls[0].EventType)
	assert.Equal(t, time.Date(2026, 11, 1, 2, 30, 0, 0, time.UTC), rec.calls[0].At.UTC())

	require.NoError(t, h(context.Background(), kafka.Message{Topic: TopicOrderCompleted, Offset: 7, Value: []byte(`{"tenant_id":"forneria","order_id":"o-2"}`)}))
	require.Len(t, rec.calls, 2)
	assert.True(t, rec.calls[1].At.IsZero())
	assert.Equal(t, "order.completed.v1/0/7", rec.calls[1].EventID)

	for _, body := range []string{`{`, `{"tenant_id":"t","completed_at":"ontem"}`, `{"order_id":"o-3"}`} {
		err := h(context.Background(), kafka.Message{Value: []byte(body)})
		require.Error(t, err, body)
		assert.True(t, kafkax.IsPermanent(err), body)
	}
}

func TestOrderHandlerStoreFailureIsRetried(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("connection refused")}
	h := OrderHandler(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := h(context.Background(), kafka.Message{Value: []byte(`{"tenant_id":"forneria","order_id":"o-4"}`)})
	require.Error(t, err)
	assert.False(t, kafkax.IsPermanent(err))
}
