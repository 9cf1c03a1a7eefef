package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/kafkax"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPurchase struct {
	key loyalty.AccountKey
	p   loyalty.Purchase
}

type fakeRecorder struct {
	calls []recordedPurchase
	err   error
}

func (f *fakeRecorder) RecordPurchase(_ context.Context, key loyalty.AccountKey, p loyalty.Purchase) (loyalty.Result, error) {
	if f.err != nil {
		return loyalty.Result{}, f.err
	}
	f.calls = append(f.calls, recordedPurchase{key: key, p: p})
	return loyalty.Result{Success: true, Account: &loyalty.View{}}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOrderHandler(t *testing.T) {
	rec := &fakeRecorder{}
	h := OrderHandler(rec, discardLogger())

	err := h(context.Background(), kafka.Message{
		Topic: TopicOrderCompleted,
		Headers: []kafka.Header{
			{Key: "tenant_id", Value: []byte("pizzaria-centro")},
			{Key: "event_id", Value: []byte("evt-1")},
		},
		Value: []byte(`{"order_id":"o-1","customer_phone":"(11) 99999-0000","total_cents":8990,"completed_at":"2026-07-14T21:10:00Z"}`),
	})
	require.NoError(t, err)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, loyalty.AccountKey{TenantID: "pizzaria-centro", Customer: "11999990000"}, rec.calls[0].key)
	assert.Equal(t, int64(8990), rec.calls[0].p.AmountCents)
	assert.Equal(t, "evt-1", rec.calls[0].p.EventID)
	assert.Equal(t, time.Date(2026, 7, 14, 21, 10, 0, 0, time.UTC), rec.calls[0].p.At.UTC())

	// No customer on the order: nothing to credit.
	require.NoError(t, h(context.Background(), kafka.Message{Value: []byte(`{"tenant_id":"pizzaria-centro","order_id":"o-2","total_cents":100}`)}))
	assert.Len(t, rec.calls, 1)

	err = h(context.Background(), kafka.Message{Value: []byte(`{`)})
	assert.True(t, kafkax.IsPermanent(err))
	err = h(context.Background(), kafka.Message{Value: []byte(`{"customer_email":"a@b.c","total_cents":100}`)})
	assert.ErrorIs(t, err, loyalty.ErrInvalidArgument)
	assert.True(t, kafkax.IsPermanent(err))
}

func TestOrderHandlerRedelivery(t *testing.T) {
	msg := kafka.Message{Value: []byte(`{"tenant_id":"pizzaria-centro","customer_email":"a@b.c","total_cents":100}`)}

	dup := &fakeRecorder{err: loyalty.ErrDuplicateEvent}
	require.NoError(t, OrderHandler(dup, discardLogger())(context.Background(), msg))

	down := &fakeRecorder{err: errors.Join(loyalty.ErrPersistenceUnavailable, errors.New("redis down"))}
	err := OrderHandler(down, discardLogger())(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, kafkax.IsPermanent(err))
}
