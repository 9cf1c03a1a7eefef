package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/kafkax"
	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/usage"
	"github.com/segmentio/kafka-go"
)

const TopicOrderCompleted = "order.completed.v1"

type orderCompleted struct {
	TenantID    string `json:"tenant_id"`
	OrderID     string `json:"order_id"`
	CompletedAt string `json:"completed_at"`
}

type orderRecorder interface {
	RecordOrder(ctx context.Context, o usage.Order) error
}

// OrderHandler counts every completed order against the tenant's monthly
// order allowance. The event id is recorded with the counter, so a
// redelivered order is counted once.
func OrderHandler(svc orderRecorder, logger *slog.Logger) kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt orderCompleted
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return kafkax.Permanent(fmt.Errorf("decode %s: %w", TopicOrderCompleted, err))
		}
		if evt.TenantID == "" {
			evt.TenantID = kafkax.HeaderValue(msg.Headers, "tenant_id")
		}

		var at time.Time
		if evt.CompletedAt != "" {
			var err error
			if at, err = time.Parse(time.RFC3339, evt.CompletedAt); err != nil {
				return kafkax.Permanent(fmt.Errorf("invalid completed_at: %w", err))
			}
		}

		meta := kafkax.ExtractEventMeta(msg)
		err := svc.RecordOrder(ctx, usage.Order{TenantID: evt.TenantID, At: at, EventID: meta.EventID, EventType: meta.EventType})
		if errors.Is(err, usage.ErrInvalidArgument) {
			return kafkax.Permanent(err)
		}
		if err != nil {
			return err
		}
		logger.Debug("order counted", "tenant_id", evt.TenantID, "order_id", evt.OrderID)
		return nil
	}
}
