package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/kafkax"
	"github.com/md-rashed-zaman/slicehub/services/loyalty-service/internal/loyalty"
	"github.com/segmentio/kafka-go"
)

const TopicOrderCompleted = "order.completed.v1"

// OrderCompleted is the payload of order.completed.v1.
type OrderCompleted struct {
	TenantID      string `json:"tenant_id"`
	OrderID       string `json:"order_id"`
	CustomerPhone string `json:"customer_phone"`
	CustomerEmail string `json:"customer_email"`
	TotalCents    int64  `json:"total_cents"`
	CompletedAt   string `json:"completed_at"`
}

type purchaseRecorder interface {
	RecordPurchase(ctx context.Context, key loyalty.AccountKey, p loyalty.Purchase) (loyalty.Result, error)
}

// OrderHandler credits purchase points for every completed order that names
// a customer. Orders without a customer are skipped. The event id travels
// into the account update, so a redelivered order is credited once.
func OrderHandler(svc purchaseRecorder, logger *slog.Logger) kafkax.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt OrderCompleted
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return kafkax.Permanent(fmt.Errorf("decode %s: %w", TopicOrderCompleted, err))
		}
		if evt.TenantID == "" {
			evt.TenantID = kafkax.HeaderValue(msg.Headers, "tenant_id")
		}

		customer := strings.TrimSpace(evt.CustomerEmail)
		if customer == "" {
			customer = strings.TrimSpace(evt.CustomerPhone)
		}
		if customer == "" {
			logger.Debug("order without customer skipped", "order_id", evt.OrderID)
			return nil
		}
		key, err := loyalty.NewAccountKey(evt.TenantID, customer)
		if err != nil {
			return kafkax.Permanent(err)
		}

		var at time.Time
		if evt.CompletedAt != "" {
			if at, err = time.Parse(time.RFC3339, evt.CompletedAt); err != nil {
				return kafkax.Permanent(fmt.Errorf("invalid completed_at: %w", err))
			}
		}

		meta := kafkax.ExtractEventMeta(msg)
		res, err := svc.RecordPurchase(ctx, key, loyalty.Purchase{
			AmountCents: evt.TotalCents,
			At:          at,
			EventID:     meta.EventID,
			EventType:   meta.EventType,
		})
		switch {
		case errors.Is(err, loyalty.ErrDuplicateEvent):
			logger.Info("order already credited", "event_id", meta.EventID, "order_id", evt.OrderID)
			return nil
		case errors.Is(err, loyalty.ErrInvalidArgument):
			return kafkax.Permanent(err)
		case err != nil:
			return err
		}
		logger.Info("purchase points credited",
			"tenant_id", key.TenantID,
			"order_id", evt.OrderID,
			"points", res.Account.Points,
			"tier", res.Account.Tier.Key,
			"degraded", res.Degraded,
		)
		return nil
	}
}
