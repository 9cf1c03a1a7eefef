package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/md-rashed-zaman/slicehub/libs/kafkax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent("pizzaria-centro", "loyalty_account", "acc-1", "loyalty.points.credited.v1", map[string]any{"points": 20})
	require.NoError(t, err)
	assert.Equal(t, "loyalty.points.credited.v1", evt.EventType)

	var body map[string]int
	require.NoError(t, json.Unmarshal(evt.Payload, &body))
	assert.Equal(t, 20, body["points"])
}

func TestToMessageHeaders(t *testing.T) {
	msg := ToMessage(context.Background(), Record{
		EventID:     "evt-1",
		TenantID:    "pizzaria-centro",
		AggregateID: "acc-1",
		EventType:   "loyalty.tier.changed.v1",
		Payload:     []byte(`{}`),
	})

	assert.Equal(t, "loyalty.tier.changed.v1", msg.Topic)
	assert.Equal(t, "acc-1", string(msg.Key))
	assert.Equal(t, "evt-1", kafkax.HeaderValue(msg.Headers, "event_id"))
	assert.Equal(t, "pizzaria-centro", kafkax.HeaderValue(msg.Headers, "tenant_id"))
}
