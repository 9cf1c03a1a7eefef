package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func TestBuildEventVerifiesAgainstWebhook(t *testing.T) {
	now := time.Now().UTC()
	payload, err := buildEventJSON(eventArgs{
		ID:          "evt_1",
		Type:        "checkout.session.completed",
		Created:     now,
		TenantID:    "pizzaria-centro",
		AddOnOrders: 1000,
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: now,
		Scheme:    "v1",
	})
	evt, err := webhook.ConstructEventWithTolerance(payload, signed.Header, "whsec_test", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, stripe.EventType("checkout.session.completed"), evt.Type)
	assert.Equal(t, "addon", evt.Data.Object["metadata"].(map[string]any)["purpose"])
	assert.Equal(t, "1000", evt.Data.Object["metadata"].(map[string]any)["addon_orders"])
}

func TestBuildEventSubscriptionDeleted(t *testing.T) {
	payload, err := buildEventJSON(eventArgs{ID: "evt_2", Type: "customer.subscription.deleted", Created: time.Now(), TenantID: "forneria", Plan: "pro"})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"status":"canceled"`)

	_, err = buildEventJSON(eventArgs{Type: "invoice.paid"})
	assert.Error(t, err)
}
