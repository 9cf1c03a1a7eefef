package reconcile

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/slicehub/services/billing-service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func TestChangeFromStripeActive(t *testing.T) {
	local := storage.Subscription{TenantID: "pizzaria-centro", Plan: "basic", Status: storage.StatusActive}
	sub := &stripe.Subscription{
		ID:                 "sub_1",
		Status:             stripe.SubscriptionStatusTrialing,
		Customer:           &stripe.Customer{ID: "cus_1"},
		Metadata:           map[string]string{"tenant_id": "pizzaria-centro", "plan": " PRO "},
		Created:            1760000000,
		CurrentPeriodStart: 1760000000,
		CurrentPeriodEnd:   1762600000,
	}

	c, entitled := changeFromStripe(local, sub, time.Now())
	assert.True(t, entitled)
	assert.Equal(t, "pro", c.Plan)
	assert.Equal(t, "cus_1", c.StripeCustomerID)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), c.OccurredAt)
	require.NotNil(t, c.PeriodEnd)
	assert.Equal(t, time.Unix(1762600000, 0).UTC(), *c.PeriodEnd)
}

func TestChangeFromStripeKeepsLocalPlanWithoutMetadata(t *testing.T) {
	local := storage.Subscription{TenantID: "forneria", Plan: "ultra"}
	c, _ := changeFromStripe(local, &stripe.Subscription{ID: "sub_2", Status: stripe.SubscriptionStatusActive}, time.Now())
	assert.Equal(t, "ultra", c.Plan)
	assert.Nil(t, c.PeriodStart)
}

func TestChangeFromStripeCanceled(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	local := storage.Subscription{TenantID: "forneria", Plan: "pro"}

	c, entitled := changeFromStripe(local, &stripe.Subscription{ID: "sub_3", Status: stripe.SubscriptionStatusCanceled, CanceledAt: 1760500000}, now)
	assert.False(t, entitled)
	assert.Equal(t, time.Unix(1760500000, 0).UTC(), c.OccurredAt)

	c, entitled = changeFromStripe(local, &stripe.Subscription{ID: "sub_3", Status: stripe.SubscriptionStatusPastDue}, now)
	assert.False(t, entitled)
	assert.Equal(t, now, c.OccurredAt)
}
