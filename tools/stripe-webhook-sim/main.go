// Command stripe-webhook-sim posts signed Stripe events to the billing
// webhook so checkout flows can be exercised without Stripe.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slicehub/libs/config"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

type eventArgs struct {
	ID          string
	Type        string
	Created     time.Time
	TenantID    string
	Plan        string
	AddOnOrders int
}

func main() {
	var (
		baseURL = flag.String("base-url", config.String("BASE_URL", "http://localhost:8080"), "gateway base url")
		evtType = flag.String("type", config.String("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
		tenant  = flag.String("tenant-id", config.String("TENANT_ID", ""), "tenant_id metadata")
		plan    = flag.String("plan", config.String("PLAN", "basic"), "plan metadata")
		addon   = flag.Int("addon-orders", config.Int("ADDON_ORDERS", 0), "sell an order pack instead of a plan")
		secret  = flag.String("secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*tenant) == "" {
		fatal("TENANT_ID is required")
	}

	now := time.Now().UTC()
	payload, err := buildEventJSON(eventArgs{
		ID:          fmt.Sprintf("evt_test_%d", now.UnixNano()),
		Type:        *evtType,
		Created:     now,
		TenantID:    *tenant,
		Plan:        *plan,
		AddOnOrders: *addon,
	})
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    *secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	fmt.Printf("status=%d\n", resp.StatusCode)
}

func buildEventJSON(a eventArgs) ([]byte, error) {
	var object map[string]any
	switch a.Type {
	case "checkout.session.completed", "checkout.session.expired":
		metadata := map[string]any{"tenant_id": a.TenantID, "purpose": "plan", "plan": a.Plan}
		if a.AddOnOrders > 0 {
			metadata = map[string]any{
				"tenant_id":    a.TenantID,
				"purpose":      "addon",
				"addon_orders": strconv.Itoa(a.AddOnOrders),
			}
		}
		object = map[string]any{
			"id":       "cs_test_" + strconv.FormatInt(a.Created.UnixNano(), 36),
			"object":   "checkout.session",
			"metadata": metadata,
		}
	case "customer.subscription.updated", "customer.subscription.created", "customer.subscription.deleted":
		status := "active"
		if a.Type == "customer.subscription.deleted" {
			status = "canceled"
		}
		object = map[string]any{
			"id":     "sub_test_" + a.TenantID,
			"object": "subscription",
			"status": status,
			"metadata": map[string]any{
				"tenant_id": a.TenantID,
				"plan":      a.Plan,
			},
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", a.Type)
	}

	return json.Marshal(map[string]any{
		"id":          a.ID,
		"object":      "event",
		"created":     a.Created.Unix(),
		"type":        a.Type,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": object},
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
