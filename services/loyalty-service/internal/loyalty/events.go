package loyalty

const (
	EventPointsCredited = "loyalty.points.credited.v1"
	EventTierChanged    = "loyalty.tier.changed.v1"
)

// Event is emitted by a mutation and persisted with it when the store
// supports an outbox.
type Event struct {
	Type     string
	TenantID string
	Customer string
	Payload  any
}

type PointsCreditedPayload struct {
	TenantID string `json:"tenant_id"`
	Customer string `json:"customer"`
	Reason   Reason `json:"reason"`
	Points   int    `json:"points"`
	Balance  int    `json:"balance"`
	Tier     string `json:"tier"`
}

type TierChangedPayload struct {
	TenantID string `json:"tenant_id"`
	Customer string `json:"customer"`
	From     string `json:"from"`
	To       string `json:"to"`
	Points   int    `json:"points"`
}
