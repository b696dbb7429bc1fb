package model

import "time"

// BillingEventAction is the internal state transition a billing event maps to.
type BillingEventAction string

const (
	// ActionUpsert overwrites the subscription snapshot (created/active/updated).
	ActionUpsert BillingEventAction = "upsert"
	// ActionUncancel overwrites the snapshot and clears a pending cancellation.
	ActionUncancel BillingEventAction = "uncancel"
	// ActionCancelAtPeriodEnd marks the record for end-of-period cancellation;
	// access remains until the period ends.
	ActionCancelAtPeriodEnd BillingEventAction = "cancel_at_period_end"
	// ActionRevoke immediately terminates the subscription and clears features.
	ActionRevoke BillingEventAction = "revoke"
	// ActionClear wipes the record after the provider confirmed no
	// subscription exists upstream.
	ActionClear BillingEventAction = "clear"
)

// BillingEvent is the normalized internal shape every provider adapter
// produces. The idempotency ledger and the state machine operate only on
// this struct, never on provider payloads.
type BillingEvent struct {
	Provider     string
	EventID      string
	Type         string
	Action       BillingEventAction
	SubscriberID string
	Status       SubscriptionStatus
	UpdatedAtMs  int64
	Snapshot     *SubscriptionSnapshot
}

// ProcessedWebhookEvent is one row of the idempotency ledger. The key is
// unique; a second event carrying the same key is a no-op duplicate.
type ProcessedWebhookEvent struct {
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key"`
	Provider       string    `db:"provider" json:"provider"`
	EventType      string    `db:"event_type" json:"event_type"`
	ProcessedAt    time.Time `db:"processed_at" json:"processed_at"`
}
