package model

import "time"

// SubscriptionStatus is the internal subscription state, driven only by
// reconciled billing webhook events.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// Subscription is the persisted billing state for a subscriber. At most one
// record exists per subscriber; status transitions come from the webhook
// reconciler, never from client-initiated writes.
type Subscription struct {
	SubscriberID       string              `db:"subscriber_id" json:"subscriber_id"`
	ExternalID         *string             `db:"external_subscription_id" json:"external_subscription_id,omitempty"`
	ExternalItemID     *string             `db:"external_subscription_item_id" json:"external_subscription_item_id,omitempty"`
	Status             *SubscriptionStatus `db:"status" json:"status,omitempty"`
	PlanID             *string             `db:"plan_id" json:"plan_id,omitempty"`
	PlanName           *string             `db:"plan_name" json:"plan_name,omitempty"`
	PlanTier           *string             `db:"plan_tier" json:"plan_tier,omitempty"`
	BillingPeriod      *string             `db:"billing_period" json:"billing_period,omitempty"`
	AmountCents        *int64              `db:"amount_cents" json:"amount_cents,omitempty"`
	Currency           *string             `db:"currency" json:"currency,omitempty"`
	Features           []string            `db:"features" json:"features"`
	TrialStart         *time.Time          `db:"trial_start" json:"trial_start,omitempty"`
	TrialEnd           *time.Time          `db:"trial_end" json:"trial_end,omitempty"`
	IsTrialActive      bool                `db:"is_trial_active" json:"is_trial_active"`
	CancelAtPeriodEnd  bool                `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	LastEventType      *string             `db:"last_event_type" json:"last_event_type,omitempty"`
	CreatedAt          time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at" json:"updated_at"`
}

// SubscriptionSnapshot is the full provider-side view of a subscription as
// extracted from one billing event. Upserts overwrite the prior snapshot
// unconditionally; arrival order wins, gated by the idempotency ledger.
type SubscriptionSnapshot struct {
	ExternalID        string
	ExternalItemID    string
	Status            SubscriptionStatus
	PlanID            string
	PlanName          string
	PlanTier          string
	BillingPeriod     string
	AmountCents       int64
	Currency          string
	Features          []string
	TrialStart        *time.Time
	TrialEnd          *time.Time
	IsTrialActive     bool
	CancelAtPeriodEnd bool
}
