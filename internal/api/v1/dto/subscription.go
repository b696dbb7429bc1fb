package dto

import "time"

// SubscriptionResponseDTO is returned in API responses for the caller's subscription.
type SubscriptionResponseDTO struct {
	SubscriberID      string     `json:"subscriber_id"`
	Status            *string    `json:"status,omitempty"`
	PlanID            *string    `json:"plan_id,omitempty"`
	PlanName          *string    `json:"plan_name,omitempty"`
	PlanTier          string     `json:"plan_tier"`
	BillingPeriod     *string    `json:"billing_period,omitempty"`
	AmountCents       *int64     `json:"amount_cents,omitempty"`
	Currency          *string    `json:"currency,omitempty"`
	Features          []string   `json:"features"`
	TrialStart        *time.Time `json:"trial_start,omitempty"`
	TrialEnd          *time.Time `json:"trial_end,omitempty"`
	IsTrialActive     bool       `json:"is_trial_active"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
