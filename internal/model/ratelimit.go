package model

import "time"

// Subscription tiers. Tier configuration is data, not code: a closed table
// below, with unknown tier names falling back to the most restrictive tier.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// TierLimits holds the rate-limit parameters for one subscription tier.
// CostLimit is nil for tiers with no dollar ceiling.
type TierLimits struct {
	WindowDuration time.Duration
	MaxRequests    int
	BurstAllowance int
	CostLimit      *float64
}

func costLimit(v float64) *float64 { return &v }

var tierLimits = map[string]TierLimits{
	TierFree: {
		WindowDuration: time.Minute,
		MaxRequests:    5,
		BurstAllowance: 5,
		CostLimit:      costLimit(0.10),
	},
	TierPro: {
		WindowDuration: time.Minute,
		MaxRequests:    60,
		BurstAllowance: 10,
		CostLimit:      costLimit(2.00),
	},
	TierEnterprise: {
		WindowDuration: time.Minute,
		MaxRequests:    600,
		BurstAllowance: 100,
		CostLimit:      nil,
	},
}

// LimitsForTier returns the limits for a tier name. Unknown tiers get the
// free tier's limits; a bad input must never resolve to an unrestricted tier.
func LimitsForTier(tier string) TierLimits {
	if l, ok := tierLimits[tier]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// RateLimitState tracks one (subscriber, operation) pair inside the current
// fixed accounting window. Reset wholesale when the window expires, purged by
// the retention sweep once the window start is older than the horizon.
type RateLimitState struct {
	SubscriberID   string    `db:"subscriber_id" json:"subscriber_id"`
	Operation      string    `db:"operation" json:"operation"`
	RequestCount   int       `db:"request_count" json:"request_count"`
	TotalCost      float64   `db:"total_cost" json:"total_cost"`
	TokensConsumed int64     `db:"tokens_consumed" json:"tokens_consumed"`
	WindowStart    time.Time `db:"window_start" json:"window_start"`
	LastRequestAt  time.Time `db:"last_request_at" json:"last_request_at"`
}

// RateLimitDecision is the read-only answer from a pre-flight check.
type RateLimitDecision struct {
	Allowed       bool      `json:"allowed"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	CostRemaining *float64  `json:"cost_remaining,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// UsageWindow aggregates accepted requests across all operations for one
// subscriber within a lookback period.
type UsageWindow struct {
	Requests int     `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// UsageStats buckets usage by whether the record's window falls within the
// last hour / last 24 hours.
type UsageStats struct {
	Hourly UsageWindow `json:"hourly"`
	Daily  UsageWindow `json:"daily"`
}
