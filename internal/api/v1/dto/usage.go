package dto

import "time"

// UsageWindowDTO aggregates accepted requests over a lookback period.
type UsageWindowDTO struct {
	Requests int     `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// UsageStatsResponseDTO is returned for usage statistics requests.
type UsageStatsResponseDTO struct {
	Hourly UsageWindowDTO `json:"hourly"`
	Daily  UsageWindowDTO `json:"daily"`
}

// UsageCheckResponseDTO is the read-only pre-flight answer for the current window.
type UsageCheckResponseDTO struct {
	Allowed       bool      `json:"allowed"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	CostRemaining *float64  `json:"cost_remaining,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}
