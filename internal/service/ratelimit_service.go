package service

import (
	"context"
	"fmt"
	"time"

	"forge/internal/model"
	"forge/internal/repository"

	"github.com/rs/zerolog"
)

// LimitKind identifies which ceiling an admission denial hit.
type LimitKind string

const (
	LimitKindCount LimitKind = "count_exceeded"
	LimitKindCost  LimitKind = "cost_exceeded"
	LimitKindBurst LimitKind = "burst_exceeded"
)

// RateLimitError is the typed admission-denied failure. It carries enough
// structure for a caller to render "try again at <time>".
type RateLimitError struct {
	Kind          LimitKind
	Operation     string
	ResetAt       time.Time
	RetryAfter    time.Duration
	Remaining     int
	CostRemaining float64
	Detail        string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%s) for %s: %s", e.Kind, e.Operation, e.Detail)
}

// RateLimitRetention is how long expired window state is kept before the
// periodic sweep removes it, independent of tier.
const RateLimitRetention = time.Hour

// RateLimitService is the usage governor: admission control for costed AI
// operations, per subscriber and operation, tiered by subscription plan.
type RateLimitService interface {
	// CheckAllowed is the read-only pre-flight decision; it never mutates state.
	CheckAllowed(ctx context.Context, subscriberID, operation, tier string, estimatedCost float64) (*model.RateLimitDecision, error)
	// Enforce is the authoritative gate, called immediately before the costed
	// operation. It records the attempt as consumed only when admitted and
	// fails with *RateLimitError otherwise.
	Enforce(ctx context.Context, subscriberID, operation, tier string, opts EnforceOptions) error
	// GetUsageStats aggregates accepted usage across all operations.
	GetUsageStats(ctx context.Context, subscriberID string) (*model.UsageStats, error)
	// Cleanup deletes state whose window started before the retention
	// horizon and returns the number of rows removed.
	Cleanup(ctx context.Context) (int64, error)
}

// EnforceOptions carries the per-request cost estimate and token count.
type EnforceOptions struct {
	EstimatedCost float64
	Tokens        int64
}

type rateLimitService struct {
	repo      repository.RateLimitRepository
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewRateLimitService creates a RateLimitService with a scoped logger.
func NewRateLimitService(repo repository.RateLimitRepository, logger zerolog.Logger) RateLimitService {
	return &rateLimitService{
		repo:      repo,
		retention: RateLimitRetention,
		logger:    logger.With().Str("service", "RateLimitService").Logger(),
		now:       time.Now,
	}
}

func (s *rateLimitService) CheckAllowed(ctx context.Context, subscriberID, operation, tier string, estimatedCost float64) (*model.RateLimitDecision, error) {
	limits := model.LimitsForTier(tier)
	now := s.now()

	st, err := s.repo.GetState(ctx, subscriberID, operation)
	if err != nil {
		return nil, err
	}

	// Fresh key or expired window: decide against an empty window so a
	// single request estimated above the tier's cost ceiling is still
	// reported as denied.
	if st == nil || now.Sub(st.WindowStart) > limits.WindowDuration {
		st = &model.RateLimitState{
			SubscriberID:  subscriberID,
			Operation:     operation,
			WindowStart:   now,
			LastRequestAt: now,
		}
	}

	resetAt := st.WindowStart.Add(limits.WindowDuration)
	if denied := s.evaluate(st, limits, operation, estimatedCost, now); denied != nil {
		d := &model.RateLimitDecision{
			Allowed:   false,
			Remaining: max(limits.MaxRequests-st.RequestCount, 0),
			ResetAt:   resetAt,
			Reason:    denied.Detail,
		}
		if limits.CostLimit != nil {
			remaining := max(*limits.CostLimit-st.TotalCost, 0)
			d.CostRemaining = &remaining
		}
		return d, nil
	}

	d := &model.RateLimitDecision{
		Allowed:   true,
		Remaining: limits.MaxRequests - st.RequestCount - 1,
		ResetAt:   resetAt,
	}
	if limits.CostLimit != nil {
		remaining := *limits.CostLimit - st.TotalCost - estimatedCost
		d.CostRemaining = &remaining
	}
	return d, nil
}

func (s *rateLimitService) Enforce(ctx context.Context, subscriberID, operation, tier string, opts EnforceOptions) error {
	limits := model.LimitsForTier(tier)
	now := s.now()

	st, err := s.repo.GetState(ctx, subscriberID, operation)
	if err != nil {
		return err
	}

	// First request for a never-seen key, or the window expired: start a
	// fresh window. Count and spacing reset with the window, but the cost
	// ceiling is absolute, so a single request estimated above it is
	// refused rather than admitted into the new window.
	if st == nil || now.Sub(st.WindowStart) > limits.WindowDuration {
		st = &model.RateLimitState{
			SubscriberID:  subscriberID,
			Operation:     operation,
			WindowStart:   now,
			LastRequestAt: now,
		}
	}

	if denied := s.evaluate(st, limits, operation, opts.EstimatedCost, now); denied != nil {
		s.logger.Warn().
			Str("subscriber_id", subscriberID).
			Str("operation", operation).
			Str("tier", tier).
			Str("kind", string(denied.Kind)).
			Time("reset_at", denied.ResetAt).
			Msg("Request denied by rate limiter")
		return denied
	}

	st.RequestCount++
	st.TotalCost += opts.EstimatedCost
	st.TokensConsumed += opts.Tokens
	st.LastRequestAt = now
	return s.repo.PutState(ctx, st)
}

// evaluate applies the ceilings in order: request count, then cost, then
// burst spacing. Returns nil when the request is admissible.
func (s *rateLimitService) evaluate(st *model.RateLimitState, limits model.TierLimits, operation string, estimatedCost float64, now time.Time) *RateLimitError {
	resetAt := st.WindowStart.Add(limits.WindowDuration)

	if st.RequestCount >= limits.MaxRequests {
		return &RateLimitError{
			Kind:       LimitKindCount,
			Operation:  operation,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
			Remaining:  0,
			Detail:     fmt.Sprintf("request limit of %d reached for this window", limits.MaxRequests),
		}
	}

	if limits.CostLimit != nil && st.TotalCost+estimatedCost > *limits.CostLimit {
		remaining := max(*limits.CostLimit-st.TotalCost, 0)
		return &RateLimitError{
			Kind:          LimitKindCost,
			Operation:     operation,
			ResetAt:       resetAt,
			RetryAfter:    resetAt.Sub(now),
			Remaining:     limits.MaxRequests - st.RequestCount,
			CostRemaining: remaining,
			Detail:        fmt.Sprintf("cost limit of $%.2f would be exceeded ($%.4f remaining)", *limits.CostLimit, remaining),
		}
	}

	if limits.BurstAllowance > 0 && st.RequestCount > limits.BurstAllowance {
		minInterval := limits.WindowDuration / time.Duration(limits.MaxRequests)
		if elapsed := now.Sub(st.LastRequestAt); elapsed < minInterval {
			wait := minInterval - elapsed
			return &RateLimitError{
				Kind:       LimitKindBurst,
				Operation:  operation,
				ResetAt:    now.Add(wait),
				RetryAfter: wait,
				Remaining:  limits.MaxRequests - st.RequestCount,
				Detail:     fmt.Sprintf("requests arriving too quickly, wait %s", wait.Round(time.Millisecond)),
			}
		}
	}

	return nil
}

func (s *rateLimitService) GetUsageStats(ctx context.Context, subscriberID string) (*model.UsageStats, error) {
	now := s.now()
	hourly, err := s.repo.AggregateUsageSince(ctx, subscriberID, now.Add(-time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to aggregate hourly usage")
		return nil, err
	}
	daily, err := s.repo.AggregateUsageSince(ctx, subscriberID, now.Add(-24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to aggregate daily usage")
		return nil, err
	}
	return &model.UsageStats{Hourly: hourly, Daily: daily}, nil
}

// Cleanup is safe to run concurrently with live traffic: it only removes
// rows whose window is already expired and past the retention horizon, which
// no in-flight enforce call treats as current.
func (s *rateLimitService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.repo.DeleteStatesBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Retention sweep failed")
		return 0, err
	}
	s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Rate limit retention sweep completed")
	return deleted, nil
}
