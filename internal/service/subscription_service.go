package service

import (
	"context"

	"forge/internal/model"
	"forge/internal/repository"

	"github.com/rs/zerolog"
)

// SubscriptionService defines business logic methods for the reconciled
// subscription state. Mutating methods are only called by the webhook
// reconciler.
type SubscriptionService interface {
	GetSubscription(ctx context.Context, subscriberID string) (*model.Subscription, error)
	// TierFor resolves the rate-limit tier for a subscriber. Anything other
	// than a currently-active paid subscription maps to the free tier.
	TierFor(ctx context.Context, subscriberID string) (string, error)
	ApplySnapshot(ctx context.Context, subscriberID string, snap *model.SubscriptionSnapshot, eventType string) error
	MarkCancelAtPeriodEnd(ctx context.Context, subscriberID, eventType string) error
	ClearCancelAtPeriodEnd(ctx context.Context, subscriberID, eventType string) error
	Revoke(ctx context.Context, subscriberID, eventType string) error
	Clear(ctx context.Context, subscriberID string) error
}

type subscriptionService struct {
	repo   repository.SubscriptionRepository
	logger zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(repo repository.SubscriptionRepository, logger zerolog.Logger) SubscriptionService {
	return &subscriptionService{
		repo:   repo,
		logger: logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

func (s *subscriptionService) GetSubscription(ctx context.Context, subscriberID string) (*model.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, subscriberID)
	if err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to fetch subscription")
		return nil, err
	}
	return sub, nil
}

func (s *subscriptionService) TierFor(ctx context.Context, subscriberID string) (string, error) {
	sub, err := s.repo.GetSubscription(ctx, subscriberID)
	if err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to resolve tier")
		return "", err
	}
	if sub == nil || sub.Status == nil || sub.PlanTier == nil {
		return model.TierFree, nil
	}
	// Pending-cancellation subscriptions keep their tier until period end.
	if *sub.Status != model.SubscriptionStatusActive {
		return model.TierFree, nil
	}
	return *sub.PlanTier, nil
}

func (s *subscriptionService) ApplySnapshot(ctx context.Context, subscriberID string, snap *model.SubscriptionSnapshot, eventType string) error {
	if err := s.repo.UpsertSnapshot(ctx, subscriberID, snap, eventType); err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Str("event_type", eventType).Msg("Failed to upsert subscription snapshot")
		return err
	}
	return nil
}

func (s *subscriptionService) MarkCancelAtPeriodEnd(ctx context.Context, subscriberID, eventType string) error {
	if err := s.repo.SetCancelAtPeriodEnd(ctx, subscriberID, true, eventType); err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to mark pending cancellation")
		return err
	}
	return nil
}

func (s *subscriptionService) ClearCancelAtPeriodEnd(ctx context.Context, subscriberID, eventType string) error {
	if err := s.repo.SetCancelAtPeriodEnd(ctx, subscriberID, false, eventType); err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to clear pending cancellation")
		return err
	}
	return nil
}

func (s *subscriptionService) Revoke(ctx context.Context, subscriberID, eventType string) error {
	if err := s.repo.Revoke(ctx, subscriberID, eventType); err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to revoke subscription")
		return err
	}
	return nil
}

func (s *subscriptionService) Clear(ctx context.Context, subscriberID string) error {
	if err := s.repo.Clear(ctx, subscriberID); err != nil {
		s.logger.Error().Err(err).Str("subscriber_id", subscriberID).Msg("Failed to clear subscription record")
		return err
	}
	return nil
}
