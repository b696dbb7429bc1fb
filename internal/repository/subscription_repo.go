package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"forge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SubscriptionRepository persists the reconciled billing state. All writes
// come from the webhook reconciler; handlers only read.
type SubscriptionRepository interface {
	GetSubscription(ctx context.Context, subscriberID string) (*model.Subscription, error)
	UpsertSnapshot(ctx context.Context, subscriberID string, snap *model.SubscriptionSnapshot, eventType string) error
	SetCancelAtPeriodEnd(ctx context.Context, subscriberID string, pending bool, eventType string) error
	Revoke(ctx context.Context, subscriberID, eventType string) error
	Clear(ctx context.Context, subscriberID string) error
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

func (r *subscriptionRepo) GetSubscription(ctx context.Context, subscriberID string) (*model.Subscription, error) {
	const q = `
        SELECT subscriber_id, external_subscription_id, external_subscription_item_id, status,
               plan_id, plan_name, plan_tier, billing_period, amount_cents, currency, features,
               trial_start, trial_end, is_trial_active, cancel_at_period_end, last_event_type,
               created_at, updated_at
        FROM subscriptions
        WHERE subscriber_id = $1
    `
	var s model.Subscription
	var rawFeatures []byte
	err := r.pool.QueryRow(ctx, q, subscriberID).Scan(
		&s.SubscriberID,
		&s.ExternalID,
		&s.ExternalItemID,
		&s.Status,
		&s.PlanID,
		&s.PlanName,
		&s.PlanTier,
		&s.BillingPeriod,
		&s.AmountCents,
		&s.Currency,
		&rawFeatures,
		&s.TrialStart,
		&s.TrialEnd,
		&s.IsTrialActive,
		&s.CancelAtPeriodEnd,
		&s.LastEventType,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch subscription for subscriber %s: %w", subscriberID, err)
	}
	if err := json.Unmarshal(rawFeatures, &s.Features); err != nil {
		return nil, fmt.Errorf("unmarshal features for subscriber %s: %w", subscriberID, err)
	}
	return &s, nil
}

// UpsertSnapshot overwrites the subscriber's record with the full provider
// snapshot. Last write wins; ordering is gated upstream by the idempotency
// ledger.
func (r *subscriptionRepo) UpsertSnapshot(ctx context.Context, subscriberID string, snap *model.SubscriptionSnapshot, eventType string) error {
	features := snap.Features
	if features == nil {
		features = []string{}
	}
	rawFeatures, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("marshal features for subscriber %s: %w", subscriberID, err)
	}
	const q = `
        INSERT INTO subscriptions (subscriber_id, external_subscription_id, external_subscription_item_id,
                                   status, plan_id, plan_name, plan_tier, billing_period, amount_cents,
                                   currency, features, trial_start, trial_end, is_trial_active,
                                   cancel_at_period_end, last_event_type, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NOW(), NOW())
        ON CONFLICT (subscriber_id) DO UPDATE
        SET external_subscription_id = EXCLUDED.external_subscription_id,
            external_subscription_item_id = EXCLUDED.external_subscription_item_id,
            status = EXCLUDED.status,
            plan_id = EXCLUDED.plan_id,
            plan_name = EXCLUDED.plan_name,
            plan_tier = EXCLUDED.plan_tier,
            billing_period = EXCLUDED.billing_period,
            amount_cents = EXCLUDED.amount_cents,
            currency = EXCLUDED.currency,
            features = EXCLUDED.features,
            trial_start = EXCLUDED.trial_start,
            trial_end = EXCLUDED.trial_end,
            is_trial_active = EXCLUDED.is_trial_active,
            cancel_at_period_end = EXCLUDED.cancel_at_period_end,
            last_event_type = EXCLUDED.last_event_type,
            updated_at = NOW();
    `
	_, err = r.pool.Exec(ctx, q,
		subscriberID,
		snap.ExternalID,
		snap.ExternalItemID,
		snap.Status,
		snap.PlanID,
		snap.PlanName,
		snap.PlanTier,
		snap.BillingPeriod,
		snap.AmountCents,
		snap.Currency,
		rawFeatures,
		snap.TrialStart,
		snap.TrialEnd,
		snap.IsTrialActive,
		snap.CancelAtPeriodEnd,
		eventType,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription for subscriber %s: %w", subscriberID, err)
	}
	return nil
}

// SetCancelAtPeriodEnd flips the pending-cancellation marker without touching
// the rest of the snapshot; the record stays active until the period ends.
func (r *subscriptionRepo) SetCancelAtPeriodEnd(ctx context.Context, subscriberID string, pending bool, eventType string) error {
	const q = `
        UPDATE subscriptions
        SET cancel_at_period_end = $2, last_event_type = $3, updated_at = NOW()
        WHERE subscriber_id = $1
    `
	if _, err := r.pool.Exec(ctx, q, subscriberID, pending, eventType); err != nil {
		return fmt.Errorf("set cancel_at_period_end for subscriber %s: %w", subscriberID, err)
	}
	return nil
}

// Revoke terminates access immediately: terminal status, no granted features.
func (r *subscriptionRepo) Revoke(ctx context.Context, subscriberID, eventType string) error {
	const q = `
        UPDATE subscriptions
        SET status = 'canceled',
            features = '[]'::jsonb,
            is_trial_active = FALSE,
            cancel_at_period_end = FALSE,
            last_event_type = $2,
            updated_at = NOW()
        WHERE subscriber_id = $1
    `
	if _, err := r.pool.Exec(ctx, q, subscriberID, eventType); err != nil {
		return fmt.Errorf("revoke subscription for subscriber %s: %w", subscriberID, err)
	}
	return nil
}

// Clear nulls the record out after the provider confirmed no subscription
// exists upstream. The row itself survives; hard deletion only happens on
// account deletion.
func (r *subscriptionRepo) Clear(ctx context.Context, subscriberID string) error {
	const q = `
        UPDATE subscriptions
        SET external_subscription_id = NULL,
            external_subscription_item_id = NULL,
            status = NULL,
            plan_id = NULL,
            plan_name = NULL,
            plan_tier = NULL,
            billing_period = NULL,
            amount_cents = NULL,
            currency = NULL,
            features = '[]'::jsonb,
            trial_start = NULL,
            trial_end = NULL,
            is_trial_active = FALSE,
            cancel_at_period_end = FALSE,
            updated_at = NOW()
        WHERE subscriber_id = $1
    `
	if _, err := r.pool.Exec(ctx, q, subscriberID); err != nil {
		return fmt.Errorf("clear subscription for subscriber %s: %w", subscriberID, err)
	}
	return nil
}
