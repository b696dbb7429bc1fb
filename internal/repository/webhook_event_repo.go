package repository

import (
	"context"
	"fmt"
	"time"

	"forge/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepository is the idempotency ledger for billing webhooks.
type WebhookEventRepository interface {
	// MarkProcessed records the event's idempotency key. Returns false when
	// the key was already present, i.e. the event is a duplicate delivery.
	MarkProcessed(ctx context.Context, ev *model.ProcessedWebhookEvent) (bool, error)
	// DeleteProcessedBefore prunes ledger entries older than the cutoff.
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type webhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepo(pool *pgxpool.Pool) WebhookEventRepository {
	return &webhookEventRepo{pool: pool}
}

// MarkProcessed relies on the primary key for atomic dedup: concurrent
// deliveries of the same event race on the insert and exactly one wins.
func (r *webhookEventRepo) MarkProcessed(ctx context.Context, ev *model.ProcessedWebhookEvent) (bool, error) {
	const q = `
        INSERT INTO processed_webhook_events (idempotency_key, provider, event_type, processed_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (idempotency_key) DO NOTHING
    `
	tag, err := r.pool.Exec(ctx, q, ev.IdempotencyKey, ev.Provider, ev.EventType)
	if err != nil {
		return false, fmt.Errorf("record webhook event %s: %w", ev.IdempotencyKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *webhookEventRepo) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM processed_webhook_events WHERE processed_at < $1`
	tag, err := r.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune processed webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}
