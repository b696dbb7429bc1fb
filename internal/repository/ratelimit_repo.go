package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forge/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitRepository persists per-(subscriber, operation) window state.
// The store guarantees per-key atomicity of single-row writes; concurrent
// enforce calls on the same key are last-writer-wins, which can exceed a
// limit by a small margin under a true race. Accepted trade-off.
type RateLimitRepository interface {
	// GetState returns the current window state, or nil for a never-seen key.
	GetState(ctx context.Context, subscriberID, operation string) (*model.RateLimitState, error)
	// PutState upserts the whole state row for its (subscriber, operation) key.
	PutState(ctx context.Context, st *model.RateLimitState) error
	// DeleteStatesBefore removes rows whose window started before the cutoff.
	DeleteStatesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// AggregateUsageSince sums accepted requests, tokens, and cost across all
	// of the subscriber's operations whose window started at or after since.
	AggregateUsageSince(ctx context.Context, subscriberID string, since time.Time) (model.UsageWindow, error)
}

type rateLimitRepo struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepo(pool *pgxpool.Pool) RateLimitRepository {
	return &rateLimitRepo{pool: pool}
}

func (r *rateLimitRepo) GetState(ctx context.Context, subscriberID, operation string) (*model.RateLimitState, error) {
	const q = `
        SELECT subscriber_id, operation, request_count, total_cost, tokens_consumed, window_start, last_request_at
        FROM rate_limit_states
        WHERE subscriber_id = $1 AND operation = $2
    `
	var st model.RateLimitState
	err := r.pool.QueryRow(ctx, q, subscriberID, operation).Scan(
		&st.SubscriberID,
		&st.Operation,
		&st.RequestCount,
		&st.TotalCost,
		&st.TokensConsumed,
		&st.WindowStart,
		&st.LastRequestAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit state %s/%s: %w", subscriberID, operation, err)
	}
	return &st, nil
}

func (r *rateLimitRepo) PutState(ctx context.Context, st *model.RateLimitState) error {
	const q = `
        INSERT INTO rate_limit_states (subscriber_id, operation, request_count, total_cost, tokens_consumed, window_start, last_request_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (subscriber_id, operation) DO UPDATE
        SET request_count = EXCLUDED.request_count,
            total_cost = EXCLUDED.total_cost,
            tokens_consumed = EXCLUDED.tokens_consumed,
            window_start = EXCLUDED.window_start,
            last_request_at = EXCLUDED.last_request_at;
    `
	_, err := r.pool.Exec(ctx, q,
		st.SubscriberID,
		st.Operation,
		st.RequestCount,
		st.TotalCost,
		st.TokensConsumed,
		st.WindowStart,
		st.LastRequestAt,
	)
	if err != nil {
		return fmt.Errorf("upsert rate limit state %s/%s: %w", st.SubscriberID, st.Operation, err)
	}
	return nil
}

func (r *rateLimitRepo) DeleteStatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM rate_limit_states WHERE window_start < $1`
	tag, err := r.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune rate limit states: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *rateLimitRepo) AggregateUsageSince(ctx context.Context, subscriberID string, since time.Time) (model.UsageWindow, error) {
	const q = `
        SELECT COALESCE(SUM(request_count), 0),
               COALESCE(SUM(tokens_consumed), 0),
               COALESCE(SUM(total_cost), 0)
        FROM rate_limit_states
        WHERE subscriber_id = $1 AND window_start >= $2
    `
	var w model.UsageWindow
	if err := r.pool.QueryRow(ctx, q, subscriberID, since).Scan(&w.Requests, &w.Tokens, &w.Cost); err != nil {
		return model.UsageWindow{}, fmt.Errorf("aggregate usage for subscriber %s: %w", subscriberID, err)
	}
	return w, nil
}
