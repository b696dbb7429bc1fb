package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"forge/internal/config"
	"forge/internal/model"
	"forge/internal/pubsub"
	"forge/internal/repository"
	"forge/internal/util"

	"github.com/rs/zerolog"
)

// ErrIdentityUnresolvable means a billing event that requires a subscriber
// identity arrived without one we can map to a user.
var ErrIdentityUnresolvable = errors.New("cannot resolve subscriber identity from billing event")

// WebhookLedgerRetention is how long idempotency ledger entries are kept.
// Providers stop redelivering an event long before this, so a pruned entry
// is never needed for duplicate detection again.
const WebhookLedgerRetention = 30 * 24 * time.Hour

// WebhookService reconciles signed billing provider events into the internal
// subscription state. Verification, normalization, and the idempotency
// ledger all happen here; provider adapters live in stripe_webhook.go and
// clerk_webhook.go.
type WebhookService struct {
	cfg       *config.Config
	userRepo  repository.UserRepository
	subSvc    SubscriptionService
	events    repository.WebhookEventRepository
	billing   BillingClient
	publisher pubsub.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewWebhookService creates the reconciler with a scoped logger. The
// publisher may be nil when event fanout is not configured.
func NewWebhookService(
	cfg *config.Config,
	userRepo repository.UserRepository,
	subSvc SubscriptionService,
	events repository.WebhookEventRepository,
	billing BillingClient,
	publisher pubsub.Publisher,
	logger zerolog.Logger,
) *WebhookService {
	return &WebhookService{
		cfg:       cfg,
		userRepo:  userRepo,
		subSvc:    subSvc,
		events:    events,
		billing:   billing,
		publisher: publisher,
		logger:    logger.With().Str("service", "WebhookService").Logger(),
		now:       time.Now,
	}
}

// process runs the shared tail of the pipeline: idempotency ledger, state
// transition, fanout. Returns duplicate=true for a replayed event.
//
// The ledger entry is written before the state change: a crash between the
// two loses one event instead of double-applying it, and the state upsert is
// idempotent anyway, so a redelivery after a post-ledger crash is harmless.
func (s *WebhookService) process(ctx context.Context, ev *model.BillingEvent) (duplicate bool, err error) {
	key := util.IdempotencyKey(ev.EventID, string(ev.Status), ev.UpdatedAtMs)
	inserted, err := s.events.MarkProcessed(ctx, &model.ProcessedWebhookEvent{
		IdempotencyKey: key,
		Provider:       ev.Provider,
		EventType:      ev.Type,
	})
	if err != nil {
		return false, err
	}
	if !inserted {
		s.logger.Info().
			Str("provider", ev.Provider).
			Str("event_type", ev.Type).
			Str("idempotency_key", key).
			Msg("Duplicate webhook event, skipping")
		return true, nil
	}

	if err := s.apply(ctx, ev); err != nil {
		return false, err
	}

	s.publishFanout(ctx, ev)
	return false, nil
}

func (s *WebhookService) apply(ctx context.Context, ev *model.BillingEvent) error {
	switch ev.Action {
	case model.ActionUpsert:
		return s.subSvc.ApplySnapshot(ctx, ev.SubscriberID, ev.Snapshot, ev.Type)
	case model.ActionUncancel:
		if err := s.subSvc.ApplySnapshot(ctx, ev.SubscriberID, ev.Snapshot, ev.Type); err != nil {
			return err
		}
		return s.subSvc.ClearCancelAtPeriodEnd(ctx, ev.SubscriberID, ev.Type)
	case model.ActionCancelAtPeriodEnd:
		return s.subSvc.MarkCancelAtPeriodEnd(ctx, ev.SubscriberID, ev.Type)
	case model.ActionRevoke:
		return s.subSvc.Revoke(ctx, ev.SubscriberID, ev.Type)
	case model.ActionClear:
		return s.subSvc.Clear(ctx, ev.SubscriberID)
	default:
		return fmt.Errorf("unknown billing event action: %s", ev.Action)
	}
}

// PruneLedger deletes idempotency ledger entries older than the retention
// horizon and returns the number of rows removed.
func (s *WebhookService) PruneLedger(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-WebhookLedgerRetention)
	deleted, err := s.events.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("Webhook ledger prune failed")
		return 0, err
	}
	s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("Webhook ledger prune completed")
	return deleted, nil
}

// publishFanout notifies downstream consumers of a reconciled change.
// Best-effort: a publish failure must not fail the webhook, the provider
// would only redeliver an event we already applied.
func (s *WebhookService) publishFanout(ctx context.Context, ev *model.BillingEvent) {
	if s.publisher == nil || s.cfg.BillingEventsTopic == "" {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"subscriber_id": ev.SubscriberID,
		"provider":      ev.Provider,
		"event_type":    ev.Type,
		"action":        string(ev.Action),
		"status":        string(ev.Status),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal billing event fanout payload")
		return
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.BillingEventsTopic, payload); err != nil {
		s.logger.Error().Err(err).Str("topic", s.cfg.BillingEventsTopic).Msg("Failed to publish billing event")
	}
}
