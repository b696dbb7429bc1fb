package service

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"forge/internal/model"
	"forge/internal/util"
)

// clerkEvent is the outer envelope of a Clerk billing webhook (svix family).
type clerkEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type clerkSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	UserID string `json:"user_id"`
	Payer  *struct {
		UserID string `json:"user_id"`
	} `json:"payer"`
	UpdatedAt  any  `json:"updated_at"`
	CreatedAt  any  `json:"created_at"`
	TrialStart any  `json:"trial_start"`
	TrialEnd   any  `json:"trial_end"`
	IsTrial    bool `json:"is_trial"`
	Items      []struct {
		ID     string     `json:"id"`
		Status string     `json:"status"`
		Plan   *clerkPlan `json:"plan"`
	} `json:"items"`
}

type clerkPlan struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Period   string `json:"period"`
	Features []struct {
		Slug string `json:"slug"`
	} `json:"features"`
}

// HandleClerkWebhook processes Clerk billing events delivered with svix
// signatures.
//
// Identity discipline for Clerk: the subscription fanout includes shapes we
// do not control and events without a payer are expected, so an unresolvable
// identity is logged and acknowledged rather than failed; the next delivery
// with a payer converges the state.
func (s *WebhookService) HandleClerkWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Clerk webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	msgID := r.Header.Get("svix-id")
	msgTimestamp := r.Header.Get("svix-timestamp")
	msgSignature := r.Header.Get("svix-signature")
	if msgID == "" || msgTimestamp == "" || msgSignature == "" {
		s.logger.Warn().Msg("Clerk webhook missing svix headers")
		http.Error(w, "missing signature headers", http.StatusBadRequest)
		return
	}
	if !util.VerifySvixSignature(msgID, msgTimestamp, payload, msgSignature, s.cfg.ClerkWebhookSecret) {
		s.logger.Error().Str("svix_id", msgID).Msg("Signature verification failed for Clerk webhook")
		http.Error(w, "signature verification failed", http.StatusUnauthorized)
		return
	}

	var event clerkEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Error().Err(err).Msg("Invalid Clerk event payload")
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	s.logger.Info().Str("event_type", event.Type).Str("svix_id", msgID).Msg("Clerk webhook received")

	if !strings.HasPrefix(event.Type, "subscription.") {
		s.logger.Debug().Str("event_type", event.Type).Msg("Ignoring non-subscription Clerk event")
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := s.normalizeClerkEvent(&event, msgID)
	if ev == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := s.process(r.Context(), ev); err != nil {
		s.logger.Error().Err(err).Str("svix_id", msgID).Msg("Failed to apply Clerk event")
		http.Error(w, "failed to apply event", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// normalizeClerkEvent maps a Clerk subscription event to the internal
// BillingEvent. Returns nil when the event should be acknowledged without
// processing (unknown subtype, unresolvable payer).
func (s *WebhookService) normalizeClerkEvent(event *clerkEvent, msgID string) *model.BillingEvent {
	var sub clerkSubscription
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		s.logger.Warn().Err(err).Str("event_type", event.Type).Msg("Malformed Clerk subscription payload, acknowledging without processing")
		return nil
	}

	subscriberID := sub.UserID
	if subscriberID == "" && sub.Payer != nil {
		subscriberID = sub.Payer.UserID
	}
	if subscriberID == "" {
		s.logger.Warn().Str("event_type", event.Type).Str("subscription_id", sub.ID).Msg("Clerk event has no payer identity, acknowledging without processing")
		return nil
	}

	eventID := sub.ID
	if eventID == "" {
		eventID = msgID
	}

	ev := &model.BillingEvent{
		Provider:     "clerk",
		EventID:      eventID,
		Type:         event.Type,
		SubscriberID: subscriberID,
		Status:       mapClerkStatus(sub.Status),
		UpdatedAtMs:  util.NormalizeTimestamp(sub.UpdatedAt, s.now()),
	}

	switch strings.TrimPrefix(event.Type, "subscription.") {
	case "created", "updated", "active", "past_due":
		ev.Action = model.ActionUpsert
		ev.Snapshot = snapshotFromClerk(&sub)
	case "uncanceled":
		ev.Action = model.ActionUncancel
		ev.Snapshot = snapshotFromClerk(&sub)
	case "canceled":
		ev.Action = model.ActionCancelAtPeriodEnd
	case "revoked":
		ev.Action = model.ActionRevoke
	default:
		s.logger.Debug().Str("event_type", event.Type).Msg("Ignoring unhandled Clerk subscription subtype")
		return nil
	}
	return ev
}

func snapshotFromClerk(sub *clerkSubscription) *model.SubscriptionSnapshot {
	snap := &model.SubscriptionSnapshot{
		ExternalID:    sub.ID,
		Status:        mapClerkStatus(sub.Status),
		IsTrialActive: sub.IsTrial,
		Features:      []string{},
	}
	if ts := parseClerkTime(sub.TrialStart); ts != nil {
		snap.TrialStart = ts
	}
	if te := parseClerkTime(sub.TrialEnd); te != nil {
		snap.TrialEnd = te
	}
	for _, item := range sub.Items {
		if item.Plan == nil {
			continue
		}
		snap.ExternalItemID = item.ID
		snap.PlanID = item.Plan.ID
		snap.PlanName = item.Plan.Name
		snap.PlanTier = planTierFromClerkSlug(item.Plan.Slug, item.Plan.Amount)
		snap.AmountCents = item.Plan.Amount
		snap.Currency = item.Plan.Currency
		snap.BillingPeriod = item.Plan.Period
		for _, f := range item.Plan.Features {
			if f.Slug != "" {
				snap.Features = append(snap.Features, f.Slug)
			}
		}
		break
	}
	return snap
}

func mapClerkStatus(status string) model.SubscriptionStatus {
	switch status {
	case "active":
		return model.SubscriptionStatusActive
	case "past_due":
		return model.SubscriptionStatusPastDue
	case "canceled", "ended":
		return model.SubscriptionStatusCanceled
	case "unpaid":
		return model.SubscriptionStatusUnpaid
	default:
		return model.SubscriptionStatusIncomplete
	}
}

func planTierFromClerkSlug(slug string, amount int64) string {
	lower := strings.ToLower(slug)
	switch {
	case strings.Contains(lower, "enterprise"), strings.Contains(lower, "team"):
		return model.TierEnterprise
	case strings.Contains(lower, "pro"):
		return model.TierPro
	case amount > 0:
		return model.TierPro
	default:
		return model.TierFree
	}
}

func parseClerkTime(v any) *time.Time {
	if v == nil {
		return nil
	}
	// Reuse the shared normalization; a zero value means absent.
	ms := util.NormalizeTimestamp(v, time.Time{})
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
