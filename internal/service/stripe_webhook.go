package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"forge/internal/model"
	"forge/internal/util"

	"github.com/stripe/stripe-go/v82"
)

// Stripe event types in the billing/subscription family. Anything else is
// acknowledged without processing to avoid provider retry storms.
var stripeHandledEvents = map[stripe.EventType]bool{
	"checkout.session.completed":    true,
	"customer.subscription.created": true,
	"customer.subscription.updated": true,
	"customer.subscription.deleted": true,
	"invoice.payment_succeeded":     true,
	"invoice.payment_failed":        true,
}

// HandleStripeWebhook processes Stripe billing events.
//
// Identity discipline for Stripe: checkout sessions carry user_id metadata we
// set ourselves and user profiles keep a billing_customer_id mapping, so an
// unresolvable identity on a subscription event is a provisioning bug and
// fails the request with 422; silently dropping a creation event would leave
// a paying user unprovisioned.
func (s *WebhookService) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		s.logger.Warn().Msg("Stripe webhook missing signature header")
		http.Error(w, "missing signature header", http.StatusBadRequest)
		return
	}
	if !verifyStripeSignature(payload, sigHeader, s.cfg.StripeWebhookSecret) {
		s.logger.Error().Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusUnauthorized)
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Error().Err(err).Msg("Invalid Stripe event payload")
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	s.logger.Info().Str("event_type", string(event.Type)).Str("event_id", event.ID).Msg("Stripe webhook received")

	if !stripeHandledEvents[event.Type] {
		s.logger.Debug().Str("event_type", string(event.Type)).Msg("Ignoring unhandled Stripe event")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	ev, err := s.normalizeStripeEvent(ctx, &event)
	if err != nil {
		if errors.Is(err, ErrIdentityUnresolvable) {
			s.logger.Error().Err(err).Str("event_id", event.ID).Msg("Cannot resolve subscriber for Stripe event")
			http.Error(w, "cannot resolve subscriber identity", http.StatusUnprocessableEntity)
			return
		}
		s.logger.Error().Err(err).Str("event_id", event.ID).Msg("Failed to normalize Stripe event")
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}
	if ev == nil {
		// Event carries nothing to reconcile (e.g. a one-time invoice).
		w.WriteHeader(http.StatusOK)
		return
	}

	if _, err := s.process(ctx, ev); err != nil {
		s.logger.Error().Err(err).Str("event_id", event.ID).Msg("Failed to apply Stripe event")
		http.Error(w, "failed to apply event", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// verifyStripeSignature checks the "t=<ts>,v1=<hex>,..." header format. The
// signed content is "<ts>.<body>"; multiple v1 entries may be present during
// secret rotation.
func verifyStripeSignature(payload []byte, header, secret string) bool {
	var timestamp string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}
	signed := append([]byte(timestamp+"."), payload...)
	for _, c := range candidates {
		if util.VerifyHMACHex(signed, c, secret) {
			return true
		}
	}
	return false
}

// normalizeStripeEvent maps a Stripe event to the internal BillingEvent.
// Returns (nil, nil) when the event is validly shaped but has nothing to
// reconcile.
func (s *WebhookService) normalizeStripeEvent(ctx context.Context, event *stripe.Event) (*model.BillingEvent, error) {
	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, err
		}
		if cs.Subscription == nil || cs.Subscription.ID == "" {
			// One-time payment checkout; nothing to reconcile.
			return nil, nil
		}
		return s.stripeEventFromSubscriptionID(ctx, event, cs.Subscription.ID, cs.Metadata, customerID(cs.Customer), "")

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var ss stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &ss); err != nil {
			return nil, err
		}
		subscriberID, err := s.resolveStripeSubscriber(ctx, ss.Metadata, customerID(ss.Customer))
		if err != nil {
			return nil, err
		}
		ev := &model.BillingEvent{
			Provider:     "stripe",
			EventID:      ss.ID,
			Type:         string(event.Type),
			SubscriberID: subscriberID,
			UpdatedAtMs:  util.NormalizeTimestamp(event.Created, s.now()),
		}
		switch {
		case event.Type == "customer.subscription.deleted":
			ev.Action = model.ActionRevoke
			ev.Status = model.SubscriptionStatusCanceled
		case ss.CancelAtPeriodEnd:
			ev.Action = model.ActionCancelAtPeriodEnd
			ev.Status = mapStripeStatus(ss.Status)
		case event.Type == "customer.subscription.updated":
			ev.Action = model.ActionUncancel
			ev.Status = mapStripeStatus(ss.Status)
			ev.Snapshot = snapshotFromStripe(&ss)
		default:
			ev.Action = model.ActionUpsert
			ev.Status = mapStripeStatus(ss.Status)
			ev.Snapshot = snapshotFromStripe(&ss)
		}
		return ev, nil

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, err
		}
		subID := subscriptionIDFromInvoice(&invoice)
		if subID == "" {
			s.logger.Info().Str("invoice_id", invoice.ID).Msg("Invoice has no subscription, skipping")
			return nil, nil
		}
		forcedStatus := model.SubscriptionStatus("")
		if event.Type == "invoice.payment_failed" {
			forcedStatus = model.SubscriptionStatusPastDue
		}
		return s.stripeEventFromSubscriptionID(ctx, event, subID, invoice.Metadata, customerID(invoice.Customer), forcedStatus)

	default:
		return nil, nil
	}
}

// stripeEventFromSubscriptionID fetches the authoritative subscription from
// the provider and builds an upsert event from it. A confirmed 404 clears
// the subscriber's record instead.
func (s *WebhookService) stripeEventFromSubscriptionID(ctx context.Context, event *stripe.Event, subID string, metadata map[string]string, custID string, forcedStatus model.SubscriptionStatus) (*model.BillingEvent, error) {
	sub, err := s.billing.GetSubscription(ctx, subID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		subscriberID, rerr := s.resolveStripeSubscriber(ctx, metadata, custID)
		if rerr != nil {
			return nil, rerr
		}
		s.logger.Warn().Str("subscription_id", subID).Str("subscriber_id", subscriberID).Msg("Subscription gone upstream, clearing record")
		return &model.BillingEvent{
			Provider:     "stripe",
			EventID:      subID,
			Type:         string(event.Type),
			Action:       model.ActionClear,
			SubscriberID: subscriberID,
			Status:       model.SubscriptionStatusCanceled,
			UpdatedAtMs:  util.NormalizeTimestamp(event.Created, s.now()),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	// Prefer metadata from the authoritative object, fall back to the event's.
	subscriberID, err := s.resolveStripeSubscriber(ctx, sub.Metadata, customerID(sub.Customer))
	if errors.Is(err, ErrIdentityUnresolvable) {
		subscriberID, err = s.resolveStripeSubscriber(ctx, metadata, custID)
	}
	if err != nil {
		return nil, err
	}

	snap := snapshotFromStripe(sub)
	status := mapStripeStatus(sub.Status)
	if forcedStatus != "" {
		status = forcedStatus
		snap.Status = forcedStatus
	}
	return &model.BillingEvent{
		Provider:     "stripe",
		EventID:      sub.ID,
		Type:         string(event.Type),
		Action:       model.ActionUpsert,
		SubscriberID: subscriberID,
		Status:       status,
		UpdatedAtMs:  util.NormalizeTimestamp(event.Created, s.now()),
		Snapshot:     snap,
	}, nil
}

// resolveStripeSubscriber resolves a user id from event metadata, falling
// back to the stored billing customer mapping.
func (s *WebhookService) resolveStripeSubscriber(ctx context.Context, metadata map[string]string, custID string) (string, error) {
	if userID, ok := metadata["user_id"]; ok && userID != "" {
		if custID != "" {
			s.rememberBillingCustomer(ctx, userID, custID)
		}
		return userID, nil
	}
	if custID == "" {
		return "", ErrIdentityUnresolvable
	}
	s.logger.Warn().Str("billing_customer_id", custID).Msg("Missing user_id metadata; looking up user by customer ID")
	u, err := s.userRepo.GetUserByBillingCustomerID(ctx, custID)
	if err != nil {
		return "", err
	}
	if u == nil {
		return "", ErrIdentityUnresolvable
	}
	return u.UserID, nil
}

// rememberBillingCustomer stores the user to billing-customer mapping the
// first time an event carries both, so later events without user_id metadata
// still resolve. Best-effort: the event applies either way.
func (s *WebhookService) rememberBillingCustomer(ctx context.Context, userID, custID string) {
	u, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil || u == nil {
		return
	}
	if u.BillingCustomerID != nil && *u.BillingCustomerID == custID {
		return
	}
	if err := s.userRepo.UpdateBillingCustomerID(ctx, userID, custID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("billing_customer_id", custID).Msg("Failed to store billing customer mapping")
		return
	}
	s.logger.Info().Str("user_id", userID).Str("billing_customer_id", custID).Msg("Stored billing customer mapping")
}

func snapshotFromStripe(ss *stripe.Subscription) *model.SubscriptionSnapshot {
	snap := &model.SubscriptionSnapshot{
		ExternalID:        ss.ID,
		Status:            mapStripeStatus(ss.Status),
		IsTrialActive:     ss.Status == stripe.SubscriptionStatusTrialing,
		CancelAtPeriodEnd: ss.CancelAtPeriodEnd,
		Features:          featuresFromMetadata(ss.Metadata),
	}
	if ss.TrialStart > 0 {
		t := time.Unix(ss.TrialStart, 0).UTC()
		snap.TrialStart = &t
	}
	if ss.TrialEnd > 0 {
		t := time.Unix(ss.TrialEnd, 0).UTC()
		snap.TrialEnd = &t
	}
	if ss.Items != nil && len(ss.Items.Data) > 0 {
		item := ss.Items.Data[0]
		snap.ExternalItemID = item.ID
		if item.Price != nil {
			snap.PlanID = item.Price.ID
			snap.PlanName = item.Price.Nickname
			snap.PlanTier = planTierFromPrice(item.Price)
			snap.AmountCents = item.Price.UnitAmount
			snap.Currency = string(item.Price.Currency)
			if item.Price.Recurring != nil {
				snap.BillingPeriod = string(item.Price.Recurring.Interval)
			}
		}
	}
	return snap
}

func mapStripeStatus(status stripe.SubscriptionStatus) model.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return model.SubscriptionStatusActive
	case stripe.SubscriptionStatusPastDue:
		return model.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return model.SubscriptionStatusCanceled
	case stripe.SubscriptionStatusUnpaid:
		return model.SubscriptionStatusUnpaid
	default:
		return model.SubscriptionStatusIncomplete
	}
}

// planTierFromPrice maps a Stripe price to an internal tier: explicit tier
// metadata first, then the price nickname, then paid-vs-free as a fallback.
func planTierFromPrice(price *stripe.Price) string {
	if tier, ok := price.Metadata["tier"]; ok && tier != "" {
		return tier
	}
	nick := strings.ToLower(price.Nickname)
	switch {
	case strings.Contains(nick, "enterprise"):
		return model.TierEnterprise
	case strings.Contains(nick, "pro"):
		return model.TierPro
	case price.UnitAmount > 0:
		return model.TierPro
	default:
		return model.TierFree
	}
}

func featuresFromMetadata(metadata map[string]string) []string {
	raw, ok := metadata["features"]
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	features := make([]string, 0, len(parts))
	for _, p := range parts {
		if f := strings.TrimSpace(p); f != "" {
			features = append(features, f)
		}
	}
	return features
}

func subscriptionIDFromInvoice(invoice *stripe.Invoice) string {
	if invoice.Lines == nil {
		return ""
	}
	for _, line := range invoice.Lines.Data {
		if line.Subscription != nil && line.Subscription.ID != "" {
			return line.Subscription.ID
		}
	}
	return ""
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
