package service

import (
	"context"
	"testing"

	"forge/internal/model"

	"github.com/rs/zerolog"
)

type fakeSubscriptionRepo struct {
	sub *model.Subscription
}

func (f *fakeSubscriptionRepo) GetSubscription(_ context.Context, subscriberID string) (*model.Subscription, error) {
	return f.sub, nil
}

func (f *fakeSubscriptionRepo) UpsertSnapshot(_ context.Context, subscriberID string, snap *model.SubscriptionSnapshot, eventType string) error {
	return nil
}

func (f *fakeSubscriptionRepo) SetCancelAtPeriodEnd(_ context.Context, subscriberID string, pending bool, eventType string) error {
	return nil
}

func (f *fakeSubscriptionRepo) Revoke(_ context.Context, subscriberID, eventType string) error {
	return nil
}

func (f *fakeSubscriptionRepo) Clear(_ context.Context, subscriberID string) error {
	return nil
}

func subWith(status model.SubscriptionStatus, tier string, cancelAtPeriodEnd bool) *model.Subscription {
	return &model.Subscription{
		SubscriberID:      "user-1",
		Status:            &status,
		PlanTier:          &tier,
		CancelAtPeriodEnd: cancelAtPeriodEnd,
	}
}

func TestTierForNoSubscriptionIsFree(t *testing.T) {
	svc := NewSubscriptionService(&fakeSubscriptionRepo{}, zerolog.Nop())
	tier, err := svc.TierFor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("TierFor: %v", err)
	}
	if tier != model.TierFree {
		t.Fatalf("expected free tier, got %q", tier)
	}
}

func TestTierForActiveSubscription(t *testing.T) {
	repo := &fakeSubscriptionRepo{sub: subWith(model.SubscriptionStatusActive, model.TierPro, false)}
	svc := NewSubscriptionService(repo, zerolog.Nop())
	tier, err := svc.TierFor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("TierFor: %v", err)
	}
	if tier != model.TierPro {
		t.Fatalf("expected pro tier, got %q", tier)
	}
}

func TestTierForPendingCancellationKeepsTier(t *testing.T) {
	// An end-of-period cancellation keeps access until the period ends: the
	// subscription stays active and so does the tier.
	repo := &fakeSubscriptionRepo{sub: subWith(model.SubscriptionStatusActive, model.TierPro, true)}
	svc := NewSubscriptionService(repo, zerolog.Nop())
	tier, err := svc.TierFor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("TierFor: %v", err)
	}
	if tier != model.TierPro {
		t.Fatalf("expected pro tier during pending cancellation, got %q", tier)
	}
}

func TestTierForNonActiveStatusIsFree(t *testing.T) {
	for _, status := range []model.SubscriptionStatus{
		model.SubscriptionStatusCanceled,
		model.SubscriptionStatusPastDue,
		model.SubscriptionStatusUnpaid,
		model.SubscriptionStatusIncomplete,
	} {
		repo := &fakeSubscriptionRepo{sub: subWith(status, model.TierPro, false)}
		svc := NewSubscriptionService(repo, zerolog.Nop())
		tier, err := svc.TierFor(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("TierFor(%s): %v", status, err)
		}
		if tier != model.TierFree {
			t.Fatalf("status %s: expected free tier, got %q", status, tier)
		}
	}
}
