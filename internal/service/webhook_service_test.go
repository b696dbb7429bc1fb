package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"forge/internal/config"
	"forge/internal/model"
	"forge/internal/util"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
)

type fakeUserRepo struct {
	byID         map[string]*model.User
	byCustomerID map[string]*model.User
	updates      []string
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.byID[id], nil
}

func (f *fakeUserRepo) GetUserByBillingCustomerID(_ context.Context, customerID string) (*model.User, error) {
	return f.byCustomerID[customerID], nil
}

func (f *fakeUserRepo) UpdateBillingCustomerID(_ context.Context, userID, customerID string) error {
	f.updates = append(f.updates, userID+":"+customerID)
	if u, ok := f.byID[userID]; ok {
		cid := customerID
		u.BillingCustomerID = &cid
		f.byCustomerID[customerID] = u
	}
	return nil
}

type fakeEventLedger struct {
	keys         map[string]bool
	prunedBefore time.Time
}

func (f *fakeEventLedger) MarkProcessed(_ context.Context, ev *model.ProcessedWebhookEvent) (bool, error) {
	if f.keys == nil {
		f.keys = make(map[string]bool)
	}
	if f.keys[ev.IdempotencyKey] {
		return false, nil
	}
	f.keys[ev.IdempotencyKey] = true
	return true, nil
}

func (f *fakeEventLedger) DeleteProcessedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.prunedBefore = cutoff
	var deleted int64
	for k := range f.keys {
		delete(f.keys, k)
		deleted++
	}
	return deleted, nil
}

// fakeSubscriptionService records applied transitions in order.
type fakeSubscriptionService struct {
	calls     []string
	snapshots []*model.SubscriptionSnapshot
}

func (f *fakeSubscriptionService) GetSubscription(_ context.Context, subscriberID string) (*model.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionService) TierFor(_ context.Context, subscriberID string) (string, error) {
	return model.TierFree, nil
}

func (f *fakeSubscriptionService) ApplySnapshot(_ context.Context, subscriberID string, snap *model.SubscriptionSnapshot, eventType string) error {
	f.calls = append(f.calls, "upsert:"+subscriberID)
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeSubscriptionService) MarkCancelAtPeriodEnd(_ context.Context, subscriberID, eventType string) error {
	f.calls = append(f.calls, "cancel_at_period_end:"+subscriberID)
	return nil
}

func (f *fakeSubscriptionService) ClearCancelAtPeriodEnd(_ context.Context, subscriberID, eventType string) error {
	f.calls = append(f.calls, "uncancel:"+subscriberID)
	return nil
}

func (f *fakeSubscriptionService) Revoke(_ context.Context, subscriberID, eventType string) error {
	f.calls = append(f.calls, "revoke:"+subscriberID)
	return nil
}

func (f *fakeSubscriptionService) Clear(_ context.Context, subscriberID string) error {
	f.calls = append(f.calls, "clear:"+subscriberID)
	return nil
}

type fakeBillingClient struct {
	sub *stripe.Subscription
	err error
}

func (f *fakeBillingClient) GetSubscription(_ context.Context, subscriptionID string) (*stripe.Subscription, error) {
	return f.sub, f.err
}

type fakePublisher struct {
	published int
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) (string, error) {
	f.published++
	return "msg-1", nil
}

const (
	testStripeSecret = "stripe-test-secret"
	testClerkSecret  = "whsec_dGVzdC1jbGVyay1zZWNyZXQ=" // base64("test-clerk-secret")
)

type webhookFixture struct {
	svc       *WebhookService
	subSvc    *fakeSubscriptionService
	publisher *fakePublisher
	users     *fakeUserRepo
	billing   *fakeBillingClient
	ledger    *fakeEventLedger
}

func newWebhookFixture() *webhookFixture {
	cfg := &config.Config{
		StripeWebhookSecret: testStripeSecret,
		ClerkWebhookSecret:  testClerkSecret,
		BillingEventsTopic:  "billing-events",
	}
	users := &fakeUserRepo{byID: make(map[string]*model.User), byCustomerID: make(map[string]*model.User)}
	subSvc := &fakeSubscriptionService{}
	billing := &fakeBillingClient{}
	publisher := &fakePublisher{}
	ledger := &fakeEventLedger{}
	svc := NewWebhookService(cfg, users, subSvc, ledger, billing, publisher, zerolog.Nop())
	return &webhookFixture{svc: svc, subSvc: subSvc, publisher: publisher, users: users, billing: billing, ledger: ledger}
}

func signedStripeRequest(body string) *http.Request {
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig := util.SignHMACHex([]byte(ts+"."+body), testStripeSecret)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, sig))
	return req
}

func stripeSubscriptionEvent(eventID, eventType, subID, userID, status string, cancelAtPeriodEnd bool) string {
	return fmt.Sprintf(`{
        "id": %q,
        "type": %q,
        "created": 1717243200,
        "data": {
            "object": {
                "id": %q,
                "status": %q,
                "cancel_at_period_end": %t,
                "metadata": {"user_id": %q, "features": "ai-generation,custom-domains"},
                "items": {
                    "data": [{
                        "id": "si_1",
                        "price": {
                            "id": "price_pro_monthly",
                            "nickname": "Pro Monthly",
                            "unit_amount": 2000,
                            "currency": "usd",
                            "metadata": {"tier": "pro"},
                            "recurring": {"interval": "month"}
                        }
                    }]
                }
            }
        }
    }`, eventID, eventType, subID, status, cancelAtPeriodEnd, userID)
}

func TestStripeWebhookMissingSignatureHeader(t *testing.T) {
	fx := newWebhookFixture()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStripeWebhookBadSignature(t *testing.T) {
	fx := newWebhookFixture()
	body := stripeSubscriptionEvent("evt_1", "customer.subscription.created", "sub_1", "user-1", "active", false)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1717243200,v1=deadbeef")
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(fx.subSvc.calls) != 0 {
		t.Fatalf("state mutated on unauthenticated request: %v", fx.subSvc.calls)
	}
}

func TestStripeWebhookIgnoresUnhandledEvents(t *testing.T) {
	fx := newWebhookFixture()
	body := `{"id":"evt_1","type":"payment_method.attached","created":1717243200,"data":{"object":{}}}`
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fx.subSvc.calls) != 0 {
		t.Fatalf("unhandled event mutated state: %v", fx.subSvc.calls)
	}
}

func TestStripeWebhookSubscriptionCreated(t *testing.T) {
	fx := newWebhookFixture()
	body := stripeSubscriptionEvent("evt_1", "customer.subscription.created", "sub_1", "user-1", "active", false)
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fx.subSvc.calls) != 1 || fx.subSvc.calls[0] != "upsert:user-1" {
		t.Fatalf("unexpected transitions: %v", fx.subSvc.calls)
	}
	snap := fx.subSvc.snapshots[0]
	if snap.PlanTier != model.TierPro {
		t.Fatalf("expected pro tier, got %q", snap.PlanTier)
	}
	if snap.Status != model.SubscriptionStatusActive {
		t.Fatalf("expected active status, got %q", snap.Status)
	}
	if len(snap.Features) != 2 {
		t.Fatalf("expected 2 features from metadata, got %v", snap.Features)
	}
	if fx.publisher.published != 1 {
		t.Fatalf("expected 1 fanout publish, got %d", fx.publisher.published)
	}
}

func TestStripeWebhookDuplicateDeliveryIsNoOp(t *testing.T) {
	fx := newWebhookFixture()
	body := stripeSubscriptionEvent("evt_1", "customer.subscription.created", "sub_1", "user-1", "active", false)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		fx.svc.HandleStripeWebhook(rec, signedStripeRequest(body))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	if len(fx.subSvc.calls) != 1 {
		t.Fatalf("duplicate delivery applied twice: %v", fx.subSvc.calls)
	}
	if fx.publisher.published != 1 {
		t.Fatalf("duplicate delivery fanned out twice: %d", fx.publisher.published)
	}
}

func TestStripeWebhookCanceledThenRevoked(t *testing.T) {
	fx := newWebhookFixture()

	pending := stripeSubscriptionEvent("evt_1", "customer.subscription.updated", "sub_1", "user-1", "active", true)
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(pending))
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel-at-period-end: expected 200, got %d", rec.Code)
	}

	deleted := stripeSubscriptionEvent("evt_2", "customer.subscription.deleted", "sub_1", "user-1", "canceled", false)
	rec = httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(deleted))
	if rec.Code != http.StatusOK {
		t.Fatalf("deletion: expected 200, got %d", rec.Code)
	}

	want := []string{"cancel_at_period_end:user-1", "revoke:user-1"}
	if len(fx.subSvc.calls) != len(want) {
		t.Fatalf("unexpected transitions: %v", fx.subSvc.calls)
	}
	for i, c := range want {
		if fx.subSvc.calls[i] != c {
			t.Fatalf("transition %d: expected %s, got %s", i, c, fx.subSvc.calls[i])
		}
	}
}

func TestStripeWebhookUncancelClearsPendingCancellation(t *testing.T) {
	fx := newWebhookFixture()
	body := stripeSubscriptionEvent("evt_1", "customer.subscription.updated", "sub_1", "user-1", "active", false)
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := []string{"upsert:user-1", "uncancel:user-1"}
	if len(fx.subSvc.calls) != len(want) || fx.subSvc.calls[0] != want[0] || fx.subSvc.calls[1] != want[1] {
		t.Fatalf("unexpected transitions: %v", fx.subSvc.calls)
	}
}

func TestStripeWebhookUnresolvableIdentityFails(t *testing.T) {
	fx := newWebhookFixture()
	// No user_id metadata and no stored customer mapping.
	body := `{
        "id": "evt_1",
        "type": "customer.subscription.created",
        "created": 1717243200,
        "data": {"object": {"id": "sub_1", "status": "active", "customer": {"id": "cus_unknown"}}}
    }`
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(body))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if len(fx.subSvc.calls) != 0 {
		t.Fatalf("state mutated despite unresolvable identity: %v", fx.subSvc.calls)
	}
}

func TestStripeWebhookResolvesSubscriberByCustomerID(t *testing.T) {
	fx := newWebhookFixture()
	fx.users.byCustomerID["cus_1"] = &model.User{UserID: "user-7"}
	body := `{
        "id": "evt_1",
        "type": "customer.subscription.created",
        "created": 1717243200,
        "data": {"object": {"id": "sub_1", "status": "active", "customer": {"id": "cus_1"}}}
    }`
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fx.subSvc.calls) != 1 || fx.subSvc.calls[0] != "upsert:user-7" {
		t.Fatalf("unexpected transitions: %v", fx.subSvc.calls)
	}
}

func TestStripeWebhookStoresCustomerMappingFromMetadata(t *testing.T) {
	fx := newWebhookFixture()
	fx.users.byID["user-1"] = &model.User{UserID: "user-1"}

	// First event carries both user_id metadata and a customer id: the
	// mapping is persisted.
	first := `{
        "id": "evt_1",
        "type": "customer.subscription.created",
        "created": 1717243200,
        "data": {"object": {"id": "sub_1", "status": "active", "customer": {"id": "cus_9"}, "metadata": {"user_id": "user-1"}}}
    }`
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(first))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fx.users.updates) != 1 || fx.users.updates[0] != "user-1:cus_9" {
		t.Fatalf("expected stored mapping user-1:cus_9, got %v", fx.users.updates)
	}

	// A later event without metadata resolves through the stored mapping
	// and does not rewrite it.
	second := `{
        "id": "evt_2",
        "type": "customer.subscription.created",
        "created": 1717243300,
        "data": {"object": {"id": "sub_1", "status": "active", "customer": {"id": "cus_9"}}}
    }`
	rec = httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(second))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fx.subSvc.calls) != 2 || fx.subSvc.calls[1] != "upsert:user-1" {
		t.Fatalf("unexpected transitions: %v", fx.subSvc.calls)
	}
	if len(fx.users.updates) != 1 {
		t.Fatalf("mapping rewritten on metadata-free event: %v", fx.users.updates)
	}
}

func TestStripeWebhookLaterEventReplacesSnapshot(t *testing.T) {
	fx := newWebhookFixture()

	first := stripeSubscriptionEvent("evt_1", "customer.subscription.created", "sub_1", "user-1", "active", false)
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(first))
	if rec.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", rec.Code)
	}

	// The follow-up event carries a different plan and no features
	// metadata; its snapshot must stand on its own, not inherit fields
	// from the earlier one.
	second := `{
        "id": "evt_2",
        "type": "customer.subscription.created",
        "created": 1717243300,
        "data": {
            "object": {
                "id": "sub_1",
                "status": "active",
                "cancel_at_period_end": false,
                "metadata": {"user_id": "user-1"},
                "items": {
                    "data": [{
                        "id": "si_2",
                        "price": {
                            "id": "price_team_yearly",
                            "nickname": "Team Yearly",
                            "unit_amount": 50000,
                            "currency": "usd",
                            "metadata": {"tier": "enterprise"},
                            "recurring": {"interval": "year"}
                        }
                    }]
                }
            }
        }
    }`
	rec = httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(second))
	if rec.Code != http.StatusOK {
		t.Fatalf("second delivery: expected 200, got %d", rec.Code)
	}

	if len(fx.subSvc.snapshots) != 2 {
		t.Fatalf("expected 2 applied snapshots, got %d", len(fx.subSvc.snapshots))
	}
	snap := fx.subSvc.snapshots[1]
	if snap.PlanID != "price_team_yearly" || snap.PlanTier != model.TierEnterprise {
		t.Fatalf("second snapshot kept the old plan: %+v", snap)
	}
	if snap.AmountCents != 50000 || snap.BillingPeriod != "year" {
		t.Fatalf("unexpected plan mapping: %+v", snap)
	}
	if len(snap.Features) != 0 {
		t.Fatalf("features carried over from the earlier event: %v", snap.Features)
	}
}

func TestPruneLedgerUsesRetentionHorizon(t *testing.T) {
	fx := newWebhookFixture()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fx.svc.now = func() time.Time { return base }
	fx.ledger.keys = map[string]bool{"stale-entry": true}

	deleted, err := fx.svc.PruneLedger(context.Background())
	if err != nil {
		t.Fatalf("PruneLedger: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", deleted)
	}
	want := base.Add(-WebhookLedgerRetention)
	if !fx.ledger.prunedBefore.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, fx.ledger.prunedBefore)
	}
}

func TestStripeWebhookPaymentFailedForcesPastDue(t *testing.T) {
	fx := newWebhookFixture()
	fx.billing.sub = &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusActive,
		Metadata: map[string]string{"user_id": "user-1"},
	}
	body := `{
        "id": "evt_1",
        "type": "invoice.payment_failed",
        "created": 1717243200,
        "data": {"object": {
            "id": "in_1",
            "lines": {"data": [{"subscription": {"id": "sub_1"}}]}
        }}
    }`
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fx.subSvc.calls) != 1 || fx.subSvc.calls[0] != "upsert:user-1" {
		t.Fatalf("unexpected transitions: %v", fx.subSvc.calls)
	}
	if fx.subSvc.snapshots[0].Status != model.SubscriptionStatusPastDue {
		t.Fatalf("expected past_due snapshot, got %q", fx.subSvc.snapshots[0].Status)
	}
}

func TestStripeWebhookCheckoutWithGoneSubscriptionClears(t *testing.T) {
	fx := newWebhookFixture()
	fx.billing.err = ErrSubscriptionNotFound
	body := `{
        "id": "evt_1",
        "type": "checkout.session.completed",
        "created": 1717243200,
        "data": {"object": {
            "id": "cs_1",
            "metadata": {"user_id": "user-1"},
            "subscription": {"id": "sub_gone"}
        }}
    }`
	rec := httptest.NewRecorder()
	fx.svc.HandleStripeWebhook(rec, signedStripeRequest(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(fx.subSvc.calls) != 1 || fx.subSvc.calls[0] != "clear:user-1" {
		t.Fatalf("unexpected transitions: %v", fx.subSvc.calls)
	}
}

func signedClerkRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	id := "msg_1"
	ts := fmt.Sprintf("%d", time.Now().Unix())
	sig, err := util.SignSvix(id, ts, []byte(body), testClerkSecret)
	if err != nil {
		t.Fatalf("SignSvix: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/clerk", strings.NewReader(body))
	req.Header.Set("svix-id", id)
	req.Header.Set("svix-timestamp", ts)
	req.Header.Set("svix-signature", sig)
	return req
}

func clerkSubscriptionEvent(eventType, subID, userID, status string) string {
	return fmt.Sprintf(`{
        "type": %q,
        "data": {
            "id": %q,
            "status": %q,
            "payer": {"user_id": %q},
            "updated_at": 1717243200000,
            "items": [{
                "id": "item_1",
                "status": "active",
                "plan": {
                    "id": "plan_pro",
                    "name": "Pro",
                    "slug": "pro",
                    "amount": 2000,
                    "currency": "usd",
                    "period": "month",
                    "features": [{"slug": "ai-generation"}]
                }
            }]
        }
    }`, eventType, subID, status, userID)
}

func TestClerkWebhookMissingHeaders(t *testing.T) {
	fx := newWebhookFixture()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/clerk", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	fx.svc.HandleClerkWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestClerkWebhookBadSignature(t *testing.T) {
	fx := newWebhookFixture()
	body := clerkSubscriptionEvent("subscription.created", "sub_1", "user-1", "active")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/clerk", strings.NewReader(body))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", "1717243200")
	req.Header.Set("svix-signature", "v1,AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	rec := httptest.NewRecorder()
	fx.svc.HandleClerkWebhook(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(fx.subSvc.calls) != 0 {
		t.Fatalf("state mutated on unauthenticated request: %v", fx.subSvc.calls)
	}
}

func TestClerkWebhookSubscriptionLifecycle(t *testing.T) {
	fx := newWebhookFixture()

	deliveries := []struct {
		eventType string
		status    string
	}{
		{"subscription.created", "active"},
		{"subscription.canceled", "active"},
		{"subscription.uncanceled", "active"},
		{"subscription.revoked", "canceled"},
	}
	for _, d := range deliveries {
		body := clerkSubscriptionEvent(d.eventType, "sub_1", "user-1", d.status)
		rec := httptest.NewRecorder()
		fx.svc.HandleClerkWebhook(rec, signedClerkRequest(t, body))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", d.eventType, rec.Code)
		}
	}

	want := []string{
		"upsert:user-1",
		"cancel_at_period_end:user-1",
		"upsert:user-1",
		"uncancel:user-1",
		"revoke:user-1",
	}
	if len(fx.subSvc.calls) != len(want) {
		t.Fatalf("unexpected transitions: %v", fx.subSvc.calls)
	}
	for i, c := range want {
		if fx.subSvc.calls[i] != c {
			t.Fatalf("transition %d: expected %s, got %s", i, c, fx.subSvc.calls[i])
		}
	}
}

func TestClerkWebhookMissingPayerIsAcked(t *testing.T) {
	fx := newWebhookFixture()
	body := `{"type": "subscription.created", "data": {"id": "sub_1", "status": "active", "updated_at": 1717243200000}}`
	rec := httptest.NewRecorder()
	fx.svc.HandleClerkWebhook(rec, signedClerkRequest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", rec.Code)
	}
	if len(fx.subSvc.calls) != 0 {
		t.Fatalf("state mutated without a payer: %v", fx.subSvc.calls)
	}
}

func TestClerkWebhookIgnoresNonSubscriptionEvents(t *testing.T) {
	fx := newWebhookFixture()
	body := `{"type": "user.created", "data": {"id": "user_1"}}`
	rec := httptest.NewRecorder()
	fx.svc.HandleClerkWebhook(rec, signedClerkRequest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fx.subSvc.calls) != 0 {
		t.Fatalf("non-subscription event mutated state: %v", fx.subSvc.calls)
	}
}

func TestClerkWebhookSnapshotMapsPlanAndFeatures(t *testing.T) {
	fx := newWebhookFixture()
	body := clerkSubscriptionEvent("subscription.created", "sub_1", "user-1", "active")
	rec := httptest.NewRecorder()
	fx.svc.HandleClerkWebhook(rec, signedClerkRequest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	snap := fx.subSvc.snapshots[0]
	if snap.PlanTier != model.TierPro {
		t.Fatalf("expected pro tier, got %q", snap.PlanTier)
	}
	if snap.AmountCents != 2000 || snap.Currency != "usd" || snap.BillingPeriod != "month" {
		t.Fatalf("unexpected plan mapping: %+v", snap)
	}
	if len(snap.Features) != 1 || snap.Features[0] != "ai-generation" {
		t.Fatalf("unexpected features: %v", snap.Features)
	}
}
