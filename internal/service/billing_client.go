package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"forge/internal/config"

	"github.com/stripe/stripe-go/v82"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
)

// ErrSubscriptionNotFound means the billing provider confirmed the
// subscription no longer exists upstream.
var ErrSubscriptionNotFound = errors.New("subscription not found at billing provider")

// BillingClient is the narrow interface over the billing provider API used
// by the webhook reconciler to fetch the authoritative subscription state.
type BillingClient interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
}

type stripeBillingClient struct{}

// NewStripeBillingClient sets the global Stripe key and returns a client.
func NewStripeBillingClient(cfg *config.Config) BillingClient {
	stripe.Key = cfg.StripeSecretKey
	return &stripeBillingClient{}
}

func (c *stripeBillingClient) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscriptionpkg.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("fetch subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}
