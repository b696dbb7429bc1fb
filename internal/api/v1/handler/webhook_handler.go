package handler

import (
	"net/http"

	"forge/internal/service"
)

// WebhookHandler mounts the billing provider webhook endpoints. Signature
// verification happens inside the service; these routes take no auth middleware.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// RegisterRoutes mounts v1 webhook routes
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/stripe", h.stripeWebhook)
	mux.HandleFunc("/webhooks/clerk", h.clerkWebhook)
}

// stripeWebhook godoc
// @Summary Stripe billing webhook
// @Description Verifies the Stripe-Signature header, reconciles the event into local subscription state and acks. Replays of processed events are acked without side effects.
// @Tags webhooks
// @Accept json
// @Success 200 {string} string "applied, ignored, or duplicate"
// @Failure 400 {string} string "missing signature header"
// @Failure 401 {string} string "invalid signature"
// @Failure 422 {string} string "subscriber identity unresolvable"
// @Router /webhooks/stripe [post]
func (h *WebhookHandler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.webhookSvc.HandleStripeWebhook(w, r)
}

// clerkWebhook godoc
// @Summary Clerk billing webhook
// @Description Verifies the svix signature headers, reconciles subscription events and acks. Events without a resolvable subscriber are logged and acked.
// @Tags webhooks
// @Accept json
// @Success 200 {string} string "applied, ignored, or duplicate"
// @Failure 400 {string} string "missing svix headers"
// @Failure 401 {string} string "invalid signature"
// @Router /webhooks/clerk [post]
func (h *WebhookHandler) clerkWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.webhookSvc.HandleClerkWebhook(w, r)
}
