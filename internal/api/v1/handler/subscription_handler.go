package handler

import (
	"encoding/json"
	"net/http"

	"forge/internal/api/v1/dto"
	"forge/internal/middleware"
	"forge/internal/model"
	"forge/internal/service"

	"github.com/rs/zerolog"
)

// SubscriptionHandler exposes the caller's reconciled subscription state.
type SubscriptionHandler struct {
	subSvc service.SubscriptionService
	logger zerolog.Logger
}

func NewSubscriptionHandler(subSvc service.SubscriptionService, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subSvc: subSvc, logger: logger}
}

// RegisterRoutes mounts v1 subscription routes
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/subscriptions/me", authMw(http.HandlerFunc(h.getSubscription)))
}

// getSubscription godoc
// @Summary Current subscription for the authenticated user
// @Description Returns the reconciled billing state. Users without a subscription record get the free tier defaults.
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.SubscriptionResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to load subscription"
// @Router /subscriptions/me [get]
func (h *SubscriptionHandler) getSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sub, err := h.subSvc.GetSubscription(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load subscription")
		http.Error(w, "failed to load subscription", http.StatusInternalServerError)
		return
	}

	resp := dto.SubscriptionResponseDTO{
		SubscriberID: userID,
		PlanTier:     model.TierFree,
		Features:     []string{},
	}
	if sub != nil {
		if sub.Status != nil {
			status := string(*sub.Status)
			resp.Status = &status
		}
		resp.PlanID = sub.PlanID
		resp.PlanName = sub.PlanName
		if sub.PlanTier != nil {
			resp.PlanTier = *sub.PlanTier
		}
		resp.BillingPeriod = sub.BillingPeriod
		resp.AmountCents = sub.AmountCents
		resp.Currency = sub.Currency
		if sub.Features != nil {
			resp.Features = sub.Features
		}
		resp.TrialStart = sub.TrialStart
		resp.TrialEnd = sub.TrialEnd
		resp.IsTrialActive = sub.IsTrialActive
		resp.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		resp.UpdatedAt = sub.UpdatedAt
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
