package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"forge/internal/api/v1/dto"
	"forge/internal/middleware"
	"forge/internal/service"

	"github.com/rs/zerolog"
)

// UsageHandler exposes usage statistics and pre-flight limit checks.
type UsageHandler struct {
	rlSvc  service.RateLimitService
	subSvc service.SubscriptionService
	logger zerolog.Logger
}

func NewUsageHandler(rlSvc service.RateLimitService, subSvc service.SubscriptionService, logger zerolog.Logger) *UsageHandler {
	return &UsageHandler{rlSvc: rlSvc, subSvc: subSvc, logger: logger}
}

// RegisterRoutes mounts v1 usage routes
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/usage", authMw(http.HandlerFunc(h.getUsageStats)))
	mux.Handle("/usage/check", authMw(http.HandlerFunc(h.checkUsage)))
}

// getUsageStats godoc
// @Summary Usage statistics for the authenticated user
// @Description Aggregates accepted requests, tokens and cost over the last hour and the last 24 hours.
// @Tags usage
// @Produce json
// @Success 200 {object} dto.UsageStatsResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to load usage stats"
// @Router /usage [get]
func (h *UsageHandler) getUsageStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.rlSvc.GetUsageStats(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load usage stats")
		http.Error(w, "failed to load usage stats", http.StatusInternalServerError)
		return
	}

	resp := dto.UsageStatsResponseDTO{
		Hourly: dto.UsageWindowDTO{Requests: stats.Hourly.Requests, Tokens: stats.Hourly.Tokens, Cost: stats.Hourly.Cost},
		Daily:  dto.UsageWindowDTO{Requests: stats.Daily.Requests, Tokens: stats.Daily.Tokens, Cost: stats.Daily.Cost},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// checkUsage godoc
// @Summary Pre-flight rate limit check
// @Description Answers whether the next request for the given operation would be admitted. Read-only; never consumes quota.
// @Tags usage
// @Produce json
// @Param operation query string true "Operation name, e.g. chat-completion"
// @Param estimated_cost query number false "Estimated dollar cost of the next request"
// @Success 200 {object} dto.UsageCheckResponseDTO
// @Failure 400 {string} string "missing operation"
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to check usage"
// @Router /usage/check [get]
func (h *UsageHandler) checkUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	operation := r.URL.Query().Get("operation")
	if operation == "" {
		http.Error(w, "missing operation query parameter", http.StatusBadRequest)
		return
	}
	estimatedCost := 0.0
	if raw := r.URL.Query().Get("estimated_cost"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			http.Error(w, "invalid estimated_cost", http.StatusBadRequest)
			return
		}
		estimatedCost = v
	}

	tier, err := h.subSvc.TierFor(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to resolve tier")
		http.Error(w, "failed to check usage", http.StatusInternalServerError)
		return
	}

	decision, err := h.rlSvc.CheckAllowed(r.Context(), userID, operation, tier, estimatedCost)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to check usage")
		http.Error(w, "failed to check usage", http.StatusInternalServerError)
		return
	}

	resp := dto.UsageCheckResponseDTO{
		Allowed:       decision.Allowed,
		Remaining:     decision.Remaining,
		ResetAt:       decision.ResetAt,
		CostRemaining: decision.CostRemaining,
		Reason:        decision.Reason,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
