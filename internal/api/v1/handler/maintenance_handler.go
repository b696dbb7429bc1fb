package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"forge/internal/service"

	"github.com/rs/zerolog"
)

// LedgerPruner removes expired webhook idempotency ledger entries.
type LedgerPruner interface {
	PruneLedger(ctx context.Context) (int64, error)
}

// MaintenanceHandler exposes internal housekeeping endpoints, invoked by
// Cloud Scheduler rather than end users.
type MaintenanceHandler struct {
	rlSvc  service.RateLimitService
	ledger LedgerPruner
	logger zerolog.Logger
}

func NewMaintenanceHandler(rlSvc service.RateLimitService, ledger LedgerPruner, logger zerolog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{rlSvc: rlSvc, ledger: ledger, logger: logger}
}

// RegisterRoutes mounts the internal maintenance routes behind the scheduler
// auth middleware.
func (h *MaintenanceHandler) RegisterRoutes(mux *http.ServeMux, schedulerMw func(http.Handler) http.Handler) {
	mux.Handle("/internal/ratelimits/cleanup", schedulerMw(http.HandlerFunc(h.cleanupRateLimits)))
	mux.Handle("/internal/webhooks/cleanup", schedulerMw(http.HandlerFunc(h.cleanupWebhookLedger)))
}

// cleanupRateLimits deletes rate-limit state older than the retention horizon
// and reports how many rows were removed.
func (h *MaintenanceHandler) cleanupRateLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deleted, err := h.rlSvc.Cleanup(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("rate limit cleanup failed")
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info().Int64("deleted", deleted).Msg("rate limit cleanup completed")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"deleted": deleted})
}

// cleanupWebhookLedger prunes idempotency ledger entries older than the
// retention horizon so the table does not grow without bound.
func (h *MaintenanceHandler) cleanupWebhookLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deleted, err := h.ledger.PruneLedger(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("webhook ledger cleanup failed")
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}

	h.logger.Info().Int64("deleted", deleted).Msg("webhook ledger cleanup completed")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"deleted": deleted})
}
