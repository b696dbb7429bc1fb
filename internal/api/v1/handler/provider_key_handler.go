package handler

import (
	"encoding/json"
	"net/http"

	"forge/internal/api/v1/dto"
	"forge/internal/middleware"
	"forge/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ProviderKeyHandler manages user-supplied AI provider API keys.
type ProviderKeyHandler struct {
	secrets  service.SecretManagerService
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewProviderKeyHandler(secrets service.SecretManagerService, v *validator.Validate, logger zerolog.Logger) *ProviderKeyHandler {
	return &ProviderKeyHandler{secrets: secrets, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 provider key routes
func (h *ProviderKeyHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/users/me/provider-keys", authMw(http.HandlerFunc(h.handleProviderKeys)))
}

func (h *ProviderKeyHandler) handleProviderKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		h.putProviderKey(w, r)
	case http.MethodDelete:
		h.deleteProviderKey(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// putProviderKey godoc
// @Summary Store an API key for an AI provider
// @Description Saves the key in Secret Manager. Generations for this user use the stored key instead of the platform key.
// @Tags users
// @Accept json
// @Param request body dto.ProviderKeyUpdateDTO true "Provider key"
// @Success 204 {string} string "stored"
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to store provider key"
// @Router /users/me/provider-keys [put]
func (h *ProviderKeyHandler) putProviderKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	var req dto.ProviderKeyUpdateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.secrets.StoreProviderKey(r.Context(), userID, req.Provider, req.APIKey); err != nil {
		h.logger.Error().Err(err).Str("provider", req.Provider).Msg("failed to store provider key")
		http.Error(w, "failed to store provider key", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// deleteProviderKey godoc
// @Summary Remove a stored API key for an AI provider
// @Description Deletes the key from Secret Manager. Generations for this user fall back to the platform key.
// @Tags users
// @Param provider query string true "Provider name" Enums(groq, openai, anthropic)
// @Success 204 {string} string "deleted"
// @Failure 400 {string} string "invalid provider"
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to delete provider key"
// @Router /users/me/provider-keys [delete]
func (h *ProviderKeyHandler) deleteProviderKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	provider := r.URL.Query().Get("provider")
	if err := h.validate.Var(provider, "required,oneof=groq openai anthropic"); err != nil {
		http.Error(w, "invalid provider", http.StatusBadRequest)
		return
	}

	if err := h.secrets.DeleteProviderKey(r.Context(), userID, provider); err != nil {
		h.logger.Error().Err(err).Str("provider", provider).Msg("failed to delete provider key")
		http.Error(w, "failed to delete provider key", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
