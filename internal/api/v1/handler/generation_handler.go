package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"forge/internal/api/v1/dto"
	"forge/internal/middleware"
	"forge/internal/model"
	"forge/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// GenerationHandler handles AI generation endpoints.
type GenerationHandler struct {
	genService service.GenerationService
	validate   *validator.Validate
	logger     zerolog.Logger
}

func NewGenerationHandler(genService service.GenerationService, v *validator.Validate, logger zerolog.Logger) *GenerationHandler {
	return &GenerationHandler{genService: genService, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 generation routes
func (h *GenerationHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/generations", authMw(http.HandlerFunc(h.createGeneration)))
}

// writeRateLimited renders a typed admission failure as a 429 with a
// machine-readable body and a Retry-After header.
func writeRateLimited(w http.ResponseWriter, rle *service.RateLimitError) {
	resp := dto.RateLimitedResponseDTO{
		Error:      "rate limit exceeded",
		Kind:       string(rle.Kind),
		Operation:  rle.Operation,
		RetryAfter: int64(rle.RetryAfter.Seconds()),
		ResetAt:    rle.ResetAt.Unix(),
		Remaining:  rle.Remaining,
		Detail:     rle.Detail,
	}
	if rle.Kind == service.LimitKindCost {
		cost := rle.CostRemaining
		resp.Cost = &cost
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(resp.RetryAfter, 10))
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(resp)
}

// createGeneration godoc
// @Summary Stream an AI chat completion
// @Description Runs admission control for the caller's tier, then streams the model's response using Server-Sent Events (SSE).
// @Tags generations
// @Accept json
// @Produce text/event-stream
// @Param request body dto.GenerationRequestDTO true "Generation request"
// @Success 200 {string} string "Server-Sent Events stream"
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 429 {object} dto.RateLimitedResponseDTO "usage ceiling hit"
// @Failure 500 {string} string "failed to stream completion"
// @Router /generations [post]
func (h *GenerationHandler) createGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req dto.GenerationRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	messages := make([]model.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = model.ChatMessage{Role: m.Role, Content: m.Content}
	}
	modelID := ""
	if req.Model != nil {
		modelID = *req.Model
	}
	maxTokens := 0
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	stream, err := h.genService.StreamCompletion(r.Context(), userID, messages, modelID, maxTokens)
	if err != nil {
		var rle *service.RateLimitError
		if errors.As(err, &rle) {
			writeRateLimited(w, rle)
			return
		}
		h.logger.Error().Err(err).Msg("failed to start completion stream")
		http.Error(w, "failed to stream completion", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := stream.Close(); err != nil {
			h.logger.Error().Err(err).Msg("Failed to close stream")
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.Debug().Err(werr).Msg("client disconnected during stream")
				return
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				h.logger.Error().Err(err).Msg("error reading completion stream")
			}
			return
		}
	}
}
