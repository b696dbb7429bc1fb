package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"forge/internal/api/v1/dto"
	"forge/internal/middleware"
	"forge/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// ExportHandler issues presigned URLs for project export archives.
type ExportHandler struct {
	exportSvc service.ExportService
	validate  *validator.Validate
	logger    zerolog.Logger
}

func NewExportHandler(exportSvc service.ExportService, v *validator.Validate, logger zerolog.Logger) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc, validate: v, logger: logger}
}

// RegisterRoutes mounts v1 export routes
func (h *ExportHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("/exports", authMw(http.HandlerFunc(h.createExport)))
	mux.Handle("/exports/", authMw(http.HandlerFunc(h.handleExportSubroutes)))
}

// createExport godoc
// @Summary Request a presigned upload URL for a project export
// @Description Runs admission control for the project-export operation, then returns a presigned S3 PUT URL for the archive.
// @Tags exports
// @Accept json
// @Produce json
// @Param request body dto.ExportCreateDTO true "Export request"
// @Success 200 {object} dto.ExportURLResponseDTO
// @Failure 400 {string} string "invalid request payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 429 {object} dto.RateLimitedResponseDTO "usage ceiling hit"
// @Failure 500 {string} string "failed to create export URL"
// @Router /exports [post]
func (h *ExportHandler) createExport(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req dto.ExportCreateDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	url, err := h.exportSvc.CreateUploadURL(r.Context(), userID, req.ProjectID)
	if err != nil {
		var rle *service.RateLimitError
		if errors.As(err, &rle) {
			writeRateLimited(w, rle)
			return
		}
		h.logger.Error().Err(err).Msg("failed to create export upload URL")
		http.Error(w, "failed to create export URL", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dto.ExportURLResponseDTO{URL: url, ExpiresIn: 900})
}

func (h *ExportHandler) handleExportSubroutes(w http.ResponseWriter, r *http.Request) {
	remaining := strings.TrimPrefix(r.URL.Path, "/exports/")
	switch {
	case strings.HasSuffix(remaining, "/url") && r.Method == http.MethodGet:
		projectID := strings.TrimSuffix(remaining, "/url")
		h.getExportURL(w, r, projectID)
	default:
		http.NotFound(w, r)
	}
}

// getExportURL godoc
// @Summary Get a presigned download URL for a project export
// @Tags exports
// @Produce json
// @Param projectId path string true "Project ID"
// @Success 200 {object} dto.ExportURLResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 500 {string} string "failed to create export URL"
// @Router /exports/{projectId}/url [get]
func (h *ExportHandler) getExportURL(w http.ResponseWriter, r *http.Request, projectID string) {
	userID, ok := r.Context().Value(middleware.UserContextKey).(string)
	if !ok || userID == "" {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	if projectID == "" || strings.Contains(projectID, "/") {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}

	url, err := h.exportSvc.GetDownloadURL(r.Context(), userID, projectID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create export download URL")
		http.Error(w, "failed to create export URL", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dto.ExportURLResponseDTO{URL: url, ExpiresIn: 900})
}
