package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"security-monitor/internal/service"
	"security-monitor/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SecurityHandler handles HTTP requests for event ingestion and
// investigation queries.
type SecurityHandler struct {
	securityService *service.SecurityService
	logger          *zap.Logger
}

// NewSecurityHandler creates a new security handler
func NewSecurityHandler(securityService *service.SecurityService, logger *zap.Logger) *SecurityHandler {
	return &SecurityHandler{
		securityService: securityService,
		logger:          logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all security monitoring routes
func (h *SecurityHandler) RegisterRoutes(router chi.Router) {
	router.Route("/events", func(r chi.Router) {
		r.Post("/", h.IngestEvent)
		r.Get("/", h.GetRecentEvents)
	})

	router.Route("/entities", func(r chi.Router) {
		r.Get("/suspicious", h.GetSuspiciousEntities)
	})

	router.Get("/patterns/{identityKey}", h.GetIdentityPattern)
	router.Get("/detections", h.GetSuspiciousResults)
	router.Get("/dashboard/stats", h.GetDashboardStats)
}

// IngestEvent handles event ingestion and returns the analysis outcome
// @Summary Report a security event
// @Description Analyze one security event and return its risk assessment
// @Tags events
// @Accept json
// @Produce json
// @Param request body service.IngestRequest true "Security event"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /events [post]
func (h *SecurityHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	resp, err := h.securityService.ProcessEvent(ctx, &req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to process event")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(resp, "Event analyzed"))
	h.logger.Info("Event ingested via HTTP",
		util.String("event_id", resp.EventID),
		util.Int("risk_score", resp.Analysis.RiskScore.Score),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "IngestEvent"),
	)
}

// GetRecentEvents handles persisted event retrieval
// @Summary List recent events for a user
// @Tags events
// @Produce json
// @Param user_id query string true "User ID"
// @Param since query string false "RFC3339 lower bound"
// @Param limit query int false "Max events"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 500 {object} Response
// @Router /events [get]
func (h *SecurityHandler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	limit := parseIntParam(r, "limit", 100)

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest,
				fmt.Errorf("invalid since parameter: %w", err), "Invalid query parameters")
			return
		}
		since = parsed
	}

	events, err := h.securityService.GetRecentEvents(ctx, userID, since, limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to get events")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(events, "Events retrieved successfully"))
}

// GetSuspiciousEntities lists entities currently flagged by the tracker
// @Summary List suspicious entities
// @Tags entities
// @Produce json
// @Success 200 {object} Response
// @Router /entities/suspicious [get]
func (h *SecurityHandler) GetSuspiciousEntities(w http.ResponseWriter, r *http.Request) {
	entities := h.securityService.SuspiciousEntities()
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"entities": entities,
		"count":    len(entities),
	}, "Suspicious entities retrieved successfully"))
}

// GetIdentityPattern returns the behavioral baseline for one identity
// @Summary Get an identity's behavioral baseline
// @Tags patterns
// @Produce json
// @Param identityKey path string true "Identity key (user:<id>, ip:<addr>, session:<id>)"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /patterns/{identityKey} [get]
func (h *SecurityHandler) GetIdentityPattern(w http.ResponseWriter, r *http.Request) {
	identityKey := chi.URLParam(r, "identityKey")

	summary, ok := h.securityService.GetIdentityPattern(identityKey)
	if !ok {
		h.respondWithError(w, http.StatusNotFound,
			fmt.Errorf("no pattern for identity: %s", identityKey), "Identity not tracked")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(summary, "Pattern retrieved successfully"))
}

// GetSuspiciousResults searches indexed detections
// @Summary Search recent suspicious detections
// @Tags detections
// @Produce json
// @Param identity_key query string false "Filter to one identity"
// @Param limit query int false "Max results"
// @Success 200 {object} Response
// @Failure 500 {object} Response
// @Router /detections [get]
func (h *SecurityHandler) GetSuspiciousResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identityKey := r.URL.Query().Get("identity_key")
	limit := parseIntParam(r, "limit", 20)

	results, err := h.securityService.GetSuspiciousResults(ctx, identityKey, limit)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to search detections")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(results, "Detections retrieved successfully"))
}

// GetDashboardStats returns aggregate monitoring statistics
// @Summary Get dashboard statistics
// @Tags dashboard
// @Produce json
// @Param window_hours query int false "Trailing window in hours"
// @Success 200 {object} Response
// @Failure 500 {object} Response
// @Router /dashboard/stats [get]
func (h *SecurityHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	windowHours := parseIntParam(r, "window_hours", 24)

	stats, err := h.securityService.GetDashboardStats(ctx, windowHours)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to get dashboard stats")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(stats, "Dashboard stats retrieved successfully"))
}

// HealthCheck verifies the pipeline's storage backends
func (h *SecurityHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.securityService.HealthCheck(ctx); err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, err, "Service unhealthy")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Service is healthy"))
}

// Helper Methods

// respondWithJSON sends a JSON response
func (h *SecurityHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *SecurityHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *SecurityHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
