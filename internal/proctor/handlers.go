package proctor

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/calibration"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/circuitbreaker"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/logging"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/scoring"
	"github.com/Natasha-Nyaga/online-exam-proctoring/internal/validation"
)

// DefaultRequestTimeout bounds one pipeline request end to end.
const DefaultRequestTimeout = 10 * time.Second

// Handler provides HTTP endpoints for calibration and exam analysis.
type Handler struct {
	service *Service
	timeout time.Duration
}

// NewHandler creates a handler. A non-positive timeout uses
// DefaultRequestTimeout.
func NewHandler(service *Service, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Handler{service: service, timeout: timeout}
}

// RegisterRoutes sets up the pipeline routes under r (normally /v1).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/calibration/sessions", h.StartCalibration)
	r.POST("/calibration/baseline", h.SaveBaseline)
	r.GET("/thresholds/:studentId", validation.UUIDParamMiddleware("studentId"), h.GetThreshold)
	r.GET("/thresholds/:studentId/history", validation.UUIDParamMiddleware("studentId"), h.ThresholdHistory)
	r.POST("/exam/analyze", h.Analyze)
	r.GET("/exam/sessions/:sessionId/incidents", validation.UUIDParamMiddleware("sessionId"), h.ListIncidents)
}

func (h *Handler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

func badBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body",
	})
}

// writeError maps pipeline errors onto HTTP responses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	msg := "Request failed"
	switch {
	case errors.Is(err, ErrInvalidRequest):
		status, code, msg = http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, calibration.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "No personal threshold recorded"
	case errors.Is(err, calibration.ErrSessionCompleted):
		status, code, msg = http.StatusConflict, "session_completed", "Calibration session is already completed"
	case errors.Is(err, scoring.ErrModelUnavailable):
		status, code, msg = http.StatusServiceUnavailable, "model_unavailable", "Scoring models are not available"
	case errors.Is(err, circuitbreaker.ErrOpen):
		status, code, msg = http.StatusServiceUnavailable, "store_unavailable", "Storage is temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code, msg = http.StatusGatewayTimeout, "timeout", "Request timed out"
	}
	if status >= http.StatusInternalServerError {
		logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": code, "message": msg})
}

// StartCalibration handles POST /v1/calibration/sessions
func (h *Handler) StartCalibration(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	sess, err := h.service.StartCalibration(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

// SaveBaseline handles POST /v1/calibration/baseline
func (h *Handler) SaveBaseline(c *gin.Context) {
	var req CalibrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	res, err := h.service.SaveBaseline(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"calibration": res,
	})
}

// GetThreshold handles GET /v1/thresholds/:studentId
func (h *Handler) GetThreshold(c *gin.Context) {
	ctx, cancel := h.ctx(c)
	defer cancel()

	row, err := h.service.Threshold(ctx, c.Param("studentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threshold": row})
}

// ThresholdHistory handles GET /v1/thresholds/:studentId/history
func (h *Handler) ThresholdHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	ctx, cancel := h.ctx(c)
	defer cancel()

	rows, err := h.service.ThresholdHistory(ctx, c.Param("studentId"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"thresholds": rows,
		"count":      len(rows),
	})
}

// Analyze handles POST /v1/exam/analyze
func (h *Handler) Analyze(c *gin.Context) {
	var req PollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	analysis, err := h.service.Analyze(ctx, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analysis)
}

// ListIncidents handles GET /v1/exam/sessions/:sessionId/incidents
func (h *Handler) ListIncidents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	ctx, cancel := h.ctx(c)
	defer cancel()

	page, err := h.service.Incidents(ctx, c.Param("sessionId"), limit, c.Query("cursor"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"incidents":   page.Items,
		"count":       len(page.Items),
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}
