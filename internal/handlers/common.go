package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/neurobridge/assessment-session/internal/client"
	"github.com/neurobridge/assessment-session/internal/services"
	"github.com/neurobridge/assessment-session/internal/utils"
)

// ===== COMMON RESPONSE STRUCTURES =====

// ErrorResponse represents an error response
type ErrorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Code    string      `json:"code,omitempty"`
	// State carries the assessment flow as it stands after a failed step.
	State interface{} `json:"state,omitempty"`
}

// SuccessResponse represents a success response
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	CodeValidation   = "validation_failed"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodePrecondition = "precondition_failed"
	CodeBusinessRule = "business_rule"
	CodeBackend      = "backend_error"
	CodeInternal     = "internal_error"
)

// ===== BASE HANDLER STRUCT =====

// BaseHandler provides common logging functionality for all handlers
type BaseHandler struct {
	logger utils.Logger
}

// NewBaseHandler creates a new base handler with logging capability
func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{
		logger: logger,
	}
}

func (h *BaseHandler) requestFields(c *gin.Context, additionalFields []interface{}) []interface{} {
	fields := []interface{}{
		"request_id", requestID(c),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	}
	return append(fields, additionalFields...)
}

// LogRequest logs incoming HTTP requests with context information
func (h *BaseHandler) LogRequest(c *gin.Context, message string, additionalFields ...interface{}) {
	fields := h.requestFields(c, additionalFields)
	fields = append(fields, "remote_addr", c.ClientIP(), "user_agent", c.Request.UserAgent())
	h.logger.InfoContext(c.Request.Context(), message, fields...)
}

// LogError logs error details with context information
func (h *BaseHandler) LogError(c *gin.Context, err error, message string, additionalFields ...interface{}) {
	h.logger.LogError(err, message, h.requestFields(c, additionalFields)...)
}

// LogInfo logs informational messages with context
func (h *BaseHandler) LogInfo(c *gin.Context, message string, additionalFields ...interface{}) {
	h.logger.InfoContext(c.Request.Context(), message, h.requestFields(c, additionalFields)...)
}

// LogWarn logs warning messages with context
func (h *BaseHandler) LogWarn(c *gin.Context, message string, additionalFields ...interface{}) {
	h.logger.WarnContext(c.Request.Context(), message, h.requestFields(c, additionalFields)...)
}

// RespondWithError sends a consistent error response and logs it
func (h *BaseHandler) RespondWithError(c *gin.Context, statusCode int, message string, err error, details ...interface{}) {
	errorResp := ErrorResponse{
		Message: message,
	}

	if len(details) > 0 {
		errorResp.Details = details[0]
	}

	if err != nil {
		h.LogError(c, err, message, "status_code", statusCode)
	} else {
		h.LogWarn(c, message, "status_code", statusCode)
	}

	c.JSON(statusCode, errorResp)
}

// RespondWithSuccess sends a consistent success response and logs it
func (h *BaseHandler) RespondWithSuccess(c *gin.Context, statusCode int, message string, data interface{}, additionalFields ...interface{}) {
	fields := []interface{}{"status_code", statusCode}
	fields = append(fields, additionalFields...)
	h.LogInfo(c, message, fields...)

	c.JSON(statusCode, SuccessResponse{
		Message: message,
		Data:    data,
	})
}

// ===== SERVICE ERROR MAPPING =====

// errorResponse maps a service error onto a status code and response body.
func errorResponse(err error) (int, ErrorResponse) {
	var validationErrors services.ValidationErrors
	if errors.As(err, &validationErrors) {
		return http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Details: validationErrors,
			Code:    CodeValidation,
		}
	}

	var preconditionError *services.PreconditionError
	if errors.As(err, &preconditionError) {
		return http.StatusUnprocessableEntity, ErrorResponse{
			Message: preconditionError.Error(),
			Details: map[string]interface{}{
				"phase":   preconditionError.Phase,
				"missing": preconditionError.Missing,
			},
			Code: CodePrecondition,
		}
	}

	var businessRuleError *services.BusinessRuleError
	if errors.As(err, &businessRuleError) {
		return http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessRuleError.Message,
			Details: map[string]interface{}{
				"rule":    businessRuleError.Rule,
				"context": businessRuleError.Context,
			},
			Code: CodeBusinessRule,
		}
	}

	var apiError *client.APIError
	if errors.As(err, &apiError) {
		return http.StatusBadGateway, ErrorResponse{
			Message: "Quiz backend request failed",
			Details: map[string]interface{}{
				"status_code": apiError.StatusCode,
				"detail":      apiError.Detail,
			},
			Code: CodeBackend,
		}
	}

	switch {
	case services.IsValidation(err):
		return http.StatusBadRequest, ErrorResponse{Message: err.Error(), Code: CodeValidation}
	case services.IsNotFound(err):
		return http.StatusNotFound, ErrorResponse{Message: err.Error(), Code: CodeNotFound}
	case services.IsConflict(err):
		return http.StatusConflict, ErrorResponse{Message: err.Error(), Code: CodeConflict}
	case errors.Is(err, services.ErrNoQuestions):
		return http.StatusBadGateway, ErrorResponse{Message: err.Error(), Code: CodeBackend}
	default:
		return http.StatusInternalServerError, ErrorResponse{Message: "Internal server error", Code: CodeInternal}
	}
}

func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	h.handleFlowError(c, err, nil)
}

// handleFlowError is handleServiceError for calls that still return the
// flow state alongside the error.
func (h *BaseHandler) handleFlowError(c *gin.Context, err error, state interface{}) {
	status, resp := errorResponse(err)
	if state != nil {
		resp.State = state
	}

	if status >= http.StatusInternalServerError {
		h.LogError(c, err, "Service request failed", "status_code", status)
	} else {
		h.LogWarn(c, resp.Message, "status_code", status, "error", err)
	}
	c.JSON(status, resp)
}
