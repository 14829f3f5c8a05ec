package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/neurobridge/assessment-session/internal/services"
	"github.com/neurobridge/assessment-session/internal/utils"
)

type SessionHandler struct {
	BaseHandler
	sessionService services.SessionService
	exportService  services.ExportService
}

func NewSessionHandler(
	sessionService services.SessionService,
	exportService services.ExportService,
	logger utils.Logger,
) *SessionHandler {
	return &SessionHandler{
		BaseHandler:    NewBaseHandler(logger),
		sessionService: sessionService,
		exportService:  exportService,
	}
}

// SessionView is the current session together with its lifecycle state.
type SessionView struct {
	State   models.SessionState       `json:"state"`
	Session *models.AssessmentSession `json:"session"`
}

// CreateSession starts a new session, replacing any current one
// @Summary Create session
// @Tags session
// @Accept json
// @Produce json
// @Param session body services.CreateSessionRequest false "Session options"
// @Success 201 {object} SessionView
// @Failure 400 {object} ErrorResponse
// @Router /session [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    CodeValidation,
		})
		return
	}

	h.LogRequest(c, "Creating assessment session", "assessment_type", req.AssessmentType)

	ctx := c.Request.Context()
	sessionID, err := h.sessionService.CreateSession(ctx, &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	session := h.sessionService.GetCurrentSession(ctx)
	if session == nil {
		// the session was created but could not be persisted
		h.RespondWithError(c, http.StatusInsufficientStorage, "Session could not be stored", nil,
			map[string]interface{}{"session_id": sessionID})
		return
	}

	c.JSON(http.StatusCreated, SessionView{State: models.SessionActive, Session: session})
}

// GetSession returns the current session, if any
// @Summary Get current session
// @Tags session
// @Produce json
// @Success 200 {object} SessionView
// @Router /session [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, SessionView{
		State:   h.sessionService.State(ctx),
		Session: h.sessionService.GetCurrentSession(ctx),
	})
}

// AbandonSession discards the current session without completing it
// @Summary Abandon session
// @Tags session
// @Produce json
// @Success 200 {object} SuccessResponse
// @Router /session [delete]
func (h *SessionHandler) AbandonSession(c *gin.Context) {
	h.sessionService.Abandon(c.Request.Context())
	h.RespondWithSuccess(c, http.StatusOK, "Session abandoned", nil)
}

// AddResponse appends a response to the current session
// @Summary Add response
// @Tags session
// @Accept json
// @Produce json
// @Param response body models.StoredResponse true "Response"
// @Success 201 {object} models.StoredResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /session/responses [post]
func (h *SessionHandler) AddResponse(c *gin.Context) {
	var req models.StoredResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    CodeValidation,
		})
		return
	}

	stored, err := h.sessionService.AddResponse(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, stored)
}

// ListResponses returns all responses, or those of one category
// @Summary List responses
// @Tags session
// @Produce json
// @Param category query string false "Category name"
// @Success 200 {array} models.StoredResponse
// @Router /session/responses [get]
func (h *SessionHandler) ListResponses(c *gin.Context) {
	ctx := c.Request.Context()
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		c.JSON(http.StatusOK, h.sessionService.GetResponsesByCategory(ctx, category))
		return
	}
	c.JSON(http.StatusOK, h.sessionService.GetAllResponses(ctx))
}

func (h *SessionHandler) GetProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionService.Progress(c.Request.Context()))
}

func (h *SessionHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionService.HealthCheck(c.Request.Context()))
}

func (h *SessionHandler) GetStorageInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionService.StorageInfo(c.Request.Context()))
}

// CompleteSession summarizes and closes the current session
// @Summary Complete session
// @Tags session
// @Produce json
// @Success 200 {object} models.CompletionRecord
// @Failure 404 {object} ErrorResponse
// @Router /session/complete [post]
func (h *SessionHandler) CompleteSession(c *gin.Context) {
	record, err := h.sessionService.Complete(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogInfo(c, "Session completed",
		"session_id", record.SessionID,
		"completion_percentage", record.Summary.CompletionPercentage)
	c.JSON(http.StatusOK, record)
}

func (h *SessionHandler) GetCompletion(c *gin.Context) {
	record, err := h.sessionService.LastCompletion(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *SessionHandler) GetBackup(c *gin.Context) {
	snapshot, err := h.sessionService.Backup(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// RecoverSession restores the current session from the backup snapshot
// @Summary Recover session from backup
// @Tags session
// @Produce json
// @Success 200 {object} SessionView
// @Failure 404 {object} ErrorResponse
// @Router /session/recover [post]
func (h *SessionHandler) RecoverSession(c *gin.Context) {
	session, err := h.sessionService.RecoverFromBackup(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	h.LogInfo(c, "Session recovered from backup", "session_id", session.SessionID)
	c.JSON(http.StatusOK, SessionView{State: models.SessionActive, Session: session})
}

// ExportSession downloads the current or last completed session
// @Summary Export session
// @Tags session
// @Produce json
// @Param format query string false "json, csv or xlsx"
// @Success 200 {file} file
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /session/export [get]
func (h *SessionHandler) ExportSession(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", services.ExportJSON))

	file, err := h.exportService.Export(c.Request.Context(), format)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// ClearAll removes every stored record, including backups and completions
// @Summary Clear all session data
// @Tags session
// @Produce json
// @Success 200 {object} SuccessResponse
// @Router /session/data [delete]
func (h *SessionHandler) ClearAll(c *gin.Context) {
	removed := h.sessionService.ClearAll(c.Request.Context())
	h.RespondWithSuccess(c, http.StatusOK, "All assessment data cleared",
		map[string]interface{}{"keys_removed": removed})
}
