package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/neurobridge/assessment-session/internal/services"
	"github.com/neurobridge/assessment-session/internal/utils"
)

type AssessmentHandler struct {
	BaseHandler
	orchestrator services.PhaseOrchestrator
}

func NewAssessmentHandler(
	orchestrator services.PhaseOrchestrator,
	logger utils.Logger,
) *AssessmentHandler {
	return &AssessmentHandler{
		BaseHandler:  NewBaseHandler(logger),
		orchestrator: orchestrator,
	}
}

// StartAssessment begins a new multi-phase assessment
// @Summary Start assessment
// @Description Creates a session and loads the first phase's questions
// @Tags assessment
// @Accept json
// @Produce json
// @Param assessment body services.StartAssessmentRequest true "Assessment type and pre-assessment data"
// @Success 201 {object} services.AssessmentState
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /assessment/start [post]
func (h *AssessmentHandler) StartAssessment(c *gin.Context) {
	var req services.StartAssessmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    CodeValidation,
		})
		return
	}

	h.LogRequest(c, "Starting assessment", "assessment_type", req.AssessmentType)

	state, err := h.orchestrator.Start(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, state)
}

// GetAssessment returns the running assessment
// @Summary Get assessment state
// @Tags assessment
// @Produce json
// @Success 200 {object} services.AssessmentState
// @Failure 404 {object} ErrorResponse
// @Router /assessment [get]
func (h *AssessmentHandler) GetAssessment(c *gin.Context) {
	state, err := h.orchestrator.Current(c.Request.Context())
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

// AnswerQuestion records the answer to the current question and advances
// @Summary Answer current question
// @Description Answering the last question of the final phase submits the assessment
// @Tags assessment
// @Accept json
// @Produce json
// @Param response body models.ResponsePayload true "Answer"
// @Success 200 {object} services.AssessmentState
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /assessment/answer [post]
func (h *AssessmentHandler) AnswerQuestion(c *gin.Context) {
	var req models.ResponsePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
			Code:    CodeValidation,
		})
		return
	}

	state, err := h.orchestrator.Answer(c.Request.Context(), req)
	h.respondWithState(c, state, err)
}

// ResumeAssessment retries loading a phase that failed to load
// @Summary Resume assessment
// @Tags assessment
// @Produce json
// @Success 200 {object} services.AssessmentState
// @Failure 404 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /assessment/resume [post]
func (h *AssessmentHandler) ResumeAssessment(c *gin.Context) {
	state, err := h.orchestrator.Resume(c.Request.Context())
	h.respondWithState(c, state, err)
}

// SubmitAssessment submits, or retries submitting, the finished assessment
// @Summary Submit assessment
// @Tags assessment
// @Produce json
// @Success 200 {object} services.AssessmentState
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /assessment/submit [post]
func (h *AssessmentHandler) SubmitAssessment(c *gin.Context) {
	state, err := h.orchestrator.Submit(c.Request.Context())
	h.respondWithState(c, state, err)
}

// ResetAssessment abandons the running assessment
// @Summary Reset assessment
// @Tags assessment
// @Produce json
// @Success 200 {object} SuccessResponse
// @Failure 409 {object} ErrorResponse
// @Router /assessment [delete]
func (h *AssessmentHandler) ResetAssessment(c *gin.Context) {
	if err := h.orchestrator.Reset(c.Request.Context()); err != nil {
		h.handleServiceError(c, err)
		return
	}
	h.RespondWithSuccess(c, http.StatusOK, "Assessment reset", nil)
}

func (h *AssessmentHandler) respondWithState(c *gin.Context, state *services.AssessmentState, err error) {
	if err != nil {
		if state != nil {
			h.handleFlowError(c, err, state)
			return
		}
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
