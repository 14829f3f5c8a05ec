package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/neurobridge/assessment-session/internal/metrics"
	"github.com/neurobridge/assessment-session/internal/services"
	"github.com/neurobridge/assessment-session/internal/utils"
)

type HandlerManager struct {
	sessionHandler    *SessionHandler
	assessmentHandler *AssessmentHandler
	metrics           *metrics.Metrics
}

func NewHandlerManager(
	sessionService services.SessionService,
	exportService services.ExportService,
	orchestrator services.PhaseOrchestrator,
	m *metrics.Metrics,
	logger utils.Logger,
) *HandlerManager {
	return &HandlerManager{
		sessionHandler:    NewSessionHandler(sessionService, exportService, logger),
		assessmentHandler: NewAssessmentHandler(orchestrator, logger),
		metrics:           m,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	router.Use(RequestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "assessment-session",
		})
	})
	router.GET("/metrics", gin.WrapH(hm.metrics.Handler()))

	v1 := router.Group("/api/v1")
	{
		session := v1.Group("/session")
		{
			session.POST("", hm.sessionHandler.CreateSession)
			session.GET("", hm.sessionHandler.GetSession)
			session.DELETE("", hm.sessionHandler.AbandonSession)

			session.POST("/responses", hm.sessionHandler.AddResponse)
			session.GET("/responses", hm.sessionHandler.ListResponses)

			session.GET("/progress", hm.sessionHandler.GetProgress)
			session.GET("/health", hm.sessionHandler.GetHealth)
			session.GET("/storage", hm.sessionHandler.GetStorageInfo)

			session.POST("/complete", hm.sessionHandler.CompleteSession)
			session.GET("/completion", hm.sessionHandler.GetCompletion)

			// Recovery
			session.GET("/backup", hm.sessionHandler.GetBackup)
			session.POST("/recover", hm.sessionHandler.RecoverSession)

			session.GET("/export", hm.sessionHandler.ExportSession)
			session.DELETE("/data", hm.sessionHandler.ClearAll)
		}

		assessment := v1.Group("/assessment")
		{
			assessment.POST("/start", hm.assessmentHandler.StartAssessment)
			assessment.GET("", hm.assessmentHandler.GetAssessment)
			assessment.POST("/answer", hm.assessmentHandler.AnswerQuestion)
			assessment.POST("/resume", hm.assessmentHandler.ResumeAssessment)
			assessment.POST("/submit", hm.assessmentHandler.SubmitAssessment)
			assessment.DELETE("", hm.assessmentHandler.ResetAssessment)
		}
	}
}
