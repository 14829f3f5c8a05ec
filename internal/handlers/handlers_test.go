package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/neurobridge/assessment-session/internal/client"
	"github.com/neurobridge/assessment-session/internal/events"
	"github.com/neurobridge/assessment-session/internal/metrics"
	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/neurobridge/assessment-session/internal/services"
	"github.com/neurobridge/assessment-session/internal/storage"
	"github.com/neurobridge/assessment-session/internal/utils"
	"github.com/neurobridge/assessment-session/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	mu        sync.Mutex
	questions int
	submitErr error
	keys      []string
}

func (b *stubBackend) GenerateQuiz(_ context.Context, req *client.QuizGenerationRequest) (*client.QuizGenerationResponse, error) {
	questions := make([]models.Question, 0, b.questions)
	for i := 1; i <= b.questions; i++ {
		questions = append(questions, models.Question{
			ID:            i,
			QuestionID:    fmt.Sprintf("%s-%d", req.AssessmentType, i),
			Options:       []string{"A", "B"},
			CorrectAnswer: "A",
		})
	}
	return &client.QuizGenerationResponse{SessionID: "backend-" + req.AssessmentType, Questions: questions}, nil
}

func (b *stubBackend) SubmitAssessment(_ context.Context, sub *client.AssessmentSubmission, key string) (*client.AssessmentResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, key)
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return &client.AssessmentResult{TotalQuestions: sub.TotalQuestions, CorrectAnswers: sub.CorrectAnswers}, nil
}

func (b *stubBackend) SubmitCombinedAssessment(_ context.Context, sub *client.CombinedAssessmentSubmission, key string) (*client.AssessmentResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, key)
	if b.submitErr != nil {
		return nil, b.submitErr
	}
	return &client.AssessmentResult{TotalQuestions: len(sub.DyslexiaAnswers) + len(sub.AutismAnswers)}, nil
}

func newTestRouter(t *testing.T, backend services.QuizBackend) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewSessionStore(storage.NewMemoryStore(0), logger)
	publisher := events.NewMockEventPublisher(logger)
	m := metrics.New()
	v := validator.New()

	sessionService := services.NewSessionService(store, publisher, logger, v, services.WithSessionMetrics(m))
	exportService := services.NewExportService(sessionService, logger)
	orchestrator := services.NewPhaseOrchestrator(sessionService, store, backend, models.DefaultAssessmentPlan(),
		publisher, logger, v, services.WithOrchestratorMetrics(m))

	router := gin.New()
	NewHandlerManager(sessionService, exportService, orchestrator, m, utils.NewSlogLogger(logger)).SetupRoutes(router)
	return router
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestSessionRoutes_Lifecycle(t *testing.T) {
	router := newTestRouter(t, &stubBackend{})

	w := perform(router, http.MethodGet, "/api/v1/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[SessionView](t, w)
	assert.Equal(t, models.SessionAbsent, view.State)
	assert.Nil(t, view.Session)

	w = perform(router, http.MethodPost, "/api/v1/session", `{"assessment_type":"autism","student_age":10}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	view = decode[SessionView](t, w)
	require.NotNil(t, view.Session)
	assert.Equal(t, models.AssessmentAutism, view.Session.Metadata.AssessmentType)

	w = perform(router, http.MethodPost, "/api/v1/session/responses",
		`{"questionId":"q1","categoryName":"Social Cues","response":{"type":"true_false","answer":false},"timeTaken":4.5,"categoryIndex":2}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	stored := decode[models.StoredResponse](t, w)
	assert.Equal(t, 1, stored.Sequence)
	assert.NotZero(t, stored.Timestamp)

	w = perform(router, http.MethodGet, "/api/v1/session/responses?category=Social%20Cues", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.StoredResponse](t, w), 1)

	w = perform(router, http.MethodGet, "/api/v1/session/responses?category=Other", "")
	assert.Equal(t, "[]", w.Body.String())

	w = perform(router, http.MethodGet, "/api/v1/session/progress", "")
	progress := decode[models.Progress](t, w)
	assert.Equal(t, 3, progress.CompletedCategories)
	assert.Equal(t, 43, progress.CompletionPercentage)

	w = perform(router, http.MethodGet, "/api/v1/session/backup", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(router, http.MethodPost, "/api/v1/session/complete", "")
	require.Equal(t, http.StatusOK, w.Code)
	record := decode[models.CompletionRecord](t, w)
	assert.Equal(t, view.Session.SessionID, record.SessionID)

	w = perform(router, http.MethodGet, "/api/v1/session/completion", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(router, http.MethodGet, "/api/v1/session", "")
	assert.Equal(t, models.SessionCompleted, decode[SessionView](t, w).State)

	w = perform(router, http.MethodDelete, "/api/v1/session/data", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = perform(router, http.MethodGet, "/api/v1/session/completion", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSession_EmptyBodyDefaultsToDyslexia(t *testing.T) {
	router := newTestRouter(t, &stubBackend{})

	w := perform(router, http.MethodPost, "/api/v1/session", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, models.AssessmentDyslexia, decode[SessionView](t, w).Session.Metadata.AssessmentType)

	w = perform(router, http.MethodPost, "/api/v1/session", `{"assessment_type":"adhd"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeValidation, decode[ErrorResponse](t, w).Code)
}

func TestAddResponse_Errors(t *testing.T) {
	router := newTestRouter(t, &stubBackend{})
	body := `{"questionId":"q1","categoryName":"c","response":{"type":"multiple_choice","choice":"A"},"categoryIndex":0}`

	w := perform(router, http.MethodPost, "/api/v1/session/responses", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, w).Code)

	perform(router, http.MethodPost, "/api/v1/session", "")

	w = perform(router, http.MethodPost, "/api/v1/session/responses", `{"questionId":"","categoryName":"c","response":{"type":"multiple_choice"}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "Validation failed", resp.Message)
	assert.NotNil(t, resp.Details)

	w = perform(router, http.MethodPost, "/api/v1/session/responses", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecoveryRoutes_NothingStored(t *testing.T) {
	router := newTestRouter(t, &stubBackend{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/session/completion"},
		{http.MethodGet, "/api/v1/session/backup"},
		{http.MethodPost, "/api/v1/session/recover"},
		{http.MethodPost, "/api/v1/session/complete"},
		{http.MethodGet, "/api/v1/session/export"},
	} {
		w := perform(router, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
	}

	w := perform(router, http.MethodGet, "/api/v1/session/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.HealthWarning, decode[models.HealthReport](t, w).Status)
}

func TestRecoverSession(t *testing.T) {
	router := newTestRouter(t, &stubBackend{})

	created := decode[SessionView](t, perform(router, http.MethodPost, "/api/v1/session", ""))
	w := perform(router, http.MethodPost, "/api/v1/session/recover", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.Session.SessionID, decode[SessionView](t, w).Session.SessionID)
}

func TestExportSession(t *testing.T) {
	router := newTestRouter(t, &stubBackend{})
	perform(router, http.MethodPost, "/api/v1/session", "")

	w := perform(router, http.MethodGet, "/api/v1/session/export?format=CSV", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.True(t, strings.HasPrefix(w.Body.String(), "Sequence,Question ID"))

	w = perform(router, http.MethodGet, "/api/v1/session/export?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssessmentRoutes_SubmitFailureThenRetry(t *testing.T) {
	backend := &stubBackend{questions: 1, submitErr: &client.APIError{StatusCode: 503, Detail: "scoring offline"}}
	router := newTestRouter(t, backend)

	w := perform(router, http.MethodGet, "/api/v1/assessment", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = perform(router, http.MethodPost, "/api/v1/assessment/start", `{"assessment_type":"dyslexia"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	state := decode[services.AssessmentState](t, w)
	require.NotNil(t, state.Question)
	assert.Empty(t, state.Question.CorrectAnswer)

	w = perform(router, http.MethodPost, "/api/v1/assessment/answer", `{"type":"multiple_choice","choice":" "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(router, http.MethodPost, "/api/v1/assessment/answer", `{"type":"multiple_choice","choice":"A"}`)
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	failure := decode[ErrorResponse](t, w)
	assert.Equal(t, CodeBackend, failure.Code)
	require.NotNil(t, failure.State)
	assert.Equal(t, string(services.FlowSubmitFailed), failure.State.(map[string]interface{})["status"])

	backend.mu.Lock()
	backend.submitErr = nil
	backend.mu.Unlock()

	w = perform(router, http.MethodPost, "/api/v1/assessment/submit", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state = decode[services.AssessmentState](t, w)
	assert.Equal(t, services.FlowCompleted, state.Status)
	require.NotNil(t, state.Result)
	assert.Equal(t, 1, state.Result.CorrectAnswers)

	require.Len(t, backend.keys, 2)
	assert.Equal(t, backend.keys[0], backend.keys[1])

	w = perform(router, http.MethodDelete, "/api/v1/assessment", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAssessmentRoutes_Conflicts(t *testing.T) {
	router := newTestRouter(t, &stubBackend{questions: 2})

	w := perform(router, http.MethodPost, "/api/v1/assessment/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(router, http.MethodPost, "/api/v1/assessment/start", `{"assessment_type":"combined"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = perform(router, http.MethodPost, "/api/v1/assessment/submit", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeConflict, decode[ErrorResponse](t, w).Code)

	w = perform(router, http.MethodPost, "/api/v1/assessment/resume", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dyslexia", decode[services.AssessmentState](t, w).Phase)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, &stubBackend{})
	perform(router, http.MethodPost, "/api/v1/session", "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = perform(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `assessment_session_sessions_created_total{assessment_type="dyslexia"} 1`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"precondition", &services.PreconditionError{Phase: "dyslexia", Missing: "stashed answers"}, http.StatusUnprocessableEntity, CodePrecondition},
		{"business rule", services.NewBusinessRuleError("combined_phases", "bad plan", nil), http.StatusUnprocessableEntity, CodeBusinessRule},
		{"backend", fmt.Errorf("submit: %w", &client.APIError{StatusCode: 500, Detail: "boom"}), http.StatusBadGateway, CodeBackend},
		{"no questions", fmt.Errorf("%w for phase autism", services.ErrNoQuestions), http.StatusBadGateway, CodeBackend},
		{"conflict", services.ErrSubmissionInProgress, http.StatusConflict, CodeConflict},
		{"not found", services.ErrNoBackup, http.StatusNotFound, CodeNotFound},
		{"unknown type", fmt.Errorf("%w: adhd", services.ErrUnknownAssessmentType), http.StatusBadRequest, CodeValidation},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := errorResponse(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}
