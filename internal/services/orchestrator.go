package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/neurobridge/assessment-session/internal/client"
	"github.com/neurobridge/assessment-session/internal/clock"
	"github.com/neurobridge/assessment-session/internal/events"
	"github.com/neurobridge/assessment-session/internal/metrics"
	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/neurobridge/assessment-session/internal/storage"
	"github.com/neurobridge/assessment-session/internal/validator"
	"golang.org/x/sync/singleflight"
)

// QuizBackend is the part of the quiz backend the orchestrator depends on.
type QuizBackend interface {
	GenerateQuiz(ctx context.Context, req *client.QuizGenerationRequest) (*client.QuizGenerationResponse, error)
	SubmitAssessment(ctx context.Context, submission *client.AssessmentSubmission, idempotencyKey string) (*client.AssessmentResult, error)
	SubmitCombinedAssessment(ctx context.Context, submission *client.CombinedAssessmentSubmission, idempotencyKey string) (*client.AssessmentResult, error)
}

// PhaseOrchestrator walks a student through one question at a time, across
// the phases of the chosen assessment, and submits everything once at the end.
type PhaseOrchestrator interface {
	Start(ctx context.Context, req *StartAssessmentRequest) (*AssessmentState, error)
	Current(ctx context.Context) (*AssessmentState, error)
	Answer(ctx context.Context, response models.ResponsePayload) (*AssessmentState, error)
	Resume(ctx context.Context) (*AssessmentState, error)
	Submit(ctx context.Context) (*AssessmentState, error)
	Reset(ctx context.Context) error
}

type FlowStatus string

const (
	FlowInProgress      FlowStatus = "in_progress"
	FlowPhaseLoadFailed FlowStatus = "phase_load_failed"
	FlowSubmitting      FlowStatus = "submitting"
	FlowSubmitFailed    FlowStatus = "submit_failed"
	FlowCompleted       FlowStatus = "completed"
)

type StartAssessmentRequest struct {
	AssessmentType       string `json:"assessment_type" validate:"required,assessment_type"`
	StudentAge           *int   `json:"student_age,omitempty" validate:"omitempty,gte=3,lte=100"`
	Grade                string `json:"grade,omitempty"`
	ReadingLevel         string `json:"reading_level,omitempty"`
	PrimaryLanguage      string `json:"primary_language,omitempty"`
	HasReadingDifficulty *bool  `json:"has_reading_difficulty,omitempty"`
	NeedsAssistance      *bool  `json:"needs_assistance,omitempty"`
	PreviousAssessment   *bool  `json:"previous_assessment,omitempty"`
}

// AssessmentState is the read view of the running flow. Question omits the
// correct answer.
type AssessmentState struct {
	SessionID       string                   `json:"session_id"`
	AssessmentType  string                   `json:"assessment_type"`
	Status          FlowStatus               `json:"status"`
	Phase           string                   `json:"phase"`
	PhaseIndex      int                      `json:"phase_index"`
	TotalPhases     int                      `json:"total_phases"`
	QuestionIndex   int                      `json:"question_index"`
	TotalQuestions  int                      `json:"total_questions"`
	Question        *models.Question         `json:"question,omitempty"`
	AnsweredInPhase int                      `json:"answered_in_phase"`
	Progress        models.Progress          `json:"progress"`
	Result          *client.AssessmentResult `json:"result,omitempty"`
	LastError       string                   `json:"last_error,omitempty"`
}

type assessmentFlow struct {
	request          StartAssessmentRequest
	sessionID        string
	startedAt        time.Time
	phases           []models.PhaseDefinition
	phaseIndex       int
	backendSessionID string
	questions        []models.Question
	questionIndex    int
	answers          []models.AssessmentAnswer
	timings          []models.QuestionTiming
	status           FlowStatus
	idempotencyKey   string
	result           *client.AssessmentResult
	lastError        string
}

func (f *assessmentFlow) currentPhase() models.PhaseDefinition {
	return f.phases[f.phaseIndex]
}

func (f *assessmentFlow) isFinalPhase() bool {
	return f.phaseIndex == len(f.phases)-1
}

func (f *assessmentFlow) phaseFinished() bool {
	return f.questionIndex >= len(f.questions)
}

type phaseOrchestrator struct {
	mu        sync.Mutex
	sessions  SessionService
	store     *storage.SessionStore
	backend   QuizBackend
	plan      *models.AssessmentPlan
	validator *validator.Validator
	events    *eventEmitter
	metrics   *metrics.Metrics
	clock     clock.Clock
	timer     *QuestionTimer
	logger    *ServiceLogger
	submits   singleflight.Group
	flow      *assessmentFlow
}

type OrchestratorOption func(*phaseOrchestrator)

func WithOrchestratorClock(c clock.Clock) OrchestratorOption {
	return func(o *phaseOrchestrator) { o.clock = c }
}

func WithOrchestratorMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *phaseOrchestrator) { o.metrics = m }
}

func NewPhaseOrchestrator(
	sessions SessionService,
	store *storage.SessionStore,
	backend QuizBackend,
	plan *models.AssessmentPlan,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *validator.Validator,
	opts ...OrchestratorOption,
) PhaseOrchestrator {
	o := &phaseOrchestrator{
		sessions:  sessions,
		store:     store,
		backend:   backend,
		plan:      plan,
		validator: validator,
		events:    newEventEmitter(publisher, logger),
		clock:     clock.Real(),
		logger:    NewServiceLogger(logger, LogConfig{Service: "assessment-session", Component: "orchestrator"}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.timer = NewQuestionTimer(o.clock)
	return o
}

// ===== START =====

func (o *phaseOrchestrator) Start(ctx context.Context, req *StartAssessmentRequest) (*AssessmentState, error) {
	op := o.logger.WithOperation(ctx, "start_assessment")

	if req == nil {
		req = &StartAssessmentRequest{}
	}
	if err := o.validator.Validate(req); err != nil {
		op.LogResult("", err)
		return nil, err
	}

	phases, ok := o.plan.Phases(req.AssessmentType)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownAssessmentType, req.AssessmentType)
		op.LogResult("", err)
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.flow != nil && o.flow.status == FlowSubmitting {
		op.LogResult(o.flow.sessionID, ErrSubmissionInProgress)
		return nil, ErrSubmissionInProgress
	}

	// stashes from an earlier, unfinished attempt must not leak into this one
	if o.flow != nil {
		o.clearStashes(ctx, o.flow.phases)
	}
	o.clearStashes(ctx, phases)

	sessionID, err := o.sessions.CreateSession(ctx, &CreateSessionRequest{
		AssessmentType: req.AssessmentType,
		StudentAge:     req.StudentAge,
	})
	if err != nil {
		op.LogResult("", err)
		return nil, err
	}

	startedAt := o.clock.Now()
	if session := o.sessions.GetCurrentSession(ctx); session != nil {
		startedAt = time.UnixMilli(session.StartTime)
	}

	flow := &assessmentFlow{
		request:   *req,
		sessionID: sessionID,
		startedAt: startedAt,
		phases:    phases,
	}

	if err := o.loadPhase(ctx, flow, 0); err != nil {
		o.sessions.Abandon(ctx)
		o.flow = nil
		op.LogResult(sessionID, err)
		return nil, err
	}

	o.flow = flow
	op.LogResult(sessionID, nil)
	return o.stateLocked(ctx), nil
}

// loadPhase fetches a phase's questions and makes it the current phase.
// The flow is left untouched when the backend call fails.
func (o *phaseOrchestrator) loadPhase(ctx context.Context, flow *assessmentFlow, index int) error {
	phase := flow.phases[index]
	req := flow.request

	resp, err := o.backend.GenerateQuiz(ctx, &client.QuizGenerationRequest{
		AssessmentType:       phase.Condition,
		Age:                  req.StudentAge,
		Grade:                req.Grade,
		ReadingLevel:         req.ReadingLevel,
		PrimaryLanguage:      req.PrimaryLanguage,
		HasReadingDifficulty: req.HasReadingDifficulty,
		NeedsAssistance:      req.NeedsAssistance,
		PreviousAssessment:   req.PreviousAssessment,
	})
	if err != nil {
		return fmt.Errorf("failed to generate %s questions: %w", phase.Name, err)
	}
	if len(resp.Questions) == 0 {
		return fmt.Errorf("%w for phase %s", ErrNoQuestions, phase.Name)
	}

	flow.phaseIndex = index
	flow.backendSessionID = resp.SessionID
	flow.questions = resp.Questions
	flow.questionIndex = 0
	flow.answers = make([]models.AssessmentAnswer, 0, len(resp.Questions))
	flow.timings = make([]models.QuestionTiming, 0, len(resp.Questions))
	flow.status = FlowInProgress
	flow.lastError = ""

	o.timer.Start()
	return nil
}

// ===== READ =====

func (o *phaseOrchestrator) Current(ctx context.Context) (*AssessmentState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.flow == nil {
		return nil, ErrNoActiveAssessment
	}
	return o.stateLocked(ctx), nil
}

func (o *phaseOrchestrator) stateLocked(ctx context.Context) *AssessmentState {
	flow := o.flow
	state := &AssessmentState{
		SessionID:       flow.sessionID,
		AssessmentType:  flow.request.AssessmentType,
		Status:          flow.status,
		Phase:           flow.currentPhase().Name,
		PhaseIndex:      flow.phaseIndex,
		TotalPhases:     len(flow.phases),
		QuestionIndex:   flow.questionIndex,
		TotalQuestions:  len(flow.questions),
		AnsweredInPhase: len(flow.answers),
		Progress:        o.sessions.Progress(ctx),
		Result:          flow.result,
		LastError:       flow.lastError,
	}

	if flow.status == FlowInProgress && !flow.phaseFinished() {
		question := flow.questions[flow.questionIndex]
		question.CorrectAnswer = ""
		question.Explanation = ""
		state.Question = &question
	}
	return state
}

// ===== ANSWER =====

func (o *phaseOrchestrator) Answer(ctx context.Context, response models.ResponsePayload) (*AssessmentState, error) {
	state, submitNow, err := o.answer(ctx, response)
	if err != nil || !submitNow {
		return state, err
	}
	return o.Submit(ctx)
}

func (o *phaseOrchestrator) answer(ctx context.Context, response models.ResponsePayload) (*AssessmentState, bool, error) {
	op := o.logger.WithOperation(ctx, "answer_question")

	o.mu.Lock()
	defer o.mu.Unlock()

	flow := o.flow
	if flow == nil {
		op.LogResult("", ErrNoActiveAssessment)
		return nil, false, ErrNoActiveAssessment
	}

	switch flow.status {
	case FlowSubmitting:
		op.LogResult(flow.sessionID, ErrSubmissionInProgress)
		return nil, false, ErrSubmissionInProgress
	case FlowSubmitFailed, FlowCompleted, FlowPhaseLoadFailed:
		op.LogResult(flow.sessionID, ErrAssessmentFinished)
		return nil, false, ErrAssessmentFinished
	}

	if flow.phaseFinished() {
		op.LogResult(flow.sessionID, ErrAssessmentFinished)
		return nil, false, ErrAssessmentFinished
	}
	if err := o.validator.Validate(response); err != nil {
		op.LogResult(flow.sessionID, err)
		return nil, false, err
	}
	if response.IsEmpty() {
		op.LogResult(flow.sessionID, ErrEmptyResponse)
		return nil, false, ErrEmptyResponse
	}

	question := flow.questions[flow.questionIndex]
	phase := flow.currentPhase()
	now := o.clock.Now()
	startedAt := o.timer.StartedAt()
	responseTime := o.timer.Elapsed()

	if _, err := o.sessions.AddResponse(ctx, &models.StoredResponse{
		QuestionID:    questionKey(question),
		CategoryName:  phase.Name,
		Response:      response,
		TimeTaken:     responseTime,
		Timestamp:     now.UnixMilli(),
		QuestionIndex: flow.questionIndex,
		CategoryIndex: phase.CategoryIndex,
	}); err != nil {
		op.LogResult(flow.sessionID, err)
		return nil, false, err
	}

	selected := response.SelectedAnswer()
	flow.answers = append(flow.answers, models.AssessmentAnswer{
		QuestionID:     questionKey(question),
		SelectedAnswer: selected,
		IsCorrect:      selected == question.CorrectAnswer,
		ResponseTime:   responseTime,
	})
	flow.timings = append(flow.timings, models.QuestionTiming{
		QuestionID:   questionKey(question),
		StartTime:    startedAt.UnixMilli(),
		EndTime:      now.UnixMilli(),
		ResponseTime: responseTime,
	})
	flow.questionIndex++
	o.timer.Start()

	if !flow.phaseFinished() {
		op.LogResult(flow.sessionID, nil)
		return o.stateLocked(ctx), false, nil
	}

	if flow.isFinalPhase() {
		// hand over to Submit without letting another answer slip in
		flow.status = FlowSubmitting
		op.LogResult(flow.sessionID, nil)
		return nil, true, nil
	}

	err := o.advancePhase(ctx, flow)
	op.LogResult(flow.sessionID, err)
	return o.stateLocked(ctx), false, err
}

// questionKey prefers the backend's tracking id over the numeric one.
func questionKey(q models.Question) string {
	if q.QuestionID != "" {
		return q.QuestionID
	}
	return strconv.Itoa(q.ID)
}

// advancePhase stashes the finished phase and loads the next one. When the
// next phase cannot be loaded the flow waits in phase_load_failed for Resume.
func (o *phaseOrchestrator) advancePhase(ctx context.Context, flow *assessmentFlow) error {
	phase := flow.currentPhase()
	stash := &models.PhaseStash{
		Phase:            phase.Name,
		BackendSessionID: flow.backendSessionID,
		Answers:          flow.answers,
		Timings:          flow.timings,
		CompletedAt:      o.clock.Now().UnixMilli(),
	}
	if !o.store.SavePhaseStash(ctx, stash) {
		o.metrics.StoreFailure("save_phase_stash")
	}

	next := flow.phases[flow.phaseIndex+1]
	o.events.emit(ctx, events.EventPhaseCompleted, flow.sessionID, events.PhaseCompletedEvent{
		Phase:     phase.Name,
		NextPhase: next.Name,
		Answers:   len(flow.answers),
	})

	if err := o.loadPhase(ctx, flow, flow.phaseIndex+1); err != nil {
		flow.status = FlowPhaseLoadFailed
		flow.lastError = err.Error()
		return err
	}
	return nil
}

// Resume retries loading the next phase after a failed transition.
func (o *phaseOrchestrator) Resume(ctx context.Context) (*AssessmentState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	flow := o.flow
	if flow == nil {
		return nil, ErrNoActiveAssessment
	}
	if flow.status != FlowPhaseLoadFailed {
		return o.stateLocked(ctx), nil
	}

	if err := o.loadPhase(ctx, flow, flow.phaseIndex+1); err != nil {
		flow.lastError = err.Error()
		return o.stateLocked(ctx), err
	}
	return o.stateLocked(ctx), nil
}

// ===== SUBMIT =====

// Submit sends the assembled assessment. It is safe to call again after a
// failure: the idempotency key of the first attempt is reused, and
// concurrent calls share one backend request.
func (o *phaseOrchestrator) Submit(ctx context.Context) (*AssessmentState, error) {
	o.mu.Lock()
	flow := o.flow
	if flow == nil {
		o.mu.Unlock()
		return nil, ErrNoActiveAssessment
	}

	switch flow.status {
	case FlowCompleted:
		state := o.stateLocked(ctx)
		o.mu.Unlock()
		return state, nil
	case FlowInProgress, FlowPhaseLoadFailed:
		if !flow.isFinalPhase() || !flow.phaseFinished() {
			o.mu.Unlock()
			return nil, ErrNotReadyToSubmit
		}
	}

	if flow.idempotencyKey == "" {
		flow.idempotencyKey = uuid.NewString()
	}
	key := flow.idempotencyKey
	flow.status = FlowSubmitting
	o.mu.Unlock()

	// a caller that goes away must not abort a submission the backend may already be processing
	submitCtx := context.WithoutCancel(ctx)
	_, err, _ := o.submits.Do(key, func() (interface{}, error) {
		o.mu.Lock()
		done := flow.status == FlowCompleted
		o.mu.Unlock()
		if done {
			return nil, nil
		}
		return nil, o.submit(submitCtx, flow, key)
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.flow != flow {
		return nil, ErrNoActiveAssessment
	}
	return o.stateLocked(ctx), err
}

func (o *phaseOrchestrator) submit(ctx context.Context, flow *assessmentFlow, key string) error {
	op := o.logger.WithOperation(ctx, "submit_assessment")
	kind := "single"
	if len(flow.phases) > 1 {
		kind = "combined"
	}

	start := time.Now()
	result, err := o.send(ctx, flow, key)
	duration := time.Since(start).Seconds()

	if err != nil {
		o.mu.Lock()
		flow.status = FlowSubmitFailed
		flow.lastError = err.Error()
		o.mu.Unlock()

		o.metrics.Submission(kind, "error", duration)
		o.events.emit(ctx, events.EventSubmissionFailed, flow.sessionID, events.SubmissionFailedEvent{
			IdempotencyKey: key,
			Reason:         err.Error(),
		})
		op.LogResult(flow.sessionID, err)
		return err
	}

	if _, err := o.sessions.Complete(ctx); err != nil && !errors.Is(err, ErrNoActiveSession) {
		o.logger.Logger().WarnContext(ctx, "Session could not be completed after submission",
			"session_id", flow.sessionID, "error", err)
	}
	o.clearStashes(ctx, flow.phases)

	o.mu.Lock()
	flow.status = FlowCompleted
	flow.result = result
	flow.lastError = ""
	o.mu.Unlock()

	o.metrics.Submission(kind, "success", duration)
	o.events.emit(ctx, events.EventAssessmentSubmitted, flow.sessionID, events.AssessmentSubmittedEvent{
		AssessmentType: flow.request.AssessmentType,
		IdempotencyKey: key,
		Phases:         len(flow.phases),
		TotalQuestions: result.TotalQuestions,
	})
	op.LogResult(flow.sessionID, nil)
	return nil
}

// send assembles the submission for the flow's plan. Earlier phases must
// have left a stash behind; nothing is sent when one is missing.
func (o *phaseOrchestrator) send(ctx context.Context, flow *assessmentFlow, key string) (*client.AssessmentResult, error) {
	totalTime := o.clock.Now().Sub(flow.startedAt).Seconds()
	if totalTime < 0 {
		totalTime = 0
	}

	if len(flow.phases) == 1 {
		return o.backend.SubmitAssessment(ctx, &client.AssessmentSubmission{
			SessionID:           flow.backendSessionID,
			AssessmentType:      flow.request.AssessmentType,
			Answers:             flow.answers,
			TotalQuestions:      len(flow.answers),
			CorrectAnswers:      countCorrect(flow.answers),
			TotalAssessmentTime: totalTime,
			QuestionTimings:     flow.timings,
		}, key)
	}

	first := flow.phases[0]
	stash := o.store.LoadPhaseStash(ctx, first.Name)
	if stash == nil || len(stash.Answers) == 0 {
		return nil, &PreconditionError{Phase: first.Name, Missing: "stashed answers"}
	}

	submission := &client.CombinedAssessmentSubmission{TotalAssessmentTime: totalTime}
	assign := func(condition, sessionID string, answers []models.AssessmentAnswer) {
		switch condition {
		case models.AssessmentDyslexia:
			submission.DyslexiaSessionID = sessionID
			submission.DyslexiaAnswers = answers
		case models.AssessmentAutism:
			submission.AutismSessionID = sessionID
			submission.AutismAnswers = answers
		}
	}
	assign(first.Condition, stash.BackendSessionID, stash.Answers)
	assign(flow.currentPhase().Condition, flow.backendSessionID, flow.answers)

	if submission.DyslexiaAnswers == nil || submission.AutismAnswers == nil {
		return nil, NewBusinessRuleError("combined_phases",
			"a combined submission needs one dyslexia and one autism phase",
			map[string]interface{}{"assessment_type": flow.request.AssessmentType})
	}

	return o.backend.SubmitCombinedAssessment(ctx, submission, key)
}

func countCorrect(answers []models.AssessmentAnswer) int {
	correct := 0
	for _, a := range answers {
		if a.IsCorrect {
			correct++
		}
	}
	return correct
}

// ===== RESET =====

// Reset abandons the flow, its session and any stashed phases.
func (o *phaseOrchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.flow == nil {
		return nil
	}
	if o.flow.status == FlowSubmitting {
		return ErrSubmissionInProgress
	}

	o.clearStashes(ctx, o.flow.phases)
	if o.flow.status != FlowCompleted {
		o.sessions.Abandon(ctx)
	}
	o.flow = nil
	return nil
}

func (o *phaseOrchestrator) clearStashes(ctx context.Context, phases []models.PhaseDefinition) {
	for _, phase := range phases {
		o.store.ClearPhaseStash(ctx, phase.Name)
	}
}
