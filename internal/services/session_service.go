package services

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/neurobridge/assessment-session/internal/clock"
	"github.com/neurobridge/assessment-session/internal/events"
	"github.com/neurobridge/assessment-session/internal/metrics"
	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/neurobridge/assessment-session/internal/storage"
	"github.com/neurobridge/assessment-session/internal/validator"
)

// SessionService owns the single current session. It is the only component
// that mutates session state; every mutation is a read-modify-write against
// the store, serialised in-process.
type SessionService interface {
	CreateSession(ctx context.Context, req *CreateSessionRequest) (string, error)
	GetCurrentSession(ctx context.Context) *models.AssessmentSession
	State(ctx context.Context) models.SessionState
	AddResponse(ctx context.Context, response *models.StoredResponse) (*models.StoredResponse, error)
	GetAllResponses(ctx context.Context) []models.StoredResponse
	GetResponsesByCategory(ctx context.Context, categoryName string) []models.StoredResponse
	Progress(ctx context.Context) models.Progress
	Complete(ctx context.Context) (*models.CompletionRecord, error)
	Abandon(ctx context.Context)

	LastCompletion(ctx context.Context) (*models.CompletionRecord, error)
	Backup(ctx context.Context) (*models.BackupSnapshot, error)
	RecoverFromBackup(ctx context.Context) (*models.AssessmentSession, error)
	StorageInfo(ctx context.Context) models.StorageInfo
	HealthCheck(ctx context.Context) *models.HealthReport
	ClearAll(ctx context.Context) int
}

type CreateSessionRequest struct {
	AssessmentType string `json:"assessment_type" validate:"omitempty,assessment_type"`
	StudentAge     *int   `json:"student_age,omitempty" validate:"omitempty,gte=3,lte=100"`
}

type sessionService struct {
	mu              sync.Mutex
	store           *storage.SessionStore
	validator       *validator.Validator
	events          *eventEmitter
	metrics         *metrics.Metrics
	clock           clock.Clock
	logger          *ServiceLogger
	totalCategories int
}

type SessionOption func(*sessionService)

func WithSessionClock(c clock.Clock) SessionOption {
	return func(s *sessionService) { s.clock = c }
}

func WithSessionMetrics(m *metrics.Metrics) SessionOption {
	return func(s *sessionService) { s.metrics = m }
}

func WithTotalCategories(total int) SessionOption {
	return func(s *sessionService) {
		if total > 0 {
			s.totalCategories = total
		}
	}
}

func NewSessionService(
	store *storage.SessionStore,
	publisher events.EventPublisher,
	logger *slog.Logger,
	validator *validator.Validator,
	opts ...SessionOption,
) SessionService {
	s := &sessionService{
		store:           store,
		validator:       validator,
		events:          newEventEmitter(publisher, logger),
		clock:           clock.Real(),
		logger:          NewServiceLogger(logger, LogConfig{Service: "assessment-session", Component: "session"}),
		totalCategories: models.DefaultTotalCategories,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ===== LIFECYCLE =====

func (s *sessionService) CreateSession(ctx context.Context, req *CreateSessionRequest) (string, error) {
	op := s.logger.WithOperation(ctx, "create_session")

	if req == nil {
		req = &CreateSessionRequest{}
	}
	if err := s.validator.Validate(req); err != nil {
		op.LogResult("", err)
		return "", err
	}

	assessmentType := req.AssessmentType
	if assessmentType == "" {
		assessmentType = models.AssessmentDyslexia
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	session := &models.AssessmentSession{
		SessionID:            newSessionID(now.UnixMilli()),
		StartTime:            now.UnixMilli(),
		CurrentCategoryIndex: 0,
		Responses:            []models.StoredResponse{},
		Metadata: models.SessionMetadata{
			StudentAge:     req.StudentAge,
			AssessmentType: assessmentType,
			Version:        models.SessionVersion,
		},
	}

	if !s.store.Save(ctx, session) {
		s.metrics.StoreFailure("save")
	}
	s.metrics.SessionCreated(assessmentType)
	s.events.emit(ctx, events.EventSessionCreated, session.SessionID, events.SessionCreatedEvent{
		AssessmentType: assessmentType,
		StartTime:      session.StartTime,
	})

	op.LogResult(session.SessionID, nil)
	return session.SessionID, nil
}

// newSessionID combines the creation millisecond with 9 base-36 characters
// of uuid entropy.
func newSessionID(nowMillis int64) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	if len(suffix) < 9 {
		suffix = strings.Repeat("0", 9-len(suffix)) + suffix
	}
	return fmt.Sprintf("session_%d_%s", nowMillis, suffix[len(suffix)-9:])
}

func (s *sessionService) GetCurrentSession(ctx context.Context) *models.AssessmentSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Load(ctx)
}

func (s *sessionService) State(ctx context.Context) models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store.Load(ctx) != nil {
		return models.SessionActive
	}
	if s.store.LoadCompletion(ctx) != nil {
		return models.SessionCompleted
	}
	return models.SessionAbsent
}

func (s *sessionService) AddResponse(ctx context.Context, response *models.StoredResponse) (*models.StoredResponse, error) {
	op := s.logger.WithOperation(ctx, "add_response")

	if err := s.validateResponse(response); err != nil {
		op.LogResult("", err)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.store.Load(ctx)
	if session == nil {
		op.LogResult("", ErrNoActiveSession)
		return nil, ErrNoActiveSession
	}

	record := *response
	if record.Timestamp == 0 {
		record.Timestamp = s.clock.Now().UnixMilli()
	}
	stored := session.Append(record)

	if !s.store.Save(ctx, session) {
		s.metrics.StoreFailure("save")
	}
	s.metrics.ResponseRecorded(string(stored.Response.Type), stored.TimeTaken)
	s.events.emit(ctx, events.EventResponseRecorded, session.SessionID, events.ResponseRecordedEvent{
		QuestionID:           stored.QuestionID,
		CategoryName:         stored.CategoryName,
		CategoryIndex:        stored.CategoryIndex,
		Sequence:             stored.Sequence,
		TimeTaken:            stored.TimeTaken,
		CurrentCategoryIndex: session.CurrentCategoryIndex,
	})

	op.LogResult(session.SessionID, nil)
	return &stored, nil
}

func (s *sessionService) validateResponse(response *models.StoredResponse) error {
	if response == nil {
		return ValidationErrors{*NewValidationError("response", "response is required", nil)}
	}
	if err := s.validator.Validate(response); err != nil {
		return err
	}
	if response.CategoryIndex >= s.totalCategories {
		return ValidationErrors{*NewValidationError("categoryIndex",
			fmt.Sprintf("must be less than %d", s.totalCategories), response.CategoryIndex)}
	}
	return nil
}

func (s *sessionService) GetAllResponses(ctx context.Context) []models.StoredResponse {
	session := s.GetCurrentSession(ctx)
	if session == nil {
		return []models.StoredResponse{}
	}
	return session.Responses
}

func (s *sessionService) GetResponsesByCategory(ctx context.Context, categoryName string) []models.StoredResponse {
	session := s.GetCurrentSession(ctx)
	if session == nil {
		return []models.StoredResponse{}
	}
	return session.ResponsesByCategory(categoryName)
}

func (s *sessionService) Progress(ctx context.Context) models.Progress {
	session := s.GetCurrentSession(ctx)
	return computeProgress(session, s.clock.Now(), s.totalCategories)
}

// Complete summarizes the current session into a completion record and
// clears it. Backup and phase stashes are left to their owners.
func (s *sessionService) Complete(ctx context.Context) (*models.CompletionRecord, error) {
	op := s.logger.WithOperation(ctx, "complete_session")

	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.store.Load(ctx)
	if session == nil {
		op.LogResult("", ErrNoActiveSession)
		return nil, ErrNoActiveSession
	}

	now := s.clock.Now()
	progress := computeProgress(session, now, s.totalCategories)
	divisor := progress.CompletedCategories
	if divisor < 1 {
		divisor = 1
	}

	record := &models.CompletionRecord{
		SessionID:   session.SessionID,
		CompletedAt: now.UnixMilli(),
		TotalTime:   progress.ElapsedTime,
		Responses:   session.Responses,
		Summary: models.CompletionSummary{
			TotalCategories:        progress.TotalCategories,
			CompletedCategories:    progress.CompletedCategories,
			TotalResponses:         progress.TotalResponses,
			CompletionPercentage:   progress.CompletionPercentage,
			AverageTimePerCategory: roundDiv(progress.ElapsedTime, int64(divisor)*1000),
		},
		Metadata: session.Metadata,
	}

	if !s.store.SaveCompletion(ctx, record) {
		s.metrics.StoreFailure("save_completion")
	}
	s.store.Clear(ctx)

	s.metrics.SessionFinished("completed")
	s.events.emit(ctx, events.EventSessionCompleted, session.SessionID, events.SessionCompletedEvent{
		CompletedAt:          record.CompletedAt,
		TotalTime:            record.TotalTime,
		TotalResponses:       record.Summary.TotalResponses,
		CompletionPercentage: record.Summary.CompletionPercentage,
	})

	op.LogResult(session.SessionID, nil)
	return record, nil
}

// roundDiv rounds half up, matching the persisted summary format.
func roundDiv(numerator, denominator int64) int64 {
	if denominator == 0 {
		return 0
	}
	return (2*numerator + denominator) / (2 * denominator)
}

func (s *sessionService) Abandon(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.store.Load(ctx)
	s.store.Clear(ctx)
	if session == nil {
		return
	}

	s.metrics.SessionFinished("abandoned")
	s.events.emit(ctx, events.EventSessionAbandoned, session.SessionID, nil)
	s.logger.Logger().InfoContext(ctx, "Session abandoned", "session_id", session.SessionID)
}

// ===== RECOVERY & HOUSEKEEPING =====

func (s *sessionService) LastCompletion(ctx context.Context) (*models.CompletionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := s.store.LoadCompletion(ctx)
	if record == nil {
		return nil, ErrNoCompletion
	}
	return record, nil
}

func (s *sessionService) Backup(ctx context.Context) (*models.BackupSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.store.LoadBackupSnapshot(ctx)
	if snapshot == nil {
		return nil, ErrNoBackup
	}
	return snapshot, nil
}

// RecoverFromBackup replaces the current session with the backed-up one.
// It only runs when asked; nothing restores a backup automatically.
func (s *sessionService) RecoverFromBackup(ctx context.Context) (*models.AssessmentSession, error) {
	op := s.logger.WithOperation(ctx, "recover_from_backup")

	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.store.LoadBackup(ctx)
	if session == nil {
		op.LogResult("", ErrNoBackup)
		return nil, ErrNoBackup
	}

	if !s.store.Save(ctx, session) {
		s.metrics.StoreFailure("save")
		err := fmt.Errorf("%w: recovered session could not be persisted", ErrInternalError)
		op.LogResult(session.SessionID, err)
		return nil, err
	}

	s.metrics.SessionFinished("recovered")
	s.events.emit(ctx, events.EventSessionRecovered, session.SessionID, nil)

	op.LogResult(session.SessionID, nil)
	return session, nil
}

func (s *sessionService) StorageInfo(ctx context.Context) models.StorageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Info(ctx)
}

func (s *sessionService) HealthCheck(ctx context.Context) *models.HealthReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := s.store.Load(ctx)
	backupReadable := s.store.LoadBackup(ctx) != nil
	return evaluateHealth(session, backupReadable, s.store.Info(ctx), s.clock.Now())
}

func (s *sessionService) ClearAll(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ClearAll(ctx)
}
