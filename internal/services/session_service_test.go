package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/neurobridge/assessment-session/internal/clock"
	"github.com/neurobridge/assessment-session/internal/events"
	"github.com/neurobridge/assessment-session/internal/metrics"
	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/neurobridge/assessment-session/internal/storage"
	"github.com/neurobridge/assessment-session/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.UnixMilli(1_700_000_000_000)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sessionFixture struct {
	service   SessionService
	store     *storage.SessionStore
	kv        *storage.MemoryStore
	clock     *clock.Manual
	publisher *events.MockEventPublisher
	metrics   *metrics.Metrics
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	return newSessionFixtureWithQuota(t, 0)
}

func newSessionFixtureWithQuota(t *testing.T, quota int64) *sessionFixture {
	t.Helper()
	logger := discardLogger()
	clk := clock.NewManual(testStart)
	kv := storage.NewMemoryStore(quota)
	store := storage.NewSessionStore(kv, logger, storage.WithClock(clk))
	publisher := events.NewMockEventPublisher(logger)
	m := metrics.New()

	service := NewSessionService(store, publisher, logger, validator.New(),
		WithSessionClock(clk),
		WithSessionMetrics(m),
	)
	return &sessionFixture{
		service:   service,
		store:     store,
		kv:        kv,
		clock:     clk,
		publisher: publisher,
		metrics:   m,
	}
}

// counterValue reads one labelled counter from the service's private registry.
func counterValue(t *testing.T, m *metrics.Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if pair.GetName() == label && pair.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func response(questionID string, categoryIndex int) *models.StoredResponse {
	return &models.StoredResponse{
		QuestionID:    questionID,
		CategoryName:  "Phonological Awareness",
		Response:      models.NewChoiceResponse("A"),
		TimeTaken:     2.5,
		CategoryIndex: categoryIndex,
	}
}

func TestCreateSession_Dyslexia(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	id, err := f.service.CreateSession(ctx, &CreateSessionRequest{AssessmentType: models.AssessmentDyslexia})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^session_1700000000000_[0-9a-z]{9}$`), id)

	session := f.service.GetCurrentSession(ctx)
	require.NotNil(t, session)
	assert.Equal(t, id, session.SessionID)
	assert.Equal(t, models.AssessmentDyslexia, session.Metadata.AssessmentType)
	assert.Equal(t, models.SessionVersion, session.Metadata.Version)
	assert.Empty(t, session.Responses)
	assert.Equal(t, 0, session.CurrentCategoryIndex)

	assert.Equal(t, models.SessionActive, f.service.State(ctx))
	assert.Equal(t, []events.EventType{events.EventSessionCreated}, f.publisher.EventTypes())
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "assessment_session_sessions_created_total", "assessment_type", models.AssessmentDyslexia))
}

func TestCreateSession_DefaultsToDyslexia(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AssessmentDyslexia, f.service.GetCurrentSession(ctx).Metadata.AssessmentType)
}

func TestCreateSession_Validation(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	tooYoung := 1
	tests := []struct {
		name string
		req  *CreateSessionRequest
	}{
		{name: "unknown type", req: &CreateSessionRequest{AssessmentType: "adhd"}},
		{name: "age out of range", req: &CreateSessionRequest{StudentAge: &tooYoung}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateSession(ctx, tt.req)
			assert.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
	assert.Equal(t, models.SessionAbsent, f.service.State(ctx))
}

func TestCreateSession_ReplacesPreviousSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.service.CreateSession(ctx, &CreateSessionRequest{AssessmentType: models.AssessmentAutism})
	require.NoError(t, err)
	_, err = f.service.AddResponse(ctx, response("q1", 3))
	require.NoError(t, err)

	f.clock.Advance(time.Millisecond)
	second, err := f.service.CreateSession(ctx, &CreateSessionRequest{AssessmentType: models.AssessmentDyslexia})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	session := f.service.GetCurrentSession(ctx)
	require.NotNil(t, session)
	assert.Equal(t, second, session.SessionID)
	assert.Equal(t, models.AssessmentDyslexia, session.Metadata.AssessmentType)
	assert.Empty(t, session.Responses)
	assert.Equal(t, 0, session.CurrentCategoryIndex)
}

func TestAddResponse_AdvancesCategoryAndSequence(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, &CreateSessionRequest{AssessmentType: models.AssessmentDyslexia})
	require.NoError(t, err)

	for i, category := range []int{0, 0, 1} {
		f.clock.Advance(time.Second)
		stored, err := f.service.AddResponse(ctx, response(fmt.Sprintf("q%d", i+1), category))
		require.NoError(t, err)
		assert.Equal(t, i+1, stored.Sequence)
		assert.Equal(t, f.clock.Now().UnixMilli(), stored.Timestamp)
	}

	session := f.service.GetCurrentSession(ctx)
	require.NotNil(t, session)
	assert.Equal(t, 2, session.CurrentCategoryIndex)
	require.Len(t, session.Responses, 3)
	assert.Equal(t, 3, session.Responses[2].Sequence)

	assert.Len(t, f.service.GetAllResponses(ctx), 3)
	assert.Len(t, f.service.GetResponsesByCategory(ctx, "Phonological Awareness"), 3)
	assert.Empty(t, f.service.GetResponsesByCategory(ctx, "Sequencing"))
	assert.Equal(t, 3.0, counterValue(t, f.metrics, "assessment_session_responses_recorded_total", "question_type", string(models.MultipleChoice)))
}

func TestAddResponse_KeepsCallerTimestamp(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)

	r := response("q1", 0)
	r.Timestamp = 42
	stored, err := f.service.AddResponse(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, int64(42), stored.Timestamp)
}

func TestAddResponse_WithoutSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	stored, err := f.service.AddResponse(ctx, response("q1", 0))
	assert.Nil(t, stored)
	assert.ErrorIs(t, err, ErrNoActiveSession)

	keys, err := f.kv.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Equal(t, int64(0), f.kv.Used())
}

func TestAddResponse_Validation(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		response *models.StoredResponse
	}{
		{name: "nil", response: nil},
		{name: "missing question id", response: &models.StoredResponse{CategoryName: "c", Response: models.NewChoiceResponse("A")}},
		{name: "unknown question type", response: &models.StoredResponse{QuestionID: "q", CategoryName: "c", Response: models.ResponsePayload{Type: "essay"}}},
		{name: "negative time", response: &models.StoredResponse{QuestionID: "q", CategoryName: "c", Response: models.NewChoiceResponse("A"), TimeTaken: -1}},
		{name: "category out of range", response: response("q", models.DefaultTotalCategories)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.AddResponse(ctx, tt.response)
			assert.True(t, IsValidation(err), "got %v", err)
		})
	}
	assert.Empty(t, f.service.GetAllResponses(ctx))
}

func TestCreateSession_StoreFailureDegradesToAbsent(t *testing.T) {
	f := newSessionFixtureWithQuota(t, 1)
	ctx := context.Background()

	// nothing fits in a one-byte quota, so the session never persists
	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbsent, f.service.State(ctx))
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "assessment_session_store_failures_total", "operation", "save"))
}

func TestProgress_CompletionPercentage(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)
	_, err = f.service.AddResponse(ctx, response("q1", 0))
	require.NoError(t, err)
	_, err = f.service.AddResponse(ctx, response("q2", 1))
	require.NoError(t, err)

	f.clock.Advance(90 * time.Second)
	progress := f.service.Progress(ctx)
	assert.Equal(t, models.DefaultTotalCategories, progress.TotalCategories)
	assert.Equal(t, 2, progress.CompletedCategories)
	assert.Equal(t, 29, progress.CompletionPercentage)
	assert.Equal(t, 2, progress.TotalResponses)
	assert.Equal(t, int64(90_000), progress.ElapsedTime)
}

func TestProgress_NoSession(t *testing.T) {
	f := newSessionFixture(t)
	progress := f.service.Progress(context.Background())
	assert.Equal(t, models.Progress{TotalCategories: models.DefaultTotalCategories}, progress)
}

func TestComplete_BuildsRecordAndClearsSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	age := 8
	id, err := f.service.CreateSession(ctx, &CreateSessionRequest{StudentAge: &age})
	require.NoError(t, err)
	_, err = f.service.AddResponse(ctx, response("q1", 0))
	require.NoError(t, err)
	_, err = f.service.AddResponse(ctx, response("q2", 1))
	require.NoError(t, err)

	f.clock.Advance(125 * time.Second)
	record, err := f.service.Complete(ctx)
	require.NoError(t, err)

	assert.Equal(t, id, record.SessionID)
	assert.Equal(t, f.clock.Now().UnixMilli(), record.CompletedAt)
	assert.Equal(t, int64(125_000), record.TotalTime)
	assert.Len(t, record.Responses, 2)
	assert.Equal(t, &age, record.Metadata.StudentAge)
	assert.Equal(t, models.CompletionSummary{
		TotalCategories:        7,
		CompletedCategories:    2,
		TotalResponses:         2,
		CompletionPercentage:   29,
		AverageTimePerCategory: 63, // 62.5 rounds up
	}, record.Summary)

	assert.Nil(t, f.service.GetCurrentSession(ctx))
	assert.Equal(t, models.SessionCompleted, f.service.State(ctx))

	last, err := f.service.LastCompletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, record, last)

	// the backup survives completion and stays available for recovery
	_, err = f.service.Backup(ctx)
	assert.NoError(t, err)

	assert.Contains(t, f.publisher.EventTypes(), events.EventSessionCompleted)
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "assessment_session_sessions_finished_total", "outcome", "completed"))
}

func TestComplete_WithoutResponsesAveragesOverOne(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)

	record, err := f.service.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, record.Summary.CompletedCategories)
	assert.Equal(t, int64(10), record.Summary.AverageTimePerCategory)
}

func TestComplete_WithoutSession(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.service.Complete(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveSession)

	_, err = f.service.LastCompletion(context.Background())
	assert.ErrorIs(t, err, ErrNoCompletion)
}

func TestAbandon(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	assert.NotPanics(t, func() { f.service.Abandon(ctx) })
	assert.Empty(t, f.publisher.EventTypes())

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)
	f.service.Abandon(ctx)

	assert.Equal(t, models.SessionAbsent, f.service.State(ctx))
	assert.Equal(t, events.EventSessionAbandoned, f.publisher.EventTypes()[1])
}

func TestLoad_CorruptedSessionReadsAsAbsent(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, f.kv.Set(ctx, f.store.CurrentKey(), []byte(`{"sessionId":`)))

	assert.NotPanics(t, func() {
		assert.Nil(t, f.service.GetCurrentSession(ctx))
	})
	assert.Empty(t, f.service.GetAllResponses(ctx))
	_, err = f.service.AddResponse(ctx, response("q1", 0))
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestRecoverFromBackup(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.RecoverFromBackup(ctx)
	assert.ErrorIs(t, err, ErrNoBackup)

	id, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)
	_, err = f.service.AddResponse(ctx, response("q1", 2))
	require.NoError(t, err)

	require.NoError(t, f.kv.Set(ctx, f.store.CurrentKey(), []byte("garbage")))
	require.Nil(t, f.service.GetCurrentSession(ctx))

	recovered, err := f.service.RecoverFromBackup(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, recovered.SessionID)
	assert.Len(t, recovered.Responses, 1)
	assert.Equal(t, 3, recovered.CurrentCategoryIndex)

	current := f.service.GetCurrentSession(ctx)
	require.NotNil(t, current)
	assert.Equal(t, id, current.SessionID)
	assert.Contains(t, f.publisher.EventTypes(), events.EventSessionRecovered)
}

func TestHealthCheck(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	report := f.service.HealthCheck(ctx)
	assert.Equal(t, models.HealthWarning, report.Status)
	assert.Equal(t, []string{"No active assessment session found"}, report.Issues)
	assert.Equal(t, []string{"Initialize a new assessment session"}, report.Recommendations)

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)
	report = f.service.HealthCheck(ctx)
	assert.Equal(t, models.HealthHealthy, report.Status)
	assert.Empty(t, report.Issues)

	f.clock.Advance(2 * time.Hour)
	report = f.service.HealthCheck(ctx)
	assert.Equal(t, models.HealthWarning, report.Status)
	assert.Equal(t, []string{"Assessment session is quite old"}, report.Issues)
}

func TestStorageInfoAndClearAll(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSession(ctx, nil)
	require.NoError(t, err)

	info := f.service.StorageInfo(ctx)
	assert.Greater(t, info.CurrentSessionSize, 0)
	assert.Greater(t, info.BackupSize, 0)

	assert.Equal(t, 2, f.service.ClearAll(ctx))
	assert.Equal(t, models.SessionAbsent, f.service.State(ctx))
	_, err = f.service.Backup(ctx)
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestNewSessionID_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^session_42_[0-9a-z]{9}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := newSessionID(42)
		assert.Regexp(t, pattern, id)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}

func TestRoundDiv(t *testing.T) {
	assert.Equal(t, int64(63), roundDiv(125_000, 2000))
	assert.Equal(t, int64(62), roundDiv(124_999, 2000))
	assert.Equal(t, int64(0), roundDiv(0, 1000))
	assert.Equal(t, int64(0), roundDiv(10, 0))
}

func TestSessionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	categories := gen.SliceOf(gen.IntRange(0, models.DefaultTotalCategories-1))

	properties.Property("category cursor is the running max of index+1", prop.ForAll(
		func(indexes []int) bool {
			f := newSessionFixture(t)
			ctx := context.Background()
			if _, err := f.service.CreateSession(ctx, nil); err != nil {
				return false
			}

			expected := 0
			for _, k := range indexes {
				if _, err := f.service.AddResponse(ctx, response("q", k)); err != nil {
					return false
				}
				expected = max(expected, k+1)
				if f.service.GetCurrentSession(ctx).CurrentCategoryIndex != expected {
					return false
				}
			}
			return true
		},
		categories,
	))

	properties.Property("sequence numbers follow call order", prop.ForAll(
		func(indexes []int) bool {
			f := newSessionFixture(t)
			ctx := context.Background()
			if _, err := f.service.CreateSession(ctx, nil); err != nil {
				return false
			}
			for _, k := range indexes {
				if _, err := f.service.AddResponse(ctx, response("q", k)); err != nil {
					return false
				}
			}

			responses := f.service.GetAllResponses(ctx)
			if len(responses) != len(indexes) {
				return false
			}
			for i, r := range responses {
				if r.Sequence != i+1 {
					return false
				}
			}
			return true
		},
		categories,
	))

	properties.Property("elapsed time never decreases", prop.ForAll(
		func(steps []int64) bool {
			f := newSessionFixture(t)
			ctx := context.Background()
			if _, err := f.service.CreateSession(ctx, nil); err != nil {
				return false
			}

			previous := f.service.Progress(ctx).ElapsedTime
			if previous < 0 {
				return false
			}
			for _, step := range steps {
				f.clock.Advance(time.Duration(step) * time.Millisecond)
				elapsed := f.service.Progress(ctx).ElapsedTime
				if elapsed < previous {
					return false
				}
				previous = elapsed
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(0, 3_600_000)),
	))

	properties.TestingRun(t)
}
