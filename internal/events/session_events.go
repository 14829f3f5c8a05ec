package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the session lifecycle transitions that are published
type EventType string

const (
	EventSessionCreated   EventType = "session.created"
	EventResponseRecorded EventType = "session.response_recorded"
	EventSessionCompleted EventType = "session.completed"
	EventSessionAbandoned EventType = "session.abandoned"
	EventSessionRecovered EventType = "session.recovered"

	EventPhaseCompleted      EventType = "assessment.phase_completed"
	EventAssessmentSubmitted EventType = "assessment.submitted"
	EventSubmissionFailed    EventType = "assessment.submission_failed"
)

const (
	eventSource  = "assessment-session"
	eventVersion = "1.0"
)

// SessionEvent is the envelope for every published event
type SessionEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Version   string                 `json:"version"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Event payloads

type SessionCreatedEvent struct {
	AssessmentType string `json:"assessment_type"`
	StartTime      int64  `json:"start_time"`
}

type ResponseRecordedEvent struct {
	QuestionID           string  `json:"question_id"`
	CategoryName         string  `json:"category_name"`
	CategoryIndex        int     `json:"category_index"`
	Sequence             int     `json:"sequence"`
	TimeTaken            float64 `json:"time_taken"`
	CurrentCategoryIndex int     `json:"current_category_index"`
}

type SessionCompletedEvent struct {
	CompletedAt          int64 `json:"completed_at"`
	TotalTime            int64 `json:"total_time"`
	TotalResponses       int   `json:"total_responses"`
	CompletionPercentage int   `json:"completion_percentage"`
}

type PhaseCompletedEvent struct {
	Phase     string `json:"phase"`
	NextPhase string `json:"next_phase"`
	Answers   int    `json:"answers"`
}

type AssessmentSubmittedEvent struct {
	AssessmentType string `json:"assessment_type"`
	IdempotencyKey string `json:"idempotency_key"`
	Phases         int    `json:"phases"`
	TotalQuestions int    `json:"total_questions"`
}

type SubmissionFailedEvent struct {
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason"`
}

// NewSessionEvent builds an envelope with a fresh id
func NewSessionEvent(eventType EventType, sessionID string, data interface{}) *SessionEvent {
	return &SessionEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Source:    eventSource,
		Version:   eventVersion,
		Data:      data,
	}
}
