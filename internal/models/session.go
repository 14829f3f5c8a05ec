package models

import "encoding/json"

// SessionVersion is stamped into every new session's metadata.
const SessionVersion = "2.0"

// DefaultTotalCategories is the number of dyslexia screening categories
// progress is measured against.
const DefaultTotalCategories = 7

type SessionState string

const (
	SessionAbsent    SessionState = "absent"
	SessionActive    SessionState = "active"
	SessionCompleted SessionState = "completed"
)

// StoredResponse is one answered question. Timestamps are milliseconds since
// the Unix epoch and TimeTaken is in seconds, matching the persisted format.
type StoredResponse struct {
	QuestionID    string          `json:"questionId" validate:"required"`
	CategoryName  string          `json:"categoryName" validate:"required"`
	Response      ResponsePayload `json:"response"`
	TimeTaken     float64         `json:"timeTaken" validate:"gte=0"`
	Timestamp     int64           `json:"timestamp"`
	QuestionIndex int             `json:"questionIndex" validate:"gte=0"`
	CategoryIndex int             `json:"categoryIndex" validate:"gte=0"`
	Sequence      int             `json:"sequence"`
}

type SessionMetadata struct {
	StudentAge     *int   `json:"studentAge,omitempty"`
	AssessmentType string `json:"assessmentType"`
	Version        string `json:"version"`
	LastUpdated    int64  `json:"lastUpdated"`
}

type AssessmentSession struct {
	SessionID            string           `json:"sessionId"`
	StartTime            int64            `json:"startTime"`
	CurrentCategoryIndex int              `json:"currentCategoryIndex"`
	Responses            []StoredResponse `json:"responses"`
	Metadata             SessionMetadata  `json:"metadata"`
}

// Append assigns the next sequence number, records the response and moves the
// category cursor forward. The cursor never moves backwards.
func (s *AssessmentSession) Append(r StoredResponse) StoredResponse {
	r.Sequence = len(s.Responses) + 1
	s.Responses = append(s.Responses, r)
	if r.CategoryIndex+1 > s.CurrentCategoryIndex {
		s.CurrentCategoryIndex = r.CategoryIndex + 1
	}
	return r
}

func (s *AssessmentSession) ResponsesByCategory(categoryName string) []StoredResponse {
	out := make([]StoredResponse, 0)
	for _, r := range s.Responses {
		if r.CategoryName == categoryName {
			out = append(out, r)
		}
	}
	return out
}

// ElapsedMillis is wall-clock time since the session started, never negative.
func (s *AssessmentSession) ElapsedMillis(nowMillis int64) int64 {
	elapsed := nowMillis - s.StartTime
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

type Progress struct {
	TotalCategories      int   `json:"totalCategories"`
	CompletedCategories  int   `json:"completedCategories"`
	CurrentCategory      int   `json:"currentCategory"`
	CompletionPercentage int   `json:"completionPercentage"`
	TotalResponses       int   `json:"totalResponses"`
	ElapsedTime          int64 `json:"elapsedTime"` // milliseconds
}

type CompletionSummary struct {
	TotalCategories        int   `json:"total_categories"`
	CompletedCategories    int   `json:"completed_categories"`
	TotalResponses         int   `json:"total_responses"`
	CompletionPercentage   int   `json:"completion_percentage"`
	AverageTimePerCategory int64 `json:"average_time_per_category"` // seconds
}

type CompletionRecord struct {
	SessionID   string            `json:"sessionId"`
	CompletedAt int64             `json:"completedAt"`
	TotalTime   int64             `json:"totalTime"` // milliseconds
	Responses   []StoredResponse  `json:"responses"`
	Summary     CompletionSummary `json:"summary"`
	Metadata    SessionMetadata   `json:"metadata"`
}

// BackupSnapshot keeps the session as the exact bytes that were checksummed.
type BackupSnapshot struct {
	Timestamp int64           `json:"timestamp"`
	Session   json.RawMessage `json:"session"`
	Checksum  string          `json:"checksum"`
}

type StorageInfo struct {
	CurrentSessionSize int   `json:"currentSessionSize"`
	BackupSize         int   `json:"backupSize"`
	TotalStorageUsed   int   `json:"totalStorageUsed"`
	AvailableStorage   int64 `json:"availableStorage"`
}

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

type HealthReport struct {
	Status          HealthStatus `json:"status"`
	Issues          []string     `json:"issues"`
	Recommendations []string     `json:"recommendations"`
}
