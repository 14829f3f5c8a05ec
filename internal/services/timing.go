package services

import (
	"math"
	"sync"
	"time"

	"github.com/neurobridge/assessment-session/internal/clock"
	"github.com/neurobridge/assessment-session/internal/models"
)

// computeProgress derives progress from wall-clock time; nothing is accumulated.
func computeProgress(session *models.AssessmentSession, now time.Time, totalCategories int) models.Progress {
	if session == nil {
		return models.Progress{TotalCategories: totalCategories}
	}

	completed := session.CurrentCategoryIndex
	return models.Progress{
		TotalCategories:      totalCategories,
		CompletedCategories:  completed,
		CurrentCategory:      session.CurrentCategoryIndex,
		CompletionPercentage: percentage(completed, totalCategories),
		TotalResponses:       len(session.Responses),
		ElapsedTime:          session.ElapsedMillis(now.UnixMilli()),
	}
}

func percentage(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// QuestionTimer measures how long the current question has been on screen.
type QuestionTimer struct {
	mu      sync.Mutex
	clock   clock.Clock
	started time.Time
}

func NewQuestionTimer(c clock.Clock) *QuestionTimer {
	return &QuestionTimer{clock: c, started: c.Now()}
}

// Start restarts the timer and returns the start instant.
func (t *QuestionTimer) Start() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = t.clock.Now()
	return t.started
}

func (t *QuestionTimer) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Elapsed returns seconds since Start, never negative.
func (t *QuestionTimer) Elapsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.clock.Now().Sub(t.started).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Restore resumes a timer from a persisted start instant.
func (t *QuestionTimer) Restore(started time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = started
}
