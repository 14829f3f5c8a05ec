package models

const (
	AssessmentDyslexia = "dyslexia"
	AssessmentAutism   = "autism"
	AssessmentCombined = "combined"
)

// AssessmentTypes are the values accepted for CreateSession and Start.
var AssessmentTypes = []string{AssessmentDyslexia, AssessmentAutism, AssessmentCombined}

// PhaseDefinition describes one screening block of an assessment plan.
type PhaseDefinition struct {
	Name      string `json:"name" yaml:"name"`
	Condition string `json:"condition" yaml:"condition"`
	// CategoryIndex is the progress category the phase's answers count toward.
	CategoryIndex int `json:"category_index" yaml:"category_index"`
}

// AssessmentPlan maps an assessment type to its ordered phases.
type AssessmentPlan struct {
	TotalCategories int                          `json:"total_categories" yaml:"total_categories"`
	Assessments     map[string][]PhaseDefinition `json:"assessments" yaml:"assessments"`
}

func DefaultAssessmentPlan() *AssessmentPlan {
	dyslexia := PhaseDefinition{Name: "dyslexia", Condition: AssessmentDyslexia, CategoryIndex: 0}
	autism := PhaseDefinition{Name: "autism", Condition: AssessmentAutism, CategoryIndex: 1}
	return &AssessmentPlan{
		TotalCategories: DefaultTotalCategories,
		Assessments: map[string][]PhaseDefinition{
			AssessmentDyslexia: {dyslexia},
			AssessmentAutism:   {{Name: "autism", Condition: AssessmentAutism, CategoryIndex: 0}},
			AssessmentCombined: {dyslexia, autism},
		},
	}
}

func (p *AssessmentPlan) Phases(assessmentType string) ([]PhaseDefinition, bool) {
	phases, ok := p.Assessments[assessmentType]
	if !ok || len(phases) == 0 {
		return nil, false
	}
	return phases, true
}

// Question is a generated quiz question as returned by the backend.
type Question struct {
	ID            int          `json:"id"`
	QuestionID    string       `json:"question_id"`
	Question      string       `json:"question"`
	Options       []string     `json:"options"`
	CorrectAnswer string       `json:"correct_answer"`
	Difficulty    string       `json:"difficulty"`
	Condition     string       `json:"condition"`
	Explanation   string       `json:"explanation,omitempty"`
	QuestionType  QuestionType `json:"question_type,omitempty"`
}

// Kind falls back to multiple choice, which is what the generator emits by default.
func (q Question) Kind() QuestionType {
	if q.QuestionType == "" {
		return MultipleChoice
	}
	return q.QuestionType
}

type AssessmentAnswer struct {
	QuestionID     string  `json:"question_id"`
	SelectedAnswer string  `json:"selected_answer"`
	IsCorrect      bool    `json:"is_correct"`
	ResponseTime   float64 `json:"response_time"` // seconds
}

type QuestionTiming struct {
	QuestionID   string  `json:"question_id"`
	StartTime    int64   `json:"start_time"`
	EndTime      int64   `json:"end_time"`
	ResponseTime float64 `json:"response_time"`
}

// PhaseStash holds a finished phase's answers until the final phase submits.
type PhaseStash struct {
	Phase            string             `json:"phase"`
	BackendSessionID string             `json:"backend_session_id"`
	Answers          []AssessmentAnswer `json:"answers"`
	Timings          []QuestionTiming   `json:"timings"`
	CompletedAt      int64              `json:"completed_at"`
}
