package client

import "github.com/neurobridge/assessment-session/internal/models"

type QuizGenerationRequest struct {
	AssessmentType string `json:"assessment_type" validate:"required"`
	Condition      string `json:"condition,omitempty"`
	NumEasy        *int   `json:"num_easy,omitempty"`
	NumModerate    *int   `json:"num_moderate,omitempty"`
	NumHard        *int   `json:"num_hard,omitempty"`

	// Pre-assessment data
	Age                  *int   `json:"age,omitempty" validate:"omitempty,gte=3,lte=100"`
	Grade                string `json:"grade,omitempty"`
	ReadingLevel         string `json:"reading_level,omitempty"`
	PrimaryLanguage      string `json:"primary_language,omitempty"`
	HasReadingDifficulty *bool  `json:"has_reading_difficulty,omitempty"`
	NeedsAssistance      *bool  `json:"needs_assistance,omitempty"`
	PreviousAssessment   *bool  `json:"previous_assessment,omitempty"`
}

type DifficultyDistribution struct {
	Easy     int `json:"easy"`
	Moderate int `json:"moderate"`
	Hard     int `json:"hard"`
}

type QuizRecommendations struct {
	UseVisualAssessment  bool   `json:"use_visual_assessment"`
	DifficultyCustomized bool   `json:"difficulty_customized"`
	CustomizationReason  string `json:"customization_reason"`
}

type QuizGenerationResponse struct {
	SessionID              string                 `json:"session_id"`
	Questions              []models.Question      `json:"questions"`
	TotalQuestions         int                    `json:"total_questions"`
	Condition              string                 `json:"condition"`
	AssessmentType         string                 `json:"assessment_type"`
	DyslexiaQuestions      int                    `json:"dyslexia_questions,omitempty"`
	AutismQuestions        int                    `json:"autism_questions,omitempty"`
	DifficultyDistribution DifficultyDistribution `json:"difficulty_distribution"`
	Recommendations        *QuizRecommendations   `json:"recommendations,omitempty"`
	GeneratedAt            string                 `json:"generated_at"`
	Message                string                 `json:"message"`
}

type QuizInfo struct {
	AvailableConditions    []string `json:"available_conditions"`
	DifficultyLevels       []string `json:"difficulty_levels"`
	MaxQuestionsPerRequest int      `json:"max_questions_per_request"`
	MinQuestionsPerRequest int      `json:"min_questions_per_request"`
	SupportedFormats       []string `json:"supported_formats"`
	APIVersion             string   `json:"api_version"`
	Description            string   `json:"description"`
}

type AssessmentSubmission struct {
	SessionID           string                    `json:"session_id,omitempty"`
	AssessmentType      string                    `json:"assessment_type,omitempty"`
	Answers             []models.AssessmentAnswer `json:"answers"`
	TotalQuestions      int                       `json:"total_questions"`
	CorrectAnswers      int                       `json:"correct_answers"`
	TotalAssessmentTime float64                   `json:"total_assessment_time"` // seconds
	QuestionTimings     []models.QuestionTiming   `json:"question_timings"`
}

type CombinedAssessmentSubmission struct {
	DyslexiaSessionID   string                    `json:"dyslexia_session_id"`
	AutismSessionID     string                    `json:"autism_session_id"`
	DyslexiaAnswers     []models.AssessmentAnswer `json:"dyslexia_answers"`
	AutismAnswers       []models.AssessmentAnswer `json:"autism_answers"`
	TotalAssessmentTime float64                   `json:"total_assessment_time"` // seconds
}

type WrongQuestion struct {
	QuestionID    string `json:"question_id"`
	ConditionType string `json:"condition_type"`
	Difficulty    string `json:"difficulty"`
	UserAnswer    string `json:"user_answer"`
	CorrectAnswer string `json:"correct_answer"`
}

type AssessmentResult struct {
	SessionID             string          `json:"session_id"`
	AssessmentType        string          `json:"assessment_type"`
	Accuracy              float64         `json:"accuracy"`
	TotalQuestions        int             `json:"total_questions"`
	CorrectAnswers        int             `json:"correct_answers"`
	DyslexiaScore         *float64        `json:"dyslexia_score,omitempty"`
	AutismScore           *float64        `json:"autism_score,omitempty"`
	WrongQuestions        []WrongQuestion `json:"wrong_questions"`
	WrongQuestionsCount   int             `json:"wrong_questions_count"`
	PredictedDyslexicType string          `json:"predicted_dyslexic_type"`
	PredictedSeverity     string          `json:"predicted_severity"`
	Message               string          `json:"message"`
}
