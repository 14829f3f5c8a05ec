package services

import (
	"errors"
	"fmt"

	apperrors "github.com/neurobridge/assessment-session/internal/errors"
)

// ===== COMMON SERVICE ERRORS =====

var (
	ErrInternalError = errors.New("internal server error")

	// Session lifecycle errors
	ErrNoActiveSession = errors.New("no active assessment session")
	ErrNoBackup        = errors.New("no readable backup snapshot")
	ErrNoCompletion    = errors.New("no completed assessment recorded")

	// Orchestrator errors
	ErrUnknownAssessmentType = errors.New("unknown assessment type")
	ErrNoActiveAssessment    = errors.New("no assessment in progress")
	ErrEmptyResponse         = errors.New("a response is required before advancing")
	ErrSubmissionInProgress  = errors.New("submission already in progress")
	ErrAssessmentFinished    = errors.New("assessment already finished")
	ErrNotReadyToSubmit      = errors.New("final phase still has unanswered questions")
	ErrNoQuestions           = errors.New("quiz backend returned no questions")

	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// ===== CUSTOM ERROR TYPES =====

// Use shared validation errors from errors package
type ValidationError = apperrors.ValidationError
type ValidationErrors = apperrors.ValidationErrors

type BusinessRuleError struct {
	Rule    string                 `json:"rule"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (bre *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule violation (%s): %s", bre.Rule, bre.Message)
}

// PreconditionError means data an earlier phase should have left behind is
// missing. The flow cannot continue and has to be restarted.
type PreconditionError struct {
	Phase   string `json:"phase"`
	Missing string `json:"missing"`
}

func (pe *PreconditionError) Error() string {
	return fmt.Sprintf("cannot submit: %s for phase %q is missing, restart the assessment", pe.Missing, pe.Phase)
}

// ===== ERROR HELPERS =====

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return apperrors.NewValidationError(field, message, value)
}

func NewBusinessRuleError(rule, message string, context map[string]interface{}) *BusinessRuleError {
	return &BusinessRuleError{
		Rule:    rule,
		Message: message,
		Context: context,
	}
}

// IsNotFound checks if error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoActiveSession) ||
		errors.Is(err, ErrNoActiveAssessment) ||
		errors.Is(err, ErrNoBackup) ||
		errors.Is(err, ErrNoCompletion)
}

// IsValidation checks if error represents a validation failure
func IsValidation(err error) bool {
	if errors.Is(err, ErrEmptyResponse) ||
		errors.Is(err, ErrUnknownAssessmentType) ||
		errors.Is(err, ErrUnsupportedFormat) {
		return true
	}
	var ve apperrors.ValidationErrors
	return errors.As(err, &ve)
}

// IsBusinessRule checks if error represents a business rule violation
func IsBusinessRule(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsConflict checks if error conflicts with the current flow state
func IsConflict(err error) bool {
	return errors.Is(err, ErrSubmissionInProgress) ||
		errors.Is(err, ErrAssessmentFinished) ||
		errors.Is(err, ErrNotReadyToSubmit)
}
