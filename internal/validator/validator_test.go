package validator

import (
	"testing"

	apperrors "github.com/neurobridge/assessment-session/internal/errors"
	"github.com/neurobridge/assessment-session/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createRequest struct {
	AssessmentType string `json:"assessment_type" validate:"required,assessment_type"`
}

func TestValidate_StoredResponse(t *testing.T) {
	v := New()

	t.Run("valid response", func(t *testing.T) {
		resp := models.StoredResponse{
			QuestionID:   "q1",
			CategoryName: "Phonological Awareness",
			Response:     models.NewChoiceResponse("cat"),
			TimeTaken:    2.5,
		}
		assert.NoError(t, v.Validate(resp))
	})

	t.Run("missing fields use json names", func(t *testing.T) {
		resp := models.StoredResponse{
			Response:  models.ResponsePayload{Type: "essay"},
			TimeTaken: -1,
		}
		err := v.Validate(resp)
		require.Error(t, err)

		var verrs apperrors.ValidationErrors
		require.ErrorAs(t, err, &verrs)

		fields := map[string]string{}
		for _, e := range verrs {
			fields[e.Field] = e.Rule
		}
		assert.Equal(t, "required", fields["questionId"])
		assert.Equal(t, "required", fields["categoryName"])
		assert.Equal(t, "question_type", fields["type"])
		assert.Equal(t, "gte", fields["timeTaken"])
	})
}

func TestValidate_AssessmentType(t *testing.T) {
	v := New()

	for _, valid := range models.AssessmentTypes {
		assert.NoError(t, v.Validate(createRequest{AssessmentType: valid}), valid)
	}

	err := v.Validate(createRequest{AssessmentType: "adhd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assessment_type")
}
