package config

import (
	"fmt"
	"os"
	"slices"

	"github.com/neurobridge/assessment-session/internal/models"
	"gopkg.in/yaml.v3"
)

// LoadAssessmentPlan reads a YAML plan file. An empty path yields the
// built-in plan with totalCategories applied.
func LoadAssessmentPlan(path string, totalCategories int) (*models.AssessmentPlan, error) {
	plan := models.DefaultAssessmentPlan()
	if totalCategories > 0 {
		plan.TotalCategories = totalCategories
	}
	if path == "" {
		return plan, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return ParseAssessmentPlan(data, plan.TotalCategories)
}

func ParseAssessmentPlan(data []byte, totalCategories int) (*models.AssessmentPlan, error) {
	var plan models.AssessmentPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan file: %w", err)
	}

	if plan.TotalCategories <= 0 {
		plan.TotalCategories = totalCategories
	}
	if len(plan.Assessments) == 0 {
		return nil, fmt.Errorf("plan file defines no assessments")
	}

	for assessmentType, phases := range plan.Assessments {
		if !slices.Contains(models.AssessmentTypes, assessmentType) {
			return nil, fmt.Errorf("unknown assessment type %q", assessmentType)
		}
		// the combined submission endpoint accepts exactly two phases
		if len(phases) == 0 || len(phases) > 2 {
			return nil, fmt.Errorf("assessment %q must have one or two phases", assessmentType)
		}
		if len(phases) == 2 && phases[0].Condition == phases[1].Condition {
			return nil, fmt.Errorf("assessment %q needs one dyslexia and one autism phase", assessmentType)
		}
		seen := make(map[string]bool, len(phases))
		for i, phase := range phases {
			if phase.Name == "" || phase.Condition == "" {
				return nil, fmt.Errorf("assessment %q phase %d needs a name and a condition", assessmentType, i)
			}
			if phase.Condition != models.AssessmentDyslexia && phase.Condition != models.AssessmentAutism {
				return nil, fmt.Errorf("assessment %q phase %q has unsupported condition %q", assessmentType, phase.Name, phase.Condition)
			}
			if seen[phase.Name] {
				return nil, fmt.Errorf("assessment %q repeats phase %q", assessmentType, phase.Name)
			}
			if phase.CategoryIndex < 0 || phase.CategoryIndex >= plan.TotalCategories {
				return nil, fmt.Errorf("assessment %q phase %q category_index out of range", assessmentType, phase.Name)
			}
			seen[phase.Name] = true
		}
	}

	return &plan, nil
}
