package models

import (
	"fmt"
	"sort"
	"strings"
)

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple_choice"
	TrueFalse      QuestionType = "true_false"
	TextResponse   QuestionType = "text_response"
	Sequencing     QuestionType = "sequencing"
	Matching       QuestionType = "matching"
)

// QuestionTypes lists every payload variant a StoredResponse can carry.
var QuestionTypes = []QuestionType{MultipleChoice, TrueFalse, TextResponse, Sequencing, Matching}

func (t QuestionType) Valid() bool {
	for _, known := range QuestionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ResponsePayload is a tagged union keyed by Type. Exactly one of the
// variant fields is meaningful for a given Type:
//
//	multiple_choice -> Choice
//	true_false      -> Answer
//	text_response   -> Text
//	sequencing      -> Order
//	matching        -> Pairs
type ResponsePayload struct {
	Type   QuestionType      `json:"type" validate:"required,question_type"`
	Choice string            `json:"choice,omitempty"`
	Answer *bool             `json:"answer,omitempty"`
	Text   string            `json:"text,omitempty"`
	Order  []string          `json:"order,omitempty"`
	Pairs  map[string]string `json:"pairs,omitempty"` // left item -> right item
}

func NewChoiceResponse(option string) ResponsePayload {
	return ResponsePayload{Type: MultipleChoice, Choice: option}
}

func NewBooleanResponse(answer bool) ResponsePayload {
	return ResponsePayload{Type: TrueFalse, Answer: &answer}
}

func NewTextResponse(text string) ResponsePayload {
	return ResponsePayload{Type: TextResponse, Text: text}
}

func NewOrderingResponse(order ...string) ResponsePayload {
	return ResponsePayload{Type: Sequencing, Order: order}
}

func NewMatchingResponse(pairs map[string]string) ResponsePayload {
	return ResponsePayload{Type: Matching, Pairs: pairs}
}

// IsEmpty reports whether the payload carries no usable answer for its type.
func (p ResponsePayload) IsEmpty() bool {
	switch p.Type {
	case MultipleChoice:
		return strings.TrimSpace(p.Choice) == ""
	case TrueFalse:
		return p.Answer == nil
	case TextResponse:
		return strings.TrimSpace(p.Text) == ""
	case Sequencing:
		return len(p.Order) == 0
	case Matching:
		return len(p.Pairs) == 0
	default:
		return true
	}
}

// SelectedAnswer flattens the payload into the single string the scoring
// backend compares against a question's correct answer.
func (p ResponsePayload) SelectedAnswer() string {
	switch p.Type {
	case MultipleChoice:
		return p.Choice
	case TrueFalse:
		if p.Answer == nil {
			return ""
		}
		if *p.Answer {
			return "True"
		}
		return "False"
	case TextResponse:
		return p.Text
	case Sequencing:
		return strings.Join(p.Order, ",")
	case Matching:
		keys := make([]string, 0, len(p.Pairs))
		for k := range p.Pairs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, p.Pairs[k]))
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// Value returns the untyped view of the payload (string, bool, []string or
// map[string]string) for JSON bodies that expect the bare answer.
func (p ResponsePayload) Value() any {
	switch p.Type {
	case MultipleChoice:
		return p.Choice
	case TrueFalse:
		if p.Answer == nil {
			return nil
		}
		return *p.Answer
	case TextResponse:
		return p.Text
	case Sequencing:
		return p.Order
	case Matching:
		return p.Pairs
	default:
		return nil
	}
}
