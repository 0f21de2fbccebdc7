package model

import "github.com/google/uuid"

// QuestionType enumerates the supported question formats.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeMultiSelect    QuestionType = "MULTI_SELECT"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeShortAnswer    QuestionType = "SHORT_ANSWER"
	QuestionTypeFillBlank      QuestionType = "FILL_BLANK"
	QuestionTypeEssay          QuestionType = "ESSAY"
)

// Question is the part of a question definition the session engine needs.
type Question struct {
	ID          uuid.UUID    `json:"id"`
	Type        QuestionType `json:"question_type"`
	OptionCount int          `json:"option_count"`
	OrderNum    int          `json:"order_num"`
}

// AnswerKind is the answer shape expected for this question type.
func (t QuestionType) AnswerKind() AnswerKind {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeMultiSelect, QuestionTypeTrueFalse:
		return AnswerKindChoice
	default:
		return AnswerKindText
	}
}

// ShufflesOptions reports whether option order may be randomised.
// True/false keeps its natural order.
func (t QuestionType) ShufflesOptions() bool {
	return t == QuestionTypeMultipleChoice || t == QuestionTypeMultiSelect
}
