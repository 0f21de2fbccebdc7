package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnswerKind tags which field of an Answer carries the response.
type AnswerKind string

const (
	// AnswerKindChoice answers carry SelectedOptionIDs.
	AnswerKindChoice AnswerKind = "CHOICE"
	// AnswerKindText answers carry Text.
	AnswerKindText AnswerKind = "TEXT"
)

// Valid reports whether k is a known kind.
func (k AnswerKind) Valid() bool {
	return k == AnswerKindChoice || k == AnswerKindText
}

// Answer is one question's response, tagged by Kind. Exactly the field that
// matches Kind may be set.
type Answer struct {
	QuestionID        uuid.UUID  `json:"question_id" binding:"required"`
	Kind              AnswerKind `json:"kind" binding:"required,answerkind"`
	SelectedOptionIDs []string   `json:"selected_option_ids,omitempty" binding:"omitempty,max=26,dive,min=1,max=64"`
	Text              string     `json:"text,omitempty" binding:"max=20000"`
}

var (
	ErrAnswerMissingQuestion = errors.New("answer has no question id")
	ErrAnswerUnknownKind     = errors.New("answer kind is unknown")
	ErrAnswerShape           = errors.New("answer fields do not match its kind")
)

// Validate checks the tagged-union shape.
func (a Answer) Validate() error {
	if a.QuestionID == uuid.Nil {
		return ErrAnswerMissingQuestion
	}
	switch a.Kind {
	case AnswerKindChoice:
		if len(a.SelectedOptionIDs) == 0 || a.Text != "" {
			return fmt.Errorf("%w: %s", ErrAnswerShape, a.QuestionID)
		}
	case AnswerKindText:
		if a.Text == "" || len(a.SelectedOptionIDs) > 0 {
			return fmt.Errorf("%w: %s", ErrAnswerShape, a.QuestionID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrAnswerUnknownKind, a.Kind)
	}
	return nil
}

// StudentAnswer is the final, graded-later answer record. It is keyed by
// (exam, question, student) and written only at submission.
type StudentAnswer struct {
	ExamID            uuid.UUID `json:"exam_id"`
	QuestionID        uuid.UUID `json:"question_id"`
	StudentID         int       `json:"student_id"`
	SchoolID          int       `json:"school_id"`
	SessionID         uuid.UUID `json:"session_id"`
	SelectedOptionIDs []string  `json:"selected_option_ids,omitempty"`
	Text              *string   `json:"text,omitempty"`
	AnsweredAt        time.Time `json:"answered_at"`
}

// FinalAnswers converts submitted answers into StudentAnswer records. A
// question answered twice keeps the later answer.
func FinalAnswers(s *ExamSession, answers []Answer, at time.Time) []StudentAnswer {
	index := make(map[uuid.UUID]int, len(answers))
	out := make([]StudentAnswer, 0, len(answers))

	for _, a := range answers {
		sa := StudentAnswer{
			ExamID:     s.ExamID,
			QuestionID: a.QuestionID,
			StudentID:  s.StudentID,
			SchoolID:   s.SchoolID,
			SessionID:  s.ID,
			AnsweredAt: at,
		}
		if a.Kind == AnswerKindText {
			text := a.Text
			sa.Text = &text
		} else {
			sa.SelectedOptionIDs = append([]string(nil), a.SelectedOptionIDs...)
		}

		if i, ok := index[a.QuestionID]; ok {
			out[i] = sa
			continue
		}
		index[a.QuestionID] = len(out)
		out = append(out, sa)
	}
	return out
}
