package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the lifecycle states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// ProctoringMode is informational for this service; integrity events are
// recorded the same way in every mode.
type ProctoringMode string

const (
	ProctoringNone   ProctoringMode = "NONE"
	ProctoringBasic  ProctoringMode = "BASIC"
	ProctoringStrict ProctoringMode = "STRICT"
)

// Exam is the read-only exam definition owned by the academic module.
type Exam struct {
	ID                uuid.UUID      `json:"id"`
	SchoolID          int            `json:"school_id"`
	Title             string         `json:"title"`
	Status            ExamStatus     `json:"status"`
	StartsAt          *time.Time     `json:"starts_at,omitempty"`
	EndsAt            *time.Time     `json:"ends_at,omitempty"`
	DurationMinutes   int            `json:"duration_minutes"`
	MaxAttempts       int            `json:"max_attempts"`
	ShuffleQuestions  bool           `json:"shuffle_questions"`
	ShuffleOptions    bool           `json:"shuffle_options"`
	AllowLateSubmit   bool           `json:"allow_late_submit"`
	LateSubmitMinutes int            `json:"late_submit_minutes"`
	ProctoringMode    ProctoringMode `json:"proctoring_mode"`
	Questions         []Question     `json:"questions"`
}

// Deadline is the last instant a session started at startedAt may submit.
func (e *Exam) Deadline(startedAt time.Time) time.Time {
	d := time.Duration(e.DurationMinutes) * time.Minute
	if e.AllowLateSubmit {
		d += time.Duration(e.LateSubmitMinutes) * time.Minute
	}
	return startedAt.Add(d)
}

// WithinSchedule reports whether now falls inside the exam's scheduled
// window. Unset bounds are open.
func (e *Exam) WithinSchedule(now time.Time) bool {
	if e.StartsAt != nil && now.Before(*e.StartsAt) {
		return false
	}
	if e.EndsAt != nil && now.After(*e.EndsAt) {
		return false
	}
	return true
}

// QuestionIDs returns question ids in authored order.
func (e *Exam) QuestionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(e.Questions))
	for i, q := range e.Questions {
		ids[i] = q.ID
	}
	return ids
}

// Question finds a question by id.
func (e *Exam) Question(id uuid.UUID) (Question, bool) {
	for _, q := range e.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}
