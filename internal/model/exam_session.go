package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "NOT_STARTED"
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusPaused     SessionStatus = "PAUSED"
	SessionStatusSubmitted  SessionStatus = "SUBMITTED"
	SessionStatusExpired    SessionStatus = "EXPIRED"
)

// OpenStatuses are the non-terminal states. At most one session per
// (student, exam) may be in one of them.
var OpenStatuses = []SessionStatus{
	SessionStatusNotStarted,
	SessionStatusInProgress,
	SessionStatusPaused,
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusSubmitted || s == SessionStatusExpired
}

// FlagKind enumerates client-reported integrity events.
type FlagKind string

const (
	FlagFocusLost      FlagKind = "FOCUS_LOST"
	FlagTabSwitch      FlagKind = "TAB_SWITCH"
	FlagCopyAttempt    FlagKind = "COPY_ATTEMPT"
	FlagPasteAttempt   FlagKind = "PASTE_ATTEMPT"
	FlagFullscreenExit FlagKind = "FULLSCREEN_EXIT"
	FlagRightClick     FlagKind = "RIGHT_CLICK"
	FlagDevTools       FlagKind = "DEVTOOLS_OPEN"
	FlagOther          FlagKind = "OTHER"
)

// Valid reports whether k is a known flag kind.
func (k FlagKind) Valid() bool {
	switch k {
	case FlagFocusLost, FlagTabSwitch, FlagCopyAttempt, FlagPasteAttempt,
		FlagFullscreenExit, FlagRightClick, FlagDevTools, FlagOther:
		return true
	}
	return false
}

// SecurityFlag is one entry in a session's append-only integrity log.
type SecurityFlag struct {
	Kind   FlagKind  `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail,omitempty"`
}

// AnswerSnapshot is the latest auto-saved draft. It is never graded.
type AnswerSnapshot struct {
	Answers              []Answer  `json:"answers"`
	CurrentQuestionIndex int       `json:"current_question_index"`
	SavedAt              time.Time `json:"saved_at"`
}

// ExamSession is one student's attempt at an exam.
type ExamSession struct {
	ID            uuid.UUID     `json:"id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	StudentID     int           `json:"student_id"`
	SchoolID      int           `json:"school_id"`
	AttemptNumber int           `json:"attempt_number"`
	Status        SessionStatus `json:"status"`

	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	LastSavedAt    *time.Time `json:"last_saved_at,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`

	// Fixed at creation.
	QuestionOrder []uuid.UUID         `json:"question_order"`
	OptionOrders  map[uuid.UUID][]int `json:"option_orders,omitempty"`

	IPAddress         string `json:"ip_address,omitempty"`
	UserAgent         string `json:"user_agent,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`

	FlagCount      int            `json:"flag_count"`
	FocusLostCount int            `json:"focus_lost_count"`
	TabSwitchCount int            `json:"tab_switch_count"`
	CopyAttempts   int            `json:"copy_attempts"`
	SecurityFlags  []SecurityFlag `json:"security_flags"`

	AnswerSnapshot *AnswerSnapshot `json:"answer_snapshot,omitempty"`
}

// ApplyFlag appends f and bumps the aggregate and kind-specific counters.
func (s *ExamSession) ApplyFlag(f SecurityFlag) {
	s.SecurityFlags = append(s.SecurityFlags, f)
	s.FlagCount++
	switch f.Kind {
	case FlagFocusLost:
		s.FocusLostCount++
	case FlagTabSwitch:
		s.TabSwitchCount++
	case FlagCopyAttempt:
		s.CopyAttempts++
	}
	at := f.At
	s.LastActivityAt = &at
}

// ClientMeta is informational client fingerprinting captured on start/resume.
type ClientMeta struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
}

// StartSessionRequest is the optional body of a start/resume call.
type StartSessionRequest struct {
	DeviceFingerprint string `json:"device_fingerprint" binding:"omitempty,max=255"`
}

// AutoSaveRequest is the payload for an auto-save.
type AutoSaveRequest struct {
	Answers              []Answer `json:"answers" binding:"max=500,dive"`
	CurrentQuestionIndex *int     `json:"current_question_index" binding:"required,min=0"`
}

// SecurityFlagRequest is the payload for reporting an integrity event.
type SecurityFlagRequest struct {
	Kind   FlagKind `json:"kind" binding:"required,flagkind"`
	Detail string   `json:"detail" binding:"max=1000"`
}

// SubmitRequest is the payload for a final submission.
type SubmitRequest struct {
	Answers []Answer `json:"answers" binding:"max=500,dive"`
}

// SessionSummary is the proctor monitor's view of one open session.
type SessionSummary struct {
	SessionID      uuid.UUID     `json:"session_id"`
	StudentID      int           `json:"student_id"`
	AttemptNumber  int           `json:"attempt_number"`
	Status         SessionStatus `json:"status"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	LastActivityAt *time.Time    `json:"last_activity_at,omitempty"`
	FlagCount      int           `json:"flag_count"`
	FocusLostCount int           `json:"focus_lost_count"`
	TabSwitchCount int           `json:"tab_switch_count"`
	CopyAttempts   int           `json:"copy_attempts"`
	DraftAnswers   int           `json:"draft_answers"`
}

// Summary projects s for the proctor monitor.
func (s *ExamSession) Summary() SessionSummary {
	sum := SessionSummary{
		SessionID:      s.ID,
		StudentID:      s.StudentID,
		AttemptNumber:  s.AttemptNumber,
		Status:         s.Status,
		StartedAt:      s.StartedAt,
		LastActivityAt: s.LastActivityAt,
		FlagCount:      s.FlagCount,
		FocusLostCount: s.FocusLostCount,
		TabSwitchCount: s.TabSwitchCount,
		CopyAttempts:   s.CopyAttempts,
	}
	if s.AnswerSnapshot != nil {
		sum.DraftAnswers = len(s.AnswerSnapshot.Answers)
	}
	return sum
}
