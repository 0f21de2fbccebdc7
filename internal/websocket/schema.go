package websocket

import "github.com/stemsi/exstem-proctor/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionFlag     Action = "flag"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest overwrites the session's draft answers.
type AutosaveRequest struct {
	Action               Action         `json:"action"`
	Answers              []model.Answer `json:"answers" binding:"max=500,dive"`
	CurrentQuestionIndex *int           `json:"current_question_index" binding:"required,min=0"`
}

// FlagRequest reports an integrity event. It is queued, not applied inline.
type FlagRequest struct {
	Action Action         `json:"action"`
	Kind   model.FlagKind `json:"kind" binding:"required,flagkind"`
	Detail string         `json:"detail" binding:"max=1000"`
}

// SubmitRequest finalizes the attempt.
type SubmitRequest struct {
	Action  Action         `json:"action"`
	Answers []model.Answer `json:"answers" binding:"max=500,dive"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError      Event = "error"
	EventSaved      Event = "saved"
	EventFlagQueued Event = "flag_queued"
	EventSubmitted  Event = "submitted"
	EventPong       Event = "pong"
)

type AckResponse struct {
	Event Event `json:"event"`
}

type SubmittedResponse struct {
	Event   Event              `json:"event"`
	Session *model.ExamSession `json:"session"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}
