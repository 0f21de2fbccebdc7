package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ExamSessionHandler handles student-facing exam-taking endpoints.
type ExamSessionHandler struct {
	sessionService *service.ExamSessionService
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(sessionService *service.ExamSessionService) *ExamSessionHandler {
	return &ExamSessionHandler{sessionService: sessionService}
}

// StartSession godoc
// POST /api/v1/student/exams/:exam_id/session
// Creates a new attempt or resumes the open one.
func (h *ExamSessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	// The body is optional; an empty request starts without a fingerprint.
	var req model.StartSessionRequest
	if c.Request.ContentLength > 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	meta := model.ClientMeta{
		IPAddress:         c.ClientIP(),
		UserAgent:         c.Request.UserAgent(),
		DeviceFingerprint: req.DeviceFingerprint,
	}

	sess, resumed, err := h.sessionService.StartSession(c.Request.Context(), claims.Actor(), examID, meta)
	if err != nil {
		failService(c, err)
		return
	}

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	response.Success(c, status, gin.H{"session": sess, "resumed": resumed})
}

// GetSession godoc
// GET /api/v1/student/exams/:exam_id/session
// Returns the student's open session for the exam, or null.
func (h *ExamSessionHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	sess, err := h.sessionService.GetActiveSession(c.Request.Context(), claims.Actor(), examID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// AutoSave godoc
// PUT /api/v1/student/sessions/:session_id/snapshot
// Overwrites the session's draft answers.
func (h *ExamSessionHandler) AutoSave(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	var req model.AutoSaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.AutoSave(c.Request.Context(), claims.Actor(), sessionID, req.Answers, *req.CurrentQuestionIndex); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// ReportFlag godoc
// POST /api/v1/student/sessions/:session_id/flags
// Records an integrity event raised by the client.
func (h *ExamSessionHandler) ReportFlag(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	var req model.SecurityFlagRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.ReportSecurityFlag(c.Request.Context(), claims.Actor(), sessionID, req.Kind, req.Detail); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"status": "recorded"})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/sessions/:session_id/submit
// Finalizes the attempt with the supplied answers.
func (h *ExamSessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.sessionService.Submit(c.Request.Context(), claims.Actor(), examID, sessionID, req.Answers)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// parseUUIDParam reads a UUID path parameter, answering 400 when malformed.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
