package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// ProctorHandler exposes the proctor controls over running sessions.
type ProctorHandler struct {
	sessionService *service.ExamSessionService
	gradingGate    *service.GradingGate
}

// NewProctorHandler creates a new ProctorHandler.
func NewProctorHandler(sessionService *service.ExamSessionService, gradingGate *service.GradingGate) *ProctorHandler {
	return &ProctorHandler{sessionService: sessionService, gradingGate: gradingGate}
}

// PauseSession godoc
// POST /api/v1/admin/sessions/:session_id/pause
func (h *ProctorHandler) PauseSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	if err := h.sessionService.PauseSession(c.Request.Context(), claims.SchoolID, sessionID); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "paused"})
}

// LockStatus godoc
// GET /api/v1/admin/exams/:exam_id/students/:student_id/lock
// Reports whether a submission is in flight for the student.
func (h *ProctorHandler) LockStatus(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil || studentID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	status, err := h.sessionService.LockStatus(c.Request.Context(), studentID, examID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"lock": status})
}

// RequestAIGrading godoc
// POST /api/v1/admin/sessions/:session_id/ai-grade
func (h *ProctorHandler) RequestAIGrading(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	sessionID, ok := parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	if err := h.gradingGate.RequestAIGrading(c.Request.Context(), claims.SchoolID, sessionID); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"status": "queued"})
}
