package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the student exam stream.
type WSHandler struct {
	rdb            redis.Cmdable
	sessionService *service.ExamSessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb redis.Cmdable, sessionService *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:            rdb,
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// streamSession is the per-connection state.
type streamSession struct {
	conn    *websocket.Conn
	actor   service.Actor
	session *model.ExamSession
	log     zerolog.Logger
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream?token=
// Carries autosave, flag and submit actions for the student's open session.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	// Resolve the session before upgrading so a missing one is a plain HTTP error.
	actor := claims.Actor()
	sess, err := h.sessionService.GetActiveSession(c.Request.Context(), actor, examID)
	if err != nil {
		failService(c, err)
		return
	}
	if sess == nil || sess.Status != model.SessionStatusInProgress {
		response.Fail(c, http.StatusConflict, response.ErrSessionNotActive)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	st := &streamSession{
		conn:    conn,
		actor:   actor,
		session: sess,
		log: h.log.With().
			Int("student_id", actor.StudentID).
			Str("exam_id", examID.String()).
			Str("session_id", sess.ID.String()).
			Logger(),
	}
	st.log.Info().Msg("Student connected")

	ctx := c.Request.Context()
	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				st.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				st.log.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			ws.WriteError(conn, string(response.ErrValidation), "malformed message", nil)
			continue
		}

		switch env.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, st, data)
		case ws.ActionFlag:
			h.handleFlag(ctx, st, data)
		case ws.ActionSubmit:
			if h.handleSubmit(ctx, st, data) {
				return
			}
		case ws.ActionPing:
			ws.WriteAck(conn, ws.EventPong)
		default:
			st.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrValidation), "unknown action: "+string(env.Action), nil)
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, st *streamSession, data []byte) {
	var req ws.AutosaveRequest
	if !decodeAction(st.conn, data, &req) {
		return
	}
	if err := h.sessionService.AutoSave(ctx, st.actor, st.session.ID, req.Answers, *req.CurrentQuestionIndex); err != nil {
		writeServiceError(st.conn, err)
		return
	}
	ws.WriteAck(st.conn, ws.EventSaved)
}

// handleFlag queues the flag for FlagWorker so the read loop never waits on
// the database.
func (h *WSHandler) handleFlag(ctx context.Context, st *streamSession, data []byte) {
	var req ws.FlagRequest
	if !decodeAction(st.conn, data, &req) {
		return
	}

	job := worker.FlagJob{
		SessionID: st.session.ID,
		ExamID:    st.session.ExamID,
		StudentID: st.actor.StudentID,
		SchoolID:  st.actor.SchoolID,
		Kind:      req.Kind,
		Detail:    req.Detail,
		QueuedAt:  time.Now(),
	}
	if err := worker.EnqueueFlag(ctx, h.rdb, job); err != nil {
		st.log.Error().Err(err).Msg("Queue security flag")
		ws.WriteError(st.conn, string(response.ErrInternal), response.GetMessage(response.ErrInternal), nil)
		return
	}
	ws.WriteAck(st.conn, ws.EventFlagQueued)
}

// handleSubmit reports whether the stream is finished.
func (h *WSHandler) handleSubmit(ctx context.Context, st *streamSession, data []byte) bool {
	var req ws.SubmitRequest
	if !decodeAction(st.conn, data, &req) {
		return false
	}

	sess, err := h.sessionService.Submit(ctx, st.actor, st.session.ExamID, st.session.ID, req.Answers)
	if err != nil {
		writeServiceError(st.conn, err)
		// Terminal outcomes end the stream.
		switch service.CodeOf(err) {
		case service.CodeAlreadySubmitted, service.CodeTimeLimitExceeded:
			return true
		}
		return false
	}

	st.log.Info().Msg("Exam submitted over stream")
	ws.WriteTyped(st.conn, ws.SubmittedResponse{Event: ws.EventSubmitted, Session: sess})
	return true
}

func decodeAction(conn *websocket.Conn, data []byte, dst interface{}) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		ws.WriteError(conn, string(response.ErrValidation), "malformed message", nil)
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		ws.WriteError(conn, string(response.ErrValidation), response.GetMessage(response.ErrValidation), fields)
		return false
	}
	return true
}

func writeServiceError(conn *websocket.Conn, err error) {
	_, code := statusFor(err)
	ws.WriteError(conn, string(code), response.GetMessage(code), nil)
}
