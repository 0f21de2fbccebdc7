package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// Subscriber opens Redis Pub/Sub subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type MonitorHandler struct {
	rdb            Subscriber
	monitorService *service.MonitorService
	log            zerolog.Logger
	keepAlive      time.Duration
	refresh        time.Duration
}

func NewMonitorHandler(rdb Subscriber, monitorService *service.MonitorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		rdb:            rdb,
		monitorService: monitorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
		keepAlive:      keepAliveInterval,
		refresh:        refreshInterval,
	}
}

type monitorFrame struct {
	Type string                   `json:"type"`
	Data *service.MonitorSnapshot `json:"data,omitempty"`
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:exam_id/monitor
// Sends a snapshot of the open sessions, then forwards the exam's monitor
// events until the proctor disconnects.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	// The subscription is confirmed before the snapshot is read, so every
	// event published after the snapshot reaches this stream.
	pubsub := h.rdb.Subscribe(reqCtx, config.CacheKey.ExamMonitorChannel(examID.String()))
	defer pubsub.Close()
	if _, err := pubsub.Receive(reqCtx); err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to subscribe to monitor channel")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	ch := pubsub.Channel()

	snap, err := h.snapshot(reqCtx, claims.SchoolID, examID)
	if err != nil {
		failService(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	writeFrame(c, monitorFrame{Type: "snapshot", Data: snap})

	keepAliveTicker := time.NewTicker(h.keepAlive)
	defer keepAliveTicker.Stop()

	refreshTicker := time.NewTicker(h.refresh)
	defer refreshTicker.Stop()

	// Refreshes are skipped while the exam is quiet.
	dirty := false

	pingPayload, _ := json.Marshal(monitorFrame{Type: "ping"})

	h.log.Info().Str("exam_id", examID.String()).Int("admin_id", claims.UserID).Msg("Proctor attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Events are already JSON; forward them untouched.
			writeData(c, []byte(msg.Payload))
			dirty = true

		case <-refreshTicker.C:
			if !dirty {
				continue
			}
			dirty = false
			if snap, err := h.snapshot(reqCtx, claims.SchoolID, examID); err == nil {
				writeFrame(c, monitorFrame{Type: "refresh", Data: snap})
			} else {
				h.log.Warn().Err(err).Msg("Failed to refresh monitor snapshot")
			}

		case <-keepAliveTicker.C:
			writeData(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) snapshot(ctx context.Context, schoolID int, examID uuid.UUID) (*service.MonitorSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	return h.monitorService.Snapshot(ctx, schoolID, examID)
}

func writeFrame(c *gin.Context, frame monitorFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	writeData(c, data)
}

func writeData(c *gin.Context, data []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(data)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
