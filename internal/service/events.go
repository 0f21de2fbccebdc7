package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EventType names a proctor monitor event.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventSessionResumed   EventType = "session_resumed"
	EventSecurityFlag     EventType = "security_flag"
	EventSessionSubmitted EventType = "session_submitted"
	EventSessionExpired   EventType = "session_expired"
	EventSessionPaused    EventType = "session_paused"
)

// MonitorEvent is pushed to proctors watching an exam.
type MonitorEvent struct {
	Type      EventType           `json:"type"`
	ExamID    uuid.UUID           `json:"exam_id"`
	SessionID uuid.UUID           `json:"session_id"`
	StudentID int                 `json:"student_id"`
	Status    model.SessionStatus `json:"status"`
	Flag      *model.SecurityFlag `json:"flag,omitempty"`
	At        time.Time           `json:"at"`
}

// EventPublisher delivers monitor events.
type EventPublisher interface {
	Publish(ctx context.Context, examID uuid.UUID, ev MonitorEvent) error
}

// RedisEventPublisher publishes events as JSON on the exam's monitor channel.
type RedisEventPublisher struct {
	rdb redis.Cmdable
}

// NewRedisEventPublisher creates a new RedisEventPublisher.
func NewRedisEventPublisher(rdb redis.Cmdable) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb}
}

// Publish implements EventPublisher.
func (p *RedisEventPublisher) Publish(ctx context.Context, examID uuid.UUID, ev MonitorEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), raw).Err()
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, uuid.UUID, MonitorEvent) error { return nil }
