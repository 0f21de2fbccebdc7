package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// SessionReader loads a session within a school.
type SessionReader interface {
	GetByID(ctx context.Context, schoolID int, sessionID uuid.UUID) (*model.ExamSession, error)
}

// GradingJob is queued for the external AI grader.
type GradingJob struct {
	SessionID   uuid.UUID `json:"session_id"`
	ExamID      uuid.UUID `json:"exam_id"`
	StudentID   int       `json:"student_id"`
	SchoolID    int       `json:"school_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// GradingGate throttles AI grading requests per school and hands accepted
// ones to the grader queue.
type GradingGate struct {
	sessions SessionReader
	limiter  ratelimit.Limiter
	rdb      redis.Cmdable
	log      zerolog.Logger
	now      func() time.Time
}

// NewGradingGate creates a new GradingGate.
func NewGradingGate(sessions SessionReader, limiter ratelimit.Limiter, rdb redis.Cmdable, log zerolog.Logger) *GradingGate {
	return &GradingGate{
		sessions: sessions,
		limiter:  limiter,
		rdb:      rdb,
		log:      log.With().Str("component", "grading_gate").Logger(),
		now:      time.Now,
	}
}

// RequestAIGrading enqueues a SUBMITTED session for AI grading.
func (g *GradingGate) RequestAIGrading(ctx context.Context, schoolID int, sessionID uuid.UUID) error {
	if res := ratelimit.AIGrading.Check(ctx, g.limiter, ratelimit.SchoolSubject(schoolID)); !res.Allowed {
		return newError(CodeRateLimited, "retry in %s", res.ResetIn.Round(time.Second))
	}

	sess, err := g.sessions.GetByID(ctx, schoolID, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return newError(CodeSessionNotFound, "session %s", sessionID)
	}
	if err != nil {
		g.log.Error().Err(err).Msg("load session for grading")
		return &Error{Code: CodeInternal, Err: err}
	}
	if sess.Status != model.SessionStatusSubmitted {
		return newError(CodeSessionNotActive, "session is %s, only submitted sessions can be graded", sess.Status)
	}

	payload, err := json.Marshal(GradingJob{
		SessionID:   sess.ID,
		ExamID:      sess.ExamID,
		StudentID:   sess.StudentID,
		SchoolID:    sess.SchoolID,
		RequestedAt: g.now(),
	})
	if err != nil {
		return &Error{Code: CodeInternal, Err: err}
	}
	if err := g.rdb.RPush(ctx, config.WorkerKey.AIGradingQueue, payload).Err(); err != nil {
		g.log.Error().Err(err).Msg("enqueue grading job")
		return &Error{Code: CodeInternal, Err: err}
	}

	g.log.Info().Str("session_id", sess.ID.String()).Int("school_id", schoolID).Msg("AI grading requested")
	return nil
}
