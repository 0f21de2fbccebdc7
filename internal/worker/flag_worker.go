package worker

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
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	PollTimeout     = 1 * time.Second // Must be >= 1s to satisfy Redis
	MaxFlagAttempts = 5
	drainTimeout    = 5 * time.Second
)

// FlagJob is one queued integrity event from the exam stream.
type FlagJob struct {
	SessionID uuid.UUID      `json:"session_id"`
	ExamID    uuid.UUID      `json:"exam_id"`
	StudentID int            `json:"student_id"`
	SchoolID  int            `json:"school_id"`
	Kind      model.FlagKind `json:"kind"`
	Detail    string         `json:"detail,omitempty"`
	QueuedAt  time.Time      `json:"queued_at"`
	Attempts  int            `json:"attempts,omitempty"`
}

// EnqueueFlag pushes job onto the security flag queue.
func EnqueueFlag(ctx context.Context, rdb redis.Cmdable, job FlagJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return rdb.RPush(ctx, config.WorkerKey.SecurityFlagQueue, data).Err()
}

// FlagReporter applies a security flag to a session, stamped with the time
// it was observed.
type FlagReporter interface {
	ReportSecurityFlagAt(ctx context.Context, actor service.Actor, sessionID uuid.UUID, kind model.FlagKind, detail string, at time.Time) error
}

type outcome int

const (
	applied outcome = iota
	dropped
	requeued
)

// FlagWorker drains the security flag queue into the session engine.
type FlagWorker struct {
	rdb      redis.Cmdable
	reporter FlagReporter
	log      zerolog.Logger
	backoff  time.Duration
}

// NewFlagWorker creates a new FlagWorker.
func NewFlagWorker(rdb redis.Cmdable, reporter FlagReporter, log zerolog.Logger) *FlagWorker {
	return &FlagWorker{
		rdb:      rdb,
		reporter: reporter,
		log:      log.With().Str("component", "flag_worker").Logger(),
		backoff:  2 * time.Second,
	}
}

// WithBackoff sets the pause after a job is requeued.
func (w *FlagWorker) WithBackoff(d time.Duration) *FlagWorker {
	w.backoff = d
	return w
}

// Start blocks until ctx is cancelled, then drains what is left in the queue.
func (w *FlagWorker) Start(ctx context.Context) {
	w.log.Info().Msg("FlagWorker started")

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return
		default:
		}

		// BLPop blocks for 1 second. Returns immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.SecurityFlagQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				w.shutdown()
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		if w.process(ctx, result[1]) == requeued {
			sleep(ctx, w.backoff)
		}
	}
}

// process applies one raw payload and reports what happened to it.
func (w *FlagWorker) process(ctx context.Context, raw string) outcome {
	var job FlagJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil || job.SessionID == uuid.Nil {
		// Malformed payloads can never succeed. Log and discard.
		w.log.Error().Err(err).Str("data", raw).Msg("Discarding malformed flag payload")
		return dropped
	}

	jobLog := w.log.With().
		Str("session_id", job.SessionID.String()).
		Int("student_id", job.StudentID).
		Str("kind", string(job.Kind)).
		Logger()

	actor := service.Actor{StudentID: job.StudentID, SchoolID: job.SchoolID}
	err := w.reporter.ReportSecurityFlagAt(ctx, actor, job.SessionID, job.Kind, job.Detail, job.QueuedAt)
	if err == nil {
		return applied
	}

	if service.CodeOf(err) != service.CodeInternal {
		jobLog.Warn().Err(err).Msg("Flag rejected, dropping")
		return dropped
	}

	job.Attempts++
	if job.Attempts >= MaxFlagAttempts {
		jobLog.Error().Err(err).Int("attempts", job.Attempts).Msg("Flag failed too many times, dropping")
		return dropped
	}

	// The requeue must survive shutdown cancellation.
	if qerr := EnqueueFlag(context.WithoutCancel(ctx), w.rdb, job); qerr != nil {
		jobLog.Error().Err(qerr).Msg("CRITICAL: Failed to requeue flag. Data loss occurred.")
		return dropped
	}
	jobLog.Warn().Err(err).Int("attempts", job.Attempts).Msg("Flag failed, requeued")
	return requeued
}

// shutdown applies the items queued at the moment of shutdown. Items requeued
// during the drain are left for the next process.
func (w *FlagWorker) shutdown() {
	w.log.Info().Msg("Worker stopping, draining remaining flags...")

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	n, err := w.rdb.LLen(ctx, config.WorkerKey.SecurityFlagQueue).Result()
	if err != nil {
		w.log.Error().Err(err).Msg("Drain: read queue length")
		return
	}

	var done int
	for i := int64(0); i < n; i++ {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.SecurityFlagQueue).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				w.log.Error().Err(err).Msg("Drain: pop flag")
			}
			break
		}
		if w.process(ctx, raw) == applied {
			done++
		}
	}

	w.log.Info().Int("applied", done).Msg("FlagWorker stopped")
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
