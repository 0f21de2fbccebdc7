package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/attemptlock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/observability"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/shuffle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExamReader loads exam definitions scoped to a school.
type ExamReader interface {
	GetExam(ctx context.Context, schoolID int, examID uuid.UUID) (*model.Exam, error)
}

// SessionStore persists exam sessions. Every conditional write returns
// repository.ErrStatusChanged when the session is no longer in the required
// state, and Create returns repository.ErrConflict when the student already
// has an open session.
type SessionStore interface {
	CountTerminal(ctx context.Context, schoolID int, examID uuid.UUID, studentID int) (int, error)
	FindOpen(ctx context.Context, schoolID int, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	GetByID(ctx context.Context, schoolID int, sessionID uuid.UUID) (*model.ExamSession, error)
	Create(ctx context.Context, s *model.ExamSession) error
	Resume(ctx context.Context, s *model.ExamSession) error
	SaveSnapshot(ctx context.Context, schoolID int, sessionID uuid.UUID, snap model.AnswerSnapshot) error
	AppendFlag(ctx context.Context, schoolID int, sessionID uuid.UUID, flag model.SecurityFlag) error
	Pause(ctx context.Context, schoolID int, sessionID uuid.UUID, at time.Time) error
	Expire(ctx context.Context, schoolID int, sessionID uuid.UUID, at time.Time) error
	// Submit flips an IN_PROGRESS session to SUBMITTED and upserts its
	// answers in one transaction.
	Submit(ctx context.Context, s *model.ExamSession, answers []model.StudentAnswer, at time.Time) error
}

// Actor is the authenticated student making a call.
type Actor struct {
	StudentID int
	SchoolID  int
}

const (
	maxFlagDetail = 1000
	// A lost create race is retried against the winner's session.
	maxStartAttempts = 3
)

// ExamSessionService drives the exam session lifecycle.
type ExamSessionService struct {
	exams    ExamReader
	sessions SessionStore
	locks    attemptlock.Manager
	limiter  ratelimit.Limiter
	events   EventPublisher
	log      zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewExamSessionService creates a new ExamSessionService.
func NewExamSessionService(
	exams ExamReader,
	sessions SessionStore,
	locks attemptlock.Manager,
	limiter ratelimit.Limiter,
	events EventPublisher,
	log zerolog.Logger,
) *ExamSessionService {
	if events == nil {
		events = NopPublisher{}
	}
	return &ExamSessionService{
		exams:    exams,
		sessions: sessions,
		locks:    locks,
		limiter:  limiter,
		events:   events,
		log:      log.With().Str("component", "exam_session").Logger(),
		tracer:   otel.Tracer(observability.TracerName),
		now:      time.Now,
	}
}

// WithClock replaces the wall clock.
func (s *ExamSessionService) WithClock(now func() time.Time) *ExamSessionService {
	s.now = now
	return s
}

// StartSession resumes the student's open session or creates the next attempt.
// The boolean result reports whether an existing session was resumed.
func (s *ExamSessionService) StartSession(ctx context.Context, actor Actor, examID uuid.UUID, meta model.ClientMeta) (sess *model.ExamSession, resumed bool, err error) {
	ctx, span := s.startSpan(ctx, "StartSession", actor, attribute.String("exam.id", examID.String()))
	defer func() { endSpan(span, err) }()

	exam, err := s.loadExam(ctx, actor.SchoolID, examID)
	if err != nil {
		return nil, false, err
	}
	if exam.Status != model.ExamStatusInProgress {
		return nil, false, newError(CodeNotActive, "exam %s is %s", examID, exam.Status)
	}

	for range maxStartAttempts {
		var retry bool
		sess, resumed, retry, err = s.startOnce(ctx, actor, exam, meta)
		if !retry {
			return sess, resumed, err
		}
	}
	return nil, false, s.internal(ctx, "start session", fmt.Errorf("session for exam %s kept changing", examID))
}

func (s *ExamSessionService) startOnce(ctx context.Context, actor Actor, exam *model.Exam, meta model.ClientMeta) (*model.ExamSession, bool, bool, error) {
	terminal, err := s.sessions.CountTerminal(ctx, actor.SchoolID, exam.ID, actor.StudentID)
	if err != nil {
		return nil, false, false, s.internal(ctx, "count terminal attempts", err)
	}
	if terminal >= max(exam.MaxAttempts, 1) {
		return nil, false, false, newError(CodeAttemptsExhausted, "%d of %d attempts used", terminal, exam.MaxAttempts)
	}

	open, err := s.sessions.FindOpen(ctx, actor.SchoolID, exam.ID, actor.StudentID)
	switch {
	case err == nil:
		return s.resume(ctx, open, meta)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, false, s.internal(ctx, "find open session", err)
	}

	now := s.now()
	if !exam.WithinSchedule(now) {
		return nil, false, false, newError(CodeNotActive, "exam %s is outside its scheduled window", exam.ID)
	}

	sess := newSession(exam, actor, terminal+1, meta, now)
	if err := s.sessions.Create(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Another request created the attempt first. Resume it.
			return nil, false, true, nil
		}
		return nil, false, false, s.internal(ctx, "create session", err)
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("exam_id", exam.ID.String()).
		Int("student_id", actor.StudentID).
		Int("attempt", sess.AttemptNumber).
		Msg("exam session started")
	s.publish(ctx, sess, EventSessionStarted, nil)
	return sess, false, false, nil
}

func (s *ExamSessionService) resume(ctx context.Context, sess *model.ExamSession, meta model.ClientMeta) (*model.ExamSession, bool, bool, error) {
	now := s.now()
	sess.LastActivityAt = &now
	if meta.IPAddress != "" {
		sess.IPAddress = meta.IPAddress
	}
	if meta.UserAgent != "" {
		sess.UserAgent = meta.UserAgent
	}
	if meta.DeviceFingerprint != "" {
		sess.DeviceFingerprint = meta.DeviceFingerprint
	}
	if sess.Status == model.SessionStatusPaused || sess.Status == model.SessionStatusNotStarted {
		sess.Status = model.SessionStatusInProgress
	}

	if err := s.sessions.Resume(ctx, sess); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, false, true, nil
		}
		return nil, false, false, s.internal(ctx, "resume session", err)
	}

	s.publish(ctx, sess, EventSessionResumed, nil)
	return sess, true, false, nil
}

func newSession(exam *model.Exam, actor Actor, attempt int, meta model.ClientMeta, now time.Time) *model.ExamSession {
	seed := shuffle.SessionSeed(exam.ID, actor.StudentID, attempt)

	order := exam.QuestionIDs()
	if exam.ShuffleQuestions {
		order = shuffle.Seeded(order, seed)
	}

	var options map[uuid.UUID][]int
	if exam.ShuffleOptions {
		options = make(map[uuid.UUID][]int)
		for _, q := range exam.Questions {
			if !q.Type.ShufflesOptions() || q.OptionCount < 2 {
				continue
			}
			options[q.ID] = shuffle.Seeded(shuffle.Indexes(q.OptionCount), seed+q.ID.String())
		}
	}

	started := now
	return &model.ExamSession{
		ID:                uuid.New(),
		ExamID:            exam.ID,
		StudentID:         actor.StudentID,
		SchoolID:          actor.SchoolID,
		AttemptNumber:     attempt,
		Status:            model.SessionStatusInProgress,
		StartedAt:         &started,
		LastActivityAt:    &now,
		QuestionOrder:     order,
		OptionOrders:      options,
		IPAddress:         meta.IPAddress,
		UserAgent:         meta.UserAgent,
		DeviceFingerprint: meta.DeviceFingerprint,
		SecurityFlags:     []model.SecurityFlag{},
	}
}

// GetActiveSession returns the student's open session for an exam, or nil.
func (s *ExamSessionService) GetActiveSession(ctx context.Context, actor Actor, examID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.sessions.FindOpen(ctx, actor.SchoolID, examID, actor.StudentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.internal(ctx, "find open session", err)
	}
	return sess, nil
}

// AutoSave replaces the session's draft answers. Concurrent saves are
// last-write-wins. Final answers are never touched.
func (s *ExamSessionService) AutoSave(ctx context.Context, actor Actor, sessionID uuid.UUID, answers []model.Answer, currentQuestionIndex int) (err error) {
	ctx, span := s.startSpan(ctx, "AutoSave", actor, attribute.String("session.id", sessionID.String()))
	defer func() { endSpan(span, err) }()

	if currentQuestionIndex < 0 {
		return newError(CodeValidation, "current question index must not be negative")
	}
	for _, a := range answers {
		if err := a.Validate(); err != nil {
			return &Error{Code: CodeValidation, Err: err}
		}
	}

	sess, err := s.activeSession(ctx, actor, sessionID)
	if err != nil {
		return err
	}
	if currentQuestionIndex >= len(sess.QuestionOrder) && len(sess.QuestionOrder) > 0 {
		return newError(CodeValidation, "current question index %d out of range", currentQuestionIndex)
	}
	if err := answersInSession(sess, answers); err != nil {
		return err
	}

	snap := model.AnswerSnapshot{
		Answers:              answers,
		CurrentQuestionIndex: currentQuestionIndex,
		SavedAt:              s.now(),
	}
	if err := s.sessions.SaveSnapshot(ctx, actor.SchoolID, sessionID, snap); err != nil {
		return s.conditionalWriteErr(ctx, "save snapshot", err)
	}
	return nil
}

// ReportSecurityFlag appends an integrity event to an IN_PROGRESS session.
func (s *ExamSessionService) ReportSecurityFlag(ctx context.Context, actor Actor, sessionID uuid.UUID, kind model.FlagKind, detail string) error {
	return s.ReportSecurityFlagAt(ctx, actor, sessionID, kind, detail, time.Time{})
}

// ReportSecurityFlagAt is ReportSecurityFlag for an event observed at a known
// time, such as one that waited in the flag queue. A zero or future at is
// recorded as now.
func (s *ExamSessionService) ReportSecurityFlagAt(ctx context.Context, actor Actor, sessionID uuid.UUID, kind model.FlagKind, detail string, at time.Time) (err error) {
	ctx, span := s.startSpan(ctx, "ReportSecurityFlag", actor,
		attribute.String("session.id", sessionID.String()),
		attribute.String("flag.kind", string(kind)),
	)
	defer func() { endSpan(span, err) }()

	if !kind.Valid() {
		return newError(CodeValidation, "unknown flag kind %q", kind)
	}
	if len(detail) > maxFlagDetail {
		return newError(CodeValidation, "flag detail exceeds %d bytes", maxFlagDetail)
	}

	sess, err := s.activeSession(ctx, actor, sessionID)
	if err != nil {
		return err
	}

	if now := s.now(); at.IsZero() || at.After(now) {
		at = now
	}
	flag := model.SecurityFlag{Kind: kind, At: at, Detail: detail}
	if err := s.sessions.AppendFlag(ctx, actor.SchoolID, sessionID, flag); err != nil {
		return s.conditionalWriteErr(ctx, "append security flag", err)
	}

	sess.ApplyFlag(flag)
	s.publish(ctx, sess, EventSecurityFlag, &flag)
	return nil
}

// Submit finalizes a session: it records the answers and flips the status to
// SUBMITTED in one transaction, guarded by the submission rate limit, the
// deadline and the per-student attempt lock.
func (s *ExamSessionService) Submit(ctx context.Context, actor Actor, examID, sessionID uuid.UUID, answers []model.Answer) (sess *model.ExamSession, err error) {
	ctx, span := s.startSpan(ctx, "Submit", actor,
		attribute.String("exam.id", examID.String()),
		attribute.String("session.id", sessionID.String()),
	)
	defer func() { endSpan(span, err) }()

	if res := ratelimit.ExamSubmission.Check(ctx, s.limiter, ratelimit.SubmissionSubject(actor.StudentID, examID)); !res.Allowed {
		return nil, newError(CodeRateLimited, "retry in %s", res.ResetIn.Round(time.Second))
	}

	sess, err = s.sessions.GetByID(ctx, actor.SchoolID, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(CodeSessionNotFound, "session %s", sessionID)
	}
	if err != nil {
		return nil, s.internal(ctx, "load session", err)
	}
	if sess.StudentID != actor.StudentID || sess.ExamID != examID {
		return nil, newError(CodeSessionNotFound, "session %s", sessionID)
	}
	if sess.Status.Terminal() {
		return nil, newError(CodeAlreadySubmitted, "session is %s", sess.Status)
	}

	exam, err := s.loadExam(ctx, actor.SchoolID, examID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess.StartedAt != nil && now.After(exam.Deadline(*sess.StartedAt)) {
		return nil, s.expire(ctx, sess, exam, now)
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil, newError(CodeSessionNotActive, "session is %s", sess.Status)
	}
	if err := answersMatchExam(exam, answers); err != nil {
		return nil, err
	}

	token, locked, err := s.locks.TryLock(ctx, actor.StudentID, examID, "submit")
	if err != nil {
		return nil, s.internal(ctx, "acquire attempt lock", err)
	}
	if !locked {
		return nil, newError(CodeSubmissionInProgress, "another submission for this exam is running")
	}
	defer func() {
		// Released even when the request context is already cancelled.
		if uerr := s.locks.Unlock(context.WithoutCancel(ctx), actor.StudentID, examID, token); uerr != nil {
			s.log.Warn().Err(uerr).Str("session_id", sessionID.String()).Msg("release attempt lock")
		}
	}()

	final := model.FinalAnswers(sess, answers, now)
	if err := s.sessions.Submit(ctx, sess, final, now); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return nil, newError(CodeAlreadySubmitted, "session %s was finalized concurrently", sessionID)
		}
		return nil, s.internal(ctx, "submit session", err)
	}

	sess.Status = model.SessionStatusSubmitted
	sess.SubmittedAt = &now
	sess.LastActivityAt = &now

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Int("student_id", actor.StudentID).
		Int("answers", len(final)).
		Msg("exam session submitted")
	s.publish(ctx, sess, EventSessionSubmitted, nil)
	return sess, nil
}

// expire marks a session past its deadline as EXPIRED and reports
// TIME_LIMIT_EXCEEDED.
func (s *ExamSessionService) expire(ctx context.Context, sess *model.ExamSession, exam *model.Exam, now time.Time) error {
	err := s.sessions.Expire(ctx, sess.SchoolID, sess.ID, now)
	switch {
	case err == nil:
		sess.Status = model.SessionStatusExpired
		sess.LastActivityAt = &now
		s.publish(ctx, sess, EventSessionExpired, nil)
	case errors.Is(err, repository.ErrStatusChanged):
		// Already terminal; the deadline verdict stands.
	default:
		return s.internal(ctx, "expire session", err)
	}
	return newError(CodeTimeLimitExceeded, "deadline was %s", exam.Deadline(*sess.StartedAt).Format(time.RFC3339))
}

// PauseSession lets a proctor pause an IN_PROGRESS session.
func (s *ExamSessionService) PauseSession(ctx context.Context, schoolID int, sessionID uuid.UUID) (err error) {
	ctx, span := s.tracer.Start(ctx, "ExamSessionService.PauseSession", trace.WithAttributes(
		attribute.Int("school.id", schoolID),
		attribute.String("session.id", sessionID.String()),
	))
	defer func() { endSpan(span, err) }()

	sess, err := s.sessions.GetByID(ctx, schoolID, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return newError(CodeSessionNotFound, "session %s", sessionID)
	}
	if err != nil {
		return s.internal(ctx, "load session", err)
	}
	if sess.Status != model.SessionStatusInProgress {
		return newError(CodeSessionNotActive, "session is %s", sess.Status)
	}

	now := s.now()
	if err := s.sessions.Pause(ctx, schoolID, sessionID, now); err != nil {
		return s.conditionalWriteErr(ctx, "pause session", err)
	}
	sess.Status = model.SessionStatusPaused
	sess.LastActivityAt = &now
	s.publish(ctx, sess, EventSessionPaused, nil)
	return nil
}

// LockStatus reports the attempt lock held for a student and exam.
func (s *ExamSessionService) LockStatus(ctx context.Context, studentID int, examID uuid.UUID) (attemptlock.Status, error) {
	st, err := s.locks.Status(ctx, studentID, examID)
	if err != nil {
		return attemptlock.Status{}, s.internal(ctx, "read attempt lock", err)
	}
	return st, nil
}

// activeSession loads a session owned by actor that is IN_PROGRESS.
// Missing, foreign and inactive sessions all report SESSION_NOT_ACTIVE.
func (s *ExamSessionService) activeSession(ctx context.Context, actor Actor, sessionID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.sessions.GetByID(ctx, actor.SchoolID, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(CodeSessionNotActive, "session %s does not exist", sessionID)
	}
	if err != nil {
		return nil, s.internal(ctx, "load session", err)
	}
	if sess.StudentID != actor.StudentID {
		return nil, newError(CodeSessionNotActive, "session %s does not exist", sessionID)
	}
	if sess.Status != model.SessionStatusInProgress {
		return nil, newError(CodeSessionNotActive, "session is %s", sess.Status)
	}
	return sess, nil
}

func (s *ExamSessionService) loadExam(ctx context.Context, schoolID int, examID uuid.UUID) (*model.Exam, error) {
	exam, err := s.exams.GetExam(ctx, schoolID, examID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(CodeNotFound, "exam %s", examID)
	}
	if err != nil {
		return nil, s.internal(ctx, "load exam", err)
	}
	return exam, nil
}

func (s *ExamSessionService) conditionalWriteErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, repository.ErrStatusChanged) || errors.Is(err, repository.ErrNotFound) {
		return newError(CodeSessionNotActive, "%s: %v", op, err)
	}
	return s.internal(ctx, op, err)
}

// internal logs an unexpected persistence failure and hides it behind
// INTERNAL_ERROR.
func (s *ExamSessionService) internal(ctx context.Context, op string, err error) error {
	s.log.Error().Err(err).Str("op", op).Msg("session engine failure")
	trace.SpanFromContext(ctx).RecordError(err)
	return &Error{Code: CodeInternal, Err: fmt.Errorf("%s: %w", op, err)}
}

func (s *ExamSessionService) publish(ctx context.Context, sess *model.ExamSession, typ EventType, flag *model.SecurityFlag) {
	ev := MonitorEvent{
		Type:      typ,
		ExamID:    sess.ExamID,
		SessionID: sess.ID,
		StudentID: sess.StudentID,
		Status:    sess.Status,
		Flag:      flag,
		At:        s.now(),
	}
	if err := s.events.Publish(ctx, sess.ExamID, ev); err != nil {
		s.log.Warn().Err(err).Str("event", string(typ)).Msg("publish monitor event")
	}
}

func (s *ExamSessionService) startSpan(ctx context.Context, op string, actor Actor, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.Int("student.id", actor.StudentID),
		attribute.Int("school.id", actor.SchoolID),
	)
	return s.tracer.Start(ctx, "ExamSessionService."+op, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		code := CodeOf(err)
		span.SetAttributes(attribute.String("error.code", string(code)))
		if code == CodeInternal {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// answersInSession checks draft answers against the session's questions.
func answersInSession(sess *model.ExamSession, answers []model.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	known := make(map[uuid.UUID]struct{}, len(sess.QuestionOrder))
	for _, id := range sess.QuestionOrder {
		known[id] = struct{}{}
	}
	for _, a := range answers {
		if _, ok := known[a.QuestionID]; !ok {
			return newError(CodeValidation, "question %s is not part of this session", a.QuestionID)
		}
	}
	return nil
}

// answersMatchExam checks final answers against the exam's question set:
// each answer must be well-formed, reference a known question and carry the
// kind that question type expects.
func answersMatchExam(exam *model.Exam, answers []model.Answer) error {
	for _, a := range answers {
		if err := a.Validate(); err != nil {
			return &Error{Code: CodeValidation, Err: err}
		}
		q, ok := exam.Question(a.QuestionID)
		if !ok {
			return newError(CodeValidation, "question %s is not part of this exam", a.QuestionID)
		}
		if want := q.Type.AnswerKind(); want != a.Kind {
			return newError(CodeValidation, "question %s expects a %s answer", a.QuestionID, want)
		}
	}
	return nil
}
