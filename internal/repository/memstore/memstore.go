// Package memstore is an in-memory implementation of the session engine's
// persistence. It enforces the same uniqueness and conditional-update rules
// as the PostgreSQL schema and is used by service and handler tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type answerKey struct {
	examID     uuid.UUID
	questionID uuid.UUID
	studentID  int
}

// Store holds exams, sessions, answers and certificates.
type Store struct {
	mu           sync.RWMutex
	exams        map[uuid.UUID]*model.Exam
	sessions     map[uuid.UUID]*model.ExamSession
	answers      map[answerKey]model.StudentAnswer
	certificates map[string]*model.Certificate
	failures     map[string]error

	certLookups int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		exams:        make(map[uuid.UUID]*model.Exam),
		sessions:     make(map[uuid.UUID]*model.ExamSession),
		answers:      make(map[answerKey]model.StudentAnswer),
		certificates: make(map[string]*model.Certificate),
		failures:     make(map[string]error),
	}
}

// PutExam adds or replaces an exam.
func (s *Store) PutExam(e *model.Exam) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.Questions = append([]model.Question(nil), e.Questions...)
	s.exams[e.ID] = &cp
}

// PutSession adds or replaces a session without any constraint checks.
func (s *Store) PutSession(sess *model.ExamSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = cloneSession(sess)
}

// PutCertificate adds or replaces a certificate keyed by its code.
func (s *Store) PutCertificate(c *model.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.certificates[c.VerificationCode] = &cp
}

// FailWith makes every later call of op return err. A nil err clears it.
// Operation names match the method names, e.g. "Submit".
func (s *Store) FailWith(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// CertificateLookups reports how many times GetByCode was called.
func (s *Store) CertificateLookups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.certLookups
}

// Sessions returns copies of every session of a student for an exam,
// oldest attempt first.
func (s *Store) Sessions(examID uuid.UUID, studentID int) []*model.ExamSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.ExamSession
	for _, sess := range s.sessions {
		if sess.ExamID == examID && sess.StudentID == studentID {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out
}

// GetExam implements the exam reader.
func (s *Store) GetExam(_ context.Context, schoolID int, examID uuid.UUID) (*model.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures["GetExam"]; err != nil {
		return nil, err
	}

	e, ok := s.exams[examID]
	if !ok || e.SchoolID != schoolID {
		return nil, repository.ErrNotFound
	}
	cp := *e
	cp.Questions = append([]model.Question(nil), e.Questions...)
	return &cp, nil
}

// CountTerminal counts SUBMITTED and EXPIRED attempts.
func (s *Store) CountTerminal(_ context.Context, schoolID int, examID uuid.UUID, studentID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures["CountTerminal"]; err != nil {
		return 0, err
	}

	n := 0
	for _, sess := range s.sessions {
		if sess.SchoolID == schoolID && sess.ExamID == examID && sess.StudentID == studentID && sess.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// FindOpen returns the student's non-terminal session.
func (s *Store) FindOpen(_ context.Context, schoolID int, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures["FindOpen"]; err != nil {
		return nil, err
	}

	if sess := s.openLocked(examID, studentID); sess != nil && sess.SchoolID == schoolID {
		return cloneSession(sess), nil
	}
	return nil, repository.ErrNotFound
}

// GetByID returns a session within a school.
func (s *Store) GetByID(_ context.Context, schoolID int, sessionID uuid.UUID) (*model.ExamSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures["GetByID"]; err != nil {
		return nil, err
	}

	sess, ok := s.sessions[sessionID]
	if !ok || sess.SchoolID != schoolID {
		return nil, repository.ErrNotFound
	}
	return cloneSession(sess), nil
}

// Create inserts a session, rejecting a second open session or a duplicate
// attempt number with ErrConflict.
func (s *Store) Create(_ context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Create"]; err != nil {
		return err
	}

	if s.openLocked(sess.ExamID, sess.StudentID) != nil {
		return repository.ErrConflict
	}
	for _, other := range s.sessions {
		if other.ExamID == sess.ExamID && other.StudentID == sess.StudentID && other.AttemptNumber == sess.AttemptNumber {
			return repository.ErrConflict
		}
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// Resume writes status, activity time and client metadata.
func (s *Store) Resume(_ context.Context, sess *model.ExamSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Resume"]; err != nil {
		return err
	}

	cur, ok := s.sessions[sess.ID]
	if !ok || cur.SchoolID != sess.SchoolID || cur.Status.Terminal() {
		return repository.ErrStatusChanged
	}
	cur.Status = sess.Status
	cur.LastActivityAt = copyTime(sess.LastActivityAt)
	cur.IPAddress = sess.IPAddress
	cur.UserAgent = sess.UserAgent
	cur.DeviceFingerprint = sess.DeviceFingerprint
	return nil
}

// SaveSnapshot replaces the draft of an IN_PROGRESS session.
func (s *Store) SaveSnapshot(_ context.Context, schoolID int, sessionID uuid.UUID, snap model.AnswerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["SaveSnapshot"]; err != nil {
		return err
	}

	cur, err := s.inProgressLocked(schoolID, sessionID)
	if err != nil {
		return err
	}
	snap.Answers = append([]model.Answer(nil), snap.Answers...)
	cur.AnswerSnapshot = &snap
	saved := snap.SavedAt
	cur.LastSavedAt = &saved
	cur.LastActivityAt = copyTime(&saved)
	return nil
}

// AppendFlag appends to the integrity log of an IN_PROGRESS session.
func (s *Store) AppendFlag(_ context.Context, schoolID int, sessionID uuid.UUID, flag model.SecurityFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["AppendFlag"]; err != nil {
		return err
	}

	cur, err := s.inProgressLocked(schoolID, sessionID)
	if err != nil {
		return err
	}
	cur.ApplyFlag(flag)
	return nil
}

// Pause moves an IN_PROGRESS session to PAUSED.
func (s *Store) Pause(_ context.Context, schoolID int, sessionID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Pause"]; err != nil {
		return err
	}

	cur, err := s.inProgressLocked(schoolID, sessionID)
	if err != nil {
		return err
	}
	cur.Status = model.SessionStatusPaused
	cur.LastActivityAt = &at
	return nil
}

// Expire moves an open session to EXPIRED.
func (s *Store) Expire(_ context.Context, schoolID int, sessionID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Expire"]; err != nil {
		return err
	}

	cur, ok := s.sessions[sessionID]
	if !ok || cur.SchoolID != schoolID || cur.Status.Terminal() {
		return repository.ErrStatusChanged
	}
	cur.Status = model.SessionStatusExpired
	cur.LastActivityAt = &at
	return nil
}

// Submit flips the session to SUBMITTED and upserts answers atomically.
func (s *Store) Submit(_ context.Context, sess *model.ExamSession, answers []model.StudentAnswer, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["Submit"]; err != nil {
		return err
	}

	cur, err := s.inProgressLocked(sess.SchoolID, sess.ID)
	if err != nil {
		return err
	}
	cur.Status = model.SessionStatusSubmitted
	cur.SubmittedAt = &at
	cur.LastActivityAt = copyTime(&at)

	for _, a := range answers {
		a.SelectedOptionIDs = append([]string(nil), a.SelectedOptionIDs...)
		s.answers[answerKey{a.ExamID, a.QuestionID, a.StudentID}] = a
	}
	return nil
}

// ListAnswers returns a student's final answers for an exam.
func (s *Store) ListAnswers(_ context.Context, schoolID int, examID uuid.UUID, studentID int) ([]model.StudentAnswer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.StudentAnswer
	for k, a := range s.answers {
		if k.examID == examID && k.studentID == studentID && a.SchoolID == schoolID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID.String() < out[j].QuestionID.String() })
	return out, nil
}

// GetByCode looks up a certificate by normalized code.
func (s *Store) GetByCode(_ context.Context, code string) (*model.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.certLookups++
	if err := s.failures["GetByCode"]; err != nil {
		return nil, err
	}

	c, ok := s.certificates[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// LiveSessions summarizes every open session of an exam.
func (s *Store) LiveSessions(_ context.Context, schoolID int, examID uuid.UUID) ([]model.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failures["LiveSessions"]; err != nil {
		return nil, err
	}

	var out []model.SessionSummary
	for _, sess := range s.sessions {
		if sess.SchoolID == schoolID && sess.ExamID == examID && !sess.Status.Terminal() {
			out = append(out, sess.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (s *Store) openLocked(examID uuid.UUID, studentID int) *model.ExamSession {
	for _, sess := range s.sessions {
		if sess.ExamID == examID && sess.StudentID == studentID && !sess.Status.Terminal() {
			return sess
		}
	}
	return nil
}

func (s *Store) inProgressLocked(schoolID int, sessionID uuid.UUID) (*model.ExamSession, error) {
	cur, ok := s.sessions[sessionID]
	if !ok || cur.SchoolID != schoolID {
		return nil, repository.ErrNotFound
	}
	if cur.Status != model.SessionStatusInProgress {
		return nil, repository.ErrStatusChanged
	}
	return cur, nil
}

func cloneSession(in *model.ExamSession) *model.ExamSession {
	out := *in
	out.StartedAt = copyTime(in.StartedAt)
	out.LastActivityAt = copyTime(in.LastActivityAt)
	out.LastSavedAt = copyTime(in.LastSavedAt)
	out.SubmittedAt = copyTime(in.SubmittedAt)
	out.QuestionOrder = append([]uuid.UUID(nil), in.QuestionOrder...)
	if in.OptionOrders != nil {
		out.OptionOrders = make(map[uuid.UUID][]int, len(in.OptionOrders))
		for k, v := range in.OptionOrders {
			out.OptionOrders[k] = append([]int(nil), v...)
		}
	}
	out.SecurityFlags = append([]model.SecurityFlag(nil), in.SecurityFlags...)
	if in.AnswerSnapshot != nil {
		snap := *in.AnswerSnapshot
		snap.Answers = append([]model.Answer(nil), in.AnswerSnapshot.Answers...)
		out.AnswerSnapshot = &snap
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
