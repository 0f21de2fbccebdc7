package service

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// LiveSessionReader lists the open sessions of an exam.
type LiveSessionReader interface {
	LiveSessions(ctx context.Context, schoolID int, examID uuid.UUID) ([]model.SessionSummary, error)
}

// MonitorService builds the proctor monitor's initial frame.
type MonitorService struct {
	exams ExamReader
	live  LiveSessionReader
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(exams ExamReader, live LiveSessionReader) *MonitorService {
	return &MonitorService{exams: exams, live: live}
}

// MonitorSnapshot is the state of an exam's open sessions at one instant.
type MonitorSnapshot struct {
	ExamID     uuid.UUID              `json:"exam_id"`
	ExamTitle  string                 `json:"exam_title"`
	ExamStatus model.ExamStatus       `json:"exam_status"`
	Sessions   []model.SessionSummary `json:"sessions"`
	InProgress int                    `json:"in_progress"`
	Paused     int                    `json:"paused"`
	TotalFlags int                    `json:"total_flags"`
}

// Snapshot loads the exam and its live sessions concurrently.
func (s *MonitorService) Snapshot(ctx context.Context, schoolID int, examID uuid.UUID) (*MonitorSnapshot, error) {
	var (
		exam     *model.Exam
		sessions []model.SessionSummary
		examErr  error
		liveErr  error
		wg       sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		exam, examErr = s.exams.GetExam(ctx, schoolID, examID)
	}()
	go func() {
		defer wg.Done()
		sessions, liveErr = s.live.LiveSessions(ctx, schoolID, examID)
	}()
	wg.Wait()

	if errors.Is(examErr, repository.ErrNotFound) {
		return nil, newError(CodeNotFound, "exam %s", examID)
	}
	if examErr != nil {
		return nil, &Error{Code: CodeInternal, Err: examErr}
	}
	if liveErr != nil {
		return nil, &Error{Code: CodeInternal, Err: liveErr}
	}

	snap := &MonitorSnapshot{
		ExamID:     exam.ID,
		ExamTitle:  exam.Title,
		ExamStatus: exam.Status,
		Sessions:   sessions,
	}
	if snap.Sessions == nil {
		snap.Sessions = []model.SessionSummary{}
	}
	for _, sess := range sessions {
		switch sess.Status {
		case model.SessionStatusInProgress:
			snap.InProgress++
		case model.SessionStatusPaused:
			snap.Paused++
		}
		snap.TotalFlags += sess.FlagCount
	}
	return snap, nil
}
