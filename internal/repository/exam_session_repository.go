package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const sessionColumns = `id, exam_id, student_id, school_id, attempt_number, status,
	started_at, last_activity_at, last_saved_at, submitted_at,
	question_order, option_orders, ip_address, user_agent, device_fingerprint,
	flag_count, focus_lost_count, tab_switch_count, copy_attempts,
	security_flags, answer_snapshot`

const openStatusFilter = `status IN ('NOT_STARTED', 'IN_PROGRESS', 'PAUSED')`

// ExamSessionRepository persists exam sessions and final answers.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// CountTerminal counts SUBMITTED and EXPIRED attempts of a student.
func (r *ExamSessionRepository) CountTerminal(ctx context.Context, schoolID int, examID uuid.UUID, studentID int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_sessions
		 WHERE school_id = $1 AND exam_id = $2 AND student_id = $3
		   AND status IN ('SUBMITTED', 'EXPIRED')`,
		schoolID, examID, studentID,
	).Scan(&n)
	return n, err
}

// FindOpen returns the student's non-terminal session, or ErrNotFound.
func (r *ExamSessionRepository) FindOpen(ctx context.Context, schoolID int, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE school_id = $1 AND exam_id = $2 AND student_id = $3 AND `+openStatusFilter+`
		 LIMIT 1`,
		schoolID, examID, studentID,
	)
	return scanSession(row)
}

// GetByID returns a session within a school, or ErrNotFound.
func (r *ExamSessionRepository) GetByID(ctx context.Context, schoolID int, sessionID uuid.UUID) (*model.ExamSession, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1 AND school_id = $2`,
		sessionID, schoolID,
	)
	return scanSession(row)
}

// Create inserts a new session. Returns ErrConflict when another open session
// or the same attempt number already exists for the student.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	order, err := json.Marshal(s.QuestionOrder)
	if err != nil {
		return fmt.Errorf("encode question order: %w", err)
	}
	options, err := json.Marshal(s.OptionOrders)
	if err != nil {
		return fmt.Errorf("encode option orders: %w", err)
	}
	flags, err := json.Marshal(nonNilFlags(s.SecurityFlags))
	if err != nil {
		return fmt.Errorf("encode security flags: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO exam_sessions (
			id, exam_id, student_id, school_id, attempt_number, status,
			started_at, last_activity_at, question_order, option_orders,
			ip_address, user_agent, device_fingerprint, security_flags
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11, $12, $13, $14::jsonb)`,
		s.ID, s.ExamID, s.StudentID, s.SchoolID, s.AttemptNumber, s.Status,
		s.StartedAt, s.LastActivityAt, string(order), string(options),
		s.IPAddress, s.UserAgent, s.DeviceFingerprint, string(flags),
	)
	return mapErr(err)
}

// Resume writes the status, activity time and client metadata of an open
// session. Orderings are never touched.
func (r *ExamSessionRepository) Resume(ctx context.Context, s *model.ExamSession) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $3, last_activity_at = $4,
		     ip_address = $5, user_agent = $6, device_fingerprint = $7
		 WHERE id = $1 AND school_id = $2 AND `+openStatusFilter,
		s.ID, s.SchoolID, s.Status, s.LastActivityAt,
		s.IPAddress, s.UserAgent, s.DeviceFingerprint,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

// SaveSnapshot replaces the draft answers of an IN_PROGRESS session.
func (r *ExamSessionRepository) SaveSnapshot(ctx context.Context, schoolID int, sessionID uuid.UUID, snap model.AnswerSnapshot) error {
	if snap.Answers == nil {
		snap.Answers = []model.Answer{}
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET answer_snapshot = $3::jsonb, last_saved_at = $4, last_activity_at = $4
		 WHERE id = $1 AND school_id = $2 AND status = 'IN_PROGRESS'`,
		sessionID, schoolID, string(raw), snap.SavedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

// AppendFlag appends to the integrity log and bumps the counters in one
// statement, so concurrent reports never lose an increment.
func (r *ExamSessionRepository) AppendFlag(ctx context.Context, schoolID int, sessionID uuid.UUID, flag model.SecurityFlag) error {
	raw, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode flag: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET security_flags = security_flags || jsonb_build_array($3::jsonb),
		     flag_count = flag_count + 1,
		     focus_lost_count = focus_lost_count + CASE WHEN $4::text = 'FOCUS_LOST' THEN 1 ELSE 0 END,
		     tab_switch_count = tab_switch_count + CASE WHEN $4::text = 'TAB_SWITCH' THEN 1 ELSE 0 END,
		     copy_attempts = copy_attempts + CASE WHEN $4::text = 'COPY_ATTEMPT' THEN 1 ELSE 0 END,
		     last_activity_at = $5
		 WHERE id = $1 AND school_id = $2 AND status = 'IN_PROGRESS'`,
		sessionID, schoolID, string(raw), string(flag.Kind), flag.At,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

// Pause moves an IN_PROGRESS session to PAUSED.
func (r *ExamSessionRepository) Pause(ctx context.Context, schoolID int, sessionID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions SET status = 'PAUSED', last_activity_at = $3
		 WHERE id = $1 AND school_id = $2 AND status = 'IN_PROGRESS'`,
		sessionID, schoolID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

// Expire moves an open session to EXPIRED.
func (r *ExamSessionRepository) Expire(ctx context.Context, schoolID int, sessionID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions SET status = 'EXPIRED', last_activity_at = $3
		 WHERE id = $1 AND school_id = $2 AND `+openStatusFilter,
		sessionID, schoolID, at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

// Submit flips the session to SUBMITTED and upserts the final answers in one
// transaction. The status update runs first and holds the row lock, so a
// concurrent submit either waits and sees ErrStatusChanged or never starts.
func (r *ExamSessionRepository) Submit(ctx context.Context, s *model.ExamSession, answers []model.StudentAnswer, at time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE exam_sessions
			 SET status = 'SUBMITTED', submitted_at = $3, last_activity_at = $3
			 WHERE id = $1 AND school_id = $2 AND status = 'IN_PROGRESS'`,
			s.ID, s.SchoolID, at,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrStatusChanged
		}

		if len(answers) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, a := range answers {
			batch.Queue(
				`INSERT INTO student_answers (
					exam_id, question_id, student_id, school_id, session_id,
					selected_option_ids, answer_text, answered_at
				 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (exam_id, question_id, student_id) DO UPDATE
				 SET session_id = EXCLUDED.session_id,
				     selected_option_ids = EXCLUDED.selected_option_ids,
				     answer_text = EXCLUDED.answer_text,
				     answered_at = EXCLUDED.answered_at`,
				a.ExamID, a.QuestionID, a.StudentID, a.SchoolID, a.SessionID,
				a.SelectedOptionIDs, a.Text, a.AnsweredAt,
			)
		}
		br := tx.SendBatch(ctx, batch)
		for range answers {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upsert answer: %w", err)
			}
		}
		return br.Close()
	})
}

// ListAnswers returns the final answers of a student for an exam.
func (r *ExamSessionRepository) ListAnswers(ctx context.Context, schoolID int, examID uuid.UUID, studentID int) ([]model.StudentAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_id, question_id, student_id, school_id, session_id,
		        selected_option_ids, answer_text, answered_at
		 FROM student_answers
		 WHERE school_id = $1 AND exam_id = $2 AND student_id = $3
		 ORDER BY answered_at, question_id`,
		schoolID, examID, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StudentAnswer
	for rows.Next() {
		var a model.StudentAnswer
		if err := rows.Scan(&a.ExamID, &a.QuestionID, &a.StudentID, &a.SchoolID, &a.SessionID,
			&a.SelectedOptionIDs, &a.Text, &a.AnsweredAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	var (
		s                             model.ExamSession
		order, options, flags, snapJS []byte
	)
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.SchoolID, &s.AttemptNumber, &s.Status,
		&s.StartedAt, &s.LastActivityAt, &s.LastSavedAt, &s.SubmittedAt,
		&order, &options, &s.IPAddress, &s.UserAgent, &s.DeviceFingerprint,
		&s.FlagCount, &s.FocusLostCount, &s.TabSwitchCount, &s.CopyAttempts,
		&flags, &snapJS)
	if err != nil {
		return nil, mapErr(err)
	}

	if err := json.Unmarshal(order, &s.QuestionOrder); err != nil {
		return nil, fmt.Errorf("decode question order: %w", err)
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &s.OptionOrders); err != nil {
			return nil, fmt.Errorf("decode option orders: %w", err)
		}
	}
	if len(flags) > 0 {
		if err := json.Unmarshal(flags, &s.SecurityFlags); err != nil {
			return nil, fmt.Errorf("decode security flags: %w", err)
		}
	}
	if len(snapJS) > 0 {
		s.AnswerSnapshot = &model.AnswerSnapshot{}
		if err := json.Unmarshal(snapJS, s.AnswerSnapshot); err != nil {
			return nil, fmt.Errorf("decode answer snapshot: %w", err)
		}
	}
	return &s, nil
}

func nonNilFlags(f []model.SecurityFlag) []model.SecurityFlag {
	if f == nil {
		return []model.SecurityFlag{}
	}
	return f
}
