package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamRepository reads exam definitions. Exams are owned by the academic
// module; this service never writes them.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetExam retrieves an exam and its questions within a school.
func (r *ExamRepository) GetExam(ctx context.Context, schoolID int, examID uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, school_id, title, status, starts_at, ends_at, duration_minutes,
		        max_attempts, shuffle_questions, shuffle_options, allow_late_submit,
		        late_submit_minutes, proctoring_mode
		 FROM exams
		 WHERE id = $1 AND school_id = $2`, examID, schoolID,
	).Scan(&e.ID, &e.SchoolID, &e.Title, &e.Status, &e.StartsAt, &e.EndsAt, &e.DurationMinutes,
		&e.MaxAttempts, &e.ShuffleQuestions, &e.ShuffleOptions, &e.AllowLateSubmit,
		&e.LateSubmitMinutes, &e.ProctoringMode)
	if err != nil {
		return nil, mapErr(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_type, option_count, order_num
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY order_num ASC, id ASC`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Type, &q.OptionCount, &q.OrderNum); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		e.Questions = append(e.Questions, q)
	}
	return e, rows.Err()
}
