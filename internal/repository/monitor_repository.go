package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorRepository provides data access for the live proctoring monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// LiveSessions returns a summary of every open session of the exam, used as
// the initial frame of the monitor stream.
func (r *MonitorRepository) LiveSessions(ctx context.Context, schoolID int, examID uuid.UUID) ([]model.SessionSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, attempt_number, status, started_at, last_activity_at,
		        flag_count, focus_lost_count, tab_switch_count, copy_attempts,
		        CASE WHEN jsonb_typeof(answer_snapshot->'answers') = 'array'
		             THEN jsonb_array_length(answer_snapshot->'answers') ELSE 0 END
		 FROM exam_sessions
		 WHERE school_id = $1 AND exam_id = $2 AND `+openStatusFilter+`
		 ORDER BY student_id`,
		schoolID, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SessionSummary
	for rows.Next() {
		var s model.SessionSummary
		if err := rows.Scan(&s.SessionID, &s.StudentID, &s.AttemptNumber, &s.Status, &s.StartedAt,
			&s.LastActivityAt, &s.FlagCount, &s.FocusLostCount, &s.TabSwitchCount, &s.CopyAttempts,
			&s.DraftAnswers); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
