package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CertificateRepository reads issued certificates.
type CertificateRepository struct {
	pool *pgxpool.Pool
}

// NewCertificateRepository creates a new CertificateRepository.
func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepository {
	return &CertificateRepository{pool: pool}
}

// GetByCode looks up a certificate by its normalized verification code.
func (r *CertificateRepository) GetByCode(ctx context.Context, code string) (*model.Certificate, error) {
	c := &model.Certificate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, school_id, student_id, exam_id, verification_code, issued_at, expires_at,
		        student_name, exam_title, exam_date, school_name, grade
		 FROM certificates
		 WHERE verification_code = $1`, code,
	).Scan(&c.ID, &c.SchoolID, &c.StudentID, &c.ExamID, &c.VerificationCode, &c.IssuedAt, &c.ExpiresAt,
		&c.StudentName, &c.ExamTitle, &c.ExamDate, &c.SchoolName, &c.Grade)
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}
