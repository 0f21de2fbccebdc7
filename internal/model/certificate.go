package model

import (
	"time"

	"github.com/google/uuid"
)

// Certificate is an issued exam certificate. VerificationCode is stored
// without hyphens.
type Certificate struct {
	ID               uuid.UUID  `json:"id"`
	SchoolID         int        `json:"school_id"`
	StudentID        int        `json:"student_id"`
	ExamID           uuid.UUID  `json:"exam_id"`
	VerificationCode string     `json:"verification_code"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`

	StudentName string     `json:"student_name"`
	ExamTitle   string     `json:"exam_title"`
	ExamDate    *time.Time `json:"exam_date,omitempty"`
	SchoolName  string     `json:"school_name"`
	Grade       string     `json:"grade"`
}

// CertificateView is the public projection returned by verification.
type CertificateView struct {
	StudentName string     `json:"student_name"`
	ExamTitle   string     `json:"exam_title"`
	ExamDate    *time.Time `json:"exam_date,omitempty"`
	SchoolName  string     `json:"school_name"`
	Grade       string     `json:"grade"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// View projects c for public display.
func (c *Certificate) View() *CertificateView {
	return &CertificateView{
		StudentName: c.StudentName,
		ExamTitle:   c.ExamTitle,
		ExamDate:    c.ExamDate,
		SchoolName:  c.SchoolName,
		Grade:       c.Grade,
		IssuedAt:    c.IssuedAt,
		ExpiresAt:   c.ExpiresAt,
	}
}
