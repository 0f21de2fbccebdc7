// Package ratelimit provides fixed-window request counters keyed by an
// arbitrary string. It throttles abuse; it is not a fairness scheduler, so
// bursts straddling a window boundary are accepted.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// Result is the outcome of a single Check.
type Result struct {
	Allowed   bool          `json:"allowed"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

// Limiter counts requests per key in fixed windows.
// Check never fails: a backend error is treated as "allowed".
type Limiter interface {
	Check(ctx context.Context, key string, max int, window time.Duration) Result
}

// Policy is a named limit applied to a key namespace.
type Policy struct {
	Name   string
	Max    int
	Window time.Duration
}

var (
	// ExamSubmission throttles submit calls per student+exam.
	ExamSubmission = Policy{Name: "submit", Max: 5, Window: time.Minute}
	// AIGrading throttles AI-grading requests per school.
	AIGrading = Policy{Name: "ai_grading", Max: 100, Window: time.Minute}
	// CertificateVerification throttles certificate lookups per client IP.
	CertificateVerification = Policy{Name: "cert_verify", Max: 10, Window: time.Minute}
)

// Key builds the storage key for subject under this policy.
func (p Policy) Key(subject string) string {
	return config.CacheKey.RateLimit(p.Name, subject)
}

// Check applies the policy to subject using l.
func (p Policy) Check(ctx context.Context, l Limiter, subject string) Result {
	return l.Check(ctx, p.Key(subject), p.Max, p.Window)
}

// SubmissionSubject is the subject for ExamSubmission.
func SubmissionSubject(studentID int, examID uuid.UUID) string {
	return fmt.Sprintf("%d:%s", studentID, examID)
}

// SchoolSubject is the subject for AIGrading.
func SchoolSubject(schoolID int) string {
	return fmt.Sprintf("%d", schoolID)
}

func remaining(max int, count int64) int {
	if r := int64(max) - count; r > 0 {
		return int(r)
	}
	return 0
}
