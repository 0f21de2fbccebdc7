// Package attemptlock guards exam submission with a mutual-exclusion flag per
// (student, exam) pair. Locks expire after StaleAfter so a crashed submit
// never wedges a student out of their exam.
package attemptlock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// StaleAfter is the age beyond which a held lock is presumed abandoned.
const StaleAfter = 5 * time.Minute

// Status describes the current lock on a (student, exam) pair.
type Status struct {
	Locked   bool       `json:"locked"`
	LockedAt *time.Time `json:"locked_at,omitempty"`
	LockedBy string     `json:"locked_by,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Manager acquires and releases attempt locks.
//
// TryLock does not allow re-entry: a second call for the same pair fails while
// a fresh lock is held, whoever the caller is. A successful TryLock returns a
// token, and Unlock only releases the lock that token was issued for. A holder
// that outlived StaleAfter therefore cannot release its successor's lock.
type Manager interface {
	TryLock(ctx context.Context, studentID int, examID uuid.UUID, reason string) (token string, ok bool, err error)
	Unlock(ctx context.Context, studentID int, examID uuid.UUID, token string) error
	Status(ctx context.Context, studentID int, examID uuid.UUID) (Status, error)
}

// Key is the storage key for a (student, exam) pair.
func Key(studentID int, examID uuid.UUID) string {
	return config.CacheKey.AttemptLock(studentID, examID.String())
}

func newToken() string {
	return uuid.NewString()
}
