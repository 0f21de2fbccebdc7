package attemptlock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	lockedAt time.Time
	lockedBy string
	reason   string
	token    string
}

// MemoryManager holds locks in process memory.
type MemoryManager struct {
	mu       sync.Mutex
	locks    map[string]entry
	instance string
	now      func() time.Time
}

// NewMemoryManager creates a manager that records instance as the lock holder.
func NewMemoryManager(instance string) *MemoryManager {
	return &MemoryManager{
		locks:    make(map[string]entry),
		instance: instance,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (m *MemoryManager) WithClock(now func() time.Time) *MemoryManager {
	m.now = now
	return m
}

// TryLock acquires the lock unless a fresh one is already held.
func (m *MemoryManager) TryLock(_ context.Context, studentID int, examID uuid.UUID, reason string) (string, bool, error) {
	key := Key(studentID, examID)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.locks[key]; ok && !m.stale(e, now) {
		return "", false, nil
	}
	token := newToken()
	m.locks[key] = entry{lockedAt: now, lockedBy: m.instance, reason: reason, token: token}
	return token, true, nil
}

// Unlock releases the lock held under token. Releasing a free pair, or one
// now held under another token, is a no-op.
func (m *MemoryManager) Unlock(_ context.Context, studentID int, examID uuid.UUID, token string) error {
	key := Key(studentID, examID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.locks[key]; ok && e.token == token {
		delete(m.locks, key)
	}
	return nil
}

// Status reports the lock, clearing it first if it has gone stale.
func (m *MemoryManager) Status(_ context.Context, studentID int, examID uuid.UUID) (Status, error) {
	key := Key(studentID, examID)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[key]
	if !ok {
		return Status{}, nil
	}
	if m.stale(e, now) {
		delete(m.locks, key)
		return Status{}, nil
	}

	lockedAt := e.lockedAt
	return Status{Locked: true, LockedAt: &lockedAt, LockedBy: e.lockedBy, Reason: e.reason}, nil
}

func (m *MemoryManager) stale(e entry, now time.Time) bool {
	return now.Sub(e.lockedAt) > StaleAfter
}
