package attemptlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lockRecord is the JSON value stored under the lock key.
type lockRecord struct {
	LockedAt int64  `json:"locked_at"`
	LockedBy string `json:"locked_by"`
	Reason   string `json:"reason"`
	Token    string `json:"token"`
}

// releaseScript deletes KEYS[1] only while its record still carries the
// token fragment in ARGV[1]. Returns the number of keys deleted.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and string.find(v, ARGV[1], 1, true) then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisManager shares locks across instances. Staleness is enforced by the
// key's TTL.
type RedisManager struct {
	rdb      redis.Cmdable
	instance string
	now      func() time.Time
}

// NewRedisManager creates a manager backed by rdb.
func NewRedisManager(rdb redis.Cmdable, instance string) *RedisManager {
	return &RedisManager{rdb: rdb, instance: instance, now: time.Now}
}

// TryLock acquires the lock with SET NX PX.
func (m *RedisManager) TryLock(ctx context.Context, studentID int, examID uuid.UUID, reason string) (string, bool, error) {
	token := newToken()
	raw, err := json.Marshal(lockRecord{
		LockedAt: m.now().UnixMilli(),
		LockedBy: m.instance,
		Reason:   reason,
		Token:    token,
	})
	if err != nil {
		return "", false, fmt.Errorf("marshal lock: %w", err)
	}

	ok, err := m.rdb.SetNX(ctx, Key(studentID, examID), raw, StaleAfter).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock deletes the lock key if it is still held under token.
func (m *RedisManager) Unlock(ctx context.Context, studentID int, examID uuid.UUID, token string) error {
	fragment := `"token":"` + token + `"`
	if err := releaseScript.Run(ctx, m.rdb, []string{Key(studentID, examID)}, fragment).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Status reads the lock record, if any.
func (m *RedisManager) Status(ctx context.Context, studentID int, examID uuid.UUID) (Status, error) {
	raw, err := m.rdb.Get(ctx, Key(studentID, examID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read lock: %w", err)
	}

	var rec lockRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Status{}, fmt.Errorf("decode lock: %w", err)
	}

	lockedAt := time.UnixMilli(rec.LockedAt)
	return Status{Locked: true, LockedAt: &lockedAt, LockedBy: rec.LockedBy, Reason: rec.Reason}, nil
}
