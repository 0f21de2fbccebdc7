package config

import (
	"fmt"
)

// CacheKeyStruct builds every Redis key and channel name the service uses.
type CacheKeyStruct struct {
	prefix string
}

func NewCacheKeyStruct(prefix string) *CacheKeyStruct {
	return &CacheKeyStruct{prefix: prefix}
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("%sexam:%s:monitor", r.prefix, examID)
}

// AttemptLock is the lock record of one student's attempt at an exam.
func (r *CacheKeyStruct) AttemptLock(studentID int, examID string) string {
	return fmt.Sprintf("%sattempt_lock:%d:%s", r.prefix, studentID, examID)
}

// RateLimit is the fixed-window counter of policy for subject.
func (r *CacheKeyStruct) RateLimit(policy, subject string) string {
	return fmt.Sprintf("%sratelimit:%s:%s", r.prefix, policy, subject)
}

var CacheKey = NewCacheKeyStruct("")
