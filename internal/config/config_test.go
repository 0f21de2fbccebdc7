package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"RATE_LIMIT_BACKEND", "LOCK_BACKEND", "OTEL_ENABLED", "OTEL_SAMPLER_RATIO", "ALLOWED_ORIGINS", "TRUSTED_PROXIES"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, BackendRedis, cfg.RateLimitBackend)
	assert.Equal(t, BackendRedis, cfg.LockBackend)
	assert.False(t, cfg.OTelEnabled)
	assert.Equal(t, 1.0, cfg.OTelSamplerRatio)
	assert.Nil(t, cfg.AllowedOrigins)
	assert.Nil(t, cfg.TrustedProxies, "no proxy is trusted unless configured")
	assert.NotEmpty(t, cfg.InstanceID)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_BACKEND", "Memory")
	t.Setenv("LOCK_BACKEND", "bogus")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("OTEL_SAMPLER_RATIO", "0.25")
	t.Setenv("INSTANCE_ID", "proctor-2")
	t.Setenv("ALLOWED_ORIGINS", " https://a.test , ,https://b.test")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.4")

	cfg := Load()
	assert.Equal(t, BackendMemory, cfg.RateLimitBackend)
	assert.Equal(t, BackendRedis, cfg.LockBackend)
	assert.True(t, cfg.OTelEnabled)
	assert.Equal(t, 0.25, cfg.OTelSamplerRatio)
	assert.Equal(t, "proctor-2", cfg.InstanceID)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.4"}, cfg.TrustedProxies)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "exam:abc:monitor", CacheKey.ExamMonitorChannel("abc"))
	assert.Equal(t, "security_flag_queue", WorkerKey.SecurityFlagQueue)
	assert.Equal(t, "ai_grading_queue", WorkerKey.AIGradingQueue)
}

func TestPrefixedKeys(t *testing.T) {
	keys := NewCacheKeyStruct("staging:")
	assert.Equal(t, "staging:exam:abc:monitor", keys.ExamMonitorChannel("abc"))
	assert.Equal(t, "staging:attempt_lock:7:abc", keys.AttemptLock(7, "abc"))
	assert.Equal(t, "staging:ratelimit:submit:7:abc", keys.RateLimit("submit", "7:abc"))
	assert.Equal(t, "attempt_lock:7:abc", CacheKey.AttemptLock(7, "abc"))
}
