package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCertFixture(t *testing.T) (*CertificateService, *memstore.Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := memstore.New()
	limiter := ratelimit.NewMemoryLimiter().WithClock(clock.Now)
	svc := NewCertificateService(store, limiter, zerolog.Nop()).WithClock(clock.Now)
	return svc, store, clock
}

func TestNormalizeAndFormatCode(t *testing.T) {
	assert.Equal(t, "AB12CD34EF56", NormalizeCode("  ab12-cd34-ef56 "))
	assert.Equal(t, "AB12-CD34-EF56", FormatCode("AB12CD34EF56"))
	assert.Equal(t, "ABC", FormatCode("ABC"))
}

func TestGenerateVerificationCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateVerificationCode()
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
		assert.Len(t, NormalizeCode(code), 12)
		seen[code] = true
	}
	assert.Len(t, seen, 50)
}

func TestVerifyCertificate(t *testing.T) {
	svc, store, clock := newCertFixture(t)
	ctx := context.Background()
	issued := clock.Now().Add(-24 * time.Hour)
	examDate := issued

	store.PutCertificate(&model.Certificate{
		ID: uuid.New(), SchoolID: 1, StudentID: 7, ExamID: uuid.New(),
		VerificationCode: "AB12CD34EF56", IssuedAt: issued,
		StudentName: "Ayu Lestari", ExamTitle: "Biology midterm", ExamDate: &examDate,
		SchoolName: "SMA 1", Grade: "A",
	})
	past := clock.Now().Add(-time.Hour)
	store.PutCertificate(&model.Certificate{
		ID: uuid.New(), VerificationCode: "ZZZZYYYYXXXX", IssuedAt: issued, ExpiresAt: &past,
	})

	view, err := svc.Verify(ctx, "ab12-cd34-ef56", "203.0.113.9")
	require.NoError(t, err)
	assert.Equal(t, "Ayu Lestari", view.StudentName)
	assert.Equal(t, "Biology midterm", view.ExamTitle)
	assert.Equal(t, "A", view.Grade)

	_, err = svc.Verify(ctx, "0000-0000-0000", "203.0.113.9")
	assertCode(t, err, CodeInvalidCode)

	_, err = svc.Verify(ctx, "ZZZZ-YYYY-XXXX", "203.0.113.9")
	assertCode(t, err, CodeExpired)

	lookups := store.CertificateLookups()
	_, err = svc.Verify(ctx, "not a code!", "203.0.113.9")
	assertCode(t, err, CodeInvalidCode)
	assert.Equal(t, lookups, store.CertificateLookups(), "malformed codes are not looked up")
}

func TestVerifyBruteForceGuard(t *testing.T) {
	svc, store, clock := newCertFixture(t)
	ctx := context.Background()
	const ip = "198.51.100.4"

	for i := 0; i < 10; i++ {
		_, err := svc.Verify(ctx, fmt.Sprintf("AAAA-AAAA-%04d", i), ip)
		assertCode(t, err, CodeInvalidCode)
	}
	assert.Equal(t, 10, store.CertificateLookups())

	_, err := svc.Verify(ctx, "AAAA-AAAA-9999", ip)
	assertCode(t, err, CodeTooManyAttempts)
	assert.True(t, errors.Is(err, ErrTooManyAttempts))
	assert.Equal(t, 10, store.CertificateLookups(), "throttled attempt performs no lookup")

	_, err = svc.Verify(ctx, "AAAA-AAAA-9999", "198.51.100.5")
	assertCode(t, err, CodeInvalidCode)

	clock.Advance(61 * time.Second)
	_, err = svc.Verify(ctx, "AAAA-AAAA-9999", ip)
	assertCode(t, err, CodeInvalidCode)
}

func TestVerifyStoreFailure(t *testing.T) {
	svc, store, _ := newCertFixture(t)
	store.FailWith("GetByCode", errors.New("timeout"))

	_, err := svc.Verify(context.Background(), "AB12-CD34-EF56", "203.0.113.9")
	assertCode(t, err, CodeInternal)
}
