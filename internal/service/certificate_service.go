package service

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/ratelimit"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 12
	codeGroup    = 4
)

// CertificateStore looks certificates up by normalized verification code.
type CertificateStore interface {
	GetByCode(ctx context.Context, code string) (*model.Certificate, error)
}

// CertificateService verifies certificate codes behind a per-IP brute-force
// limit.
type CertificateService struct {
	store   CertificateStore
	limiter ratelimit.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// NewCertificateService creates a new CertificateService.
func NewCertificateService(store CertificateStore, limiter ratelimit.Limiter, log zerolog.Logger) *CertificateService {
	return &CertificateService{
		store:   store,
		limiter: limiter,
		log:     log.With().Str("component", "certificate").Logger(),
		now:     time.Now,
	}
}

// WithClock replaces the wall clock.
func (s *CertificateService) WithClock(now func() time.Time) *CertificateService {
	s.now = now
	return s
}

// NormalizeCode uppercases code and strips hyphens and surrounding space.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}

// FormatCode groups a normalized code with hyphens every four characters.
func FormatCode(code string) string {
	var b strings.Builder
	for i, r := range code {
		if i > 0 && i%codeGroup == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GenerateVerificationCode returns a random 12-character code from A-Z0-9 in
// display form (XXXX-XXXX-XXXX).
func GenerateVerificationCode() (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return FormatCode(string(buf)), nil
}

// Verify checks a certificate code from clientIP. The rate limit is applied
// before the store is consulted.
func (s *CertificateService) Verify(ctx context.Context, code, clientIP string) (*model.CertificateView, error) {
	normalized := NormalizeCode(code)

	if res := ratelimit.CertificateVerification.Check(ctx, s.limiter, clientIP); !res.Allowed {
		s.log.Warn().Str("ip", clientIP).Msg("certificate verification throttled")
		return nil, newError(CodeTooManyAttempts, "retry in %s", res.ResetIn.Round(time.Second))
	}

	if !wellFormedCode(normalized) {
		return nil, newError(CodeInvalidCode, "malformed code")
	}

	cert, err := s.store.GetByCode(ctx, normalized)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(CodeInvalidCode, "no certificate for code")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("certificate lookup failed")
		return nil, &Error{Code: CodeInternal, Err: err}
	}

	if cert.ExpiresAt != nil && cert.ExpiresAt.Before(s.now()) {
		return nil, newError(CodeExpired, "expired at %s", cert.ExpiresAt.Format(time.RFC3339))
	}
	return cert.View(), nil
}

func wellFormedCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(codeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
