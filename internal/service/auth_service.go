package service

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// TokenType distinguishes student vs admin tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeAdmin   TokenType = "admin"
)

// Permission codes checked on proctor routes.
const (
	PermissionExamsProctor = "exams:proctor"
	PermissionExamsGrade   = "exams:grade"
)

// Claims extends JWT standard claims with app-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	TokenType   TokenType `json:"token_type"`
	UserID      int       `json:"user_id"`
	SchoolID    int       `json:"school_id"`
	RoleID      int       `json:"role_id,omitempty"`     // Admin only
	Permissions []string  `json:"permissions,omitempty"` // Admin only
}

// Actor converts student claims into the session engine's caller identity.
func (c *Claims) Actor() Actor {
	return Actor{StudentID: c.UserID, SchoolID: c.SchoolID}
}

// AuthService validates the JWTs issued by the school platform.
type AuthService struct {
	secret []byte
	expiry time.Duration
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{secret: []byte(cfg.JWTSecret), expiry: cfg.JWTExpiry}
}

// IssueStudentToken signs a student token. Production tokens come from the
// platform's login flow; this is used by tooling and tests.
func (s *AuthService) IssueStudentToken(studentID, schoolID int) (string, error) {
	return s.sign(Claims{
		TokenType: TokenTypeStudent,
		UserID:    studentID,
		SchoolID:  schoolID,
	}, studentID)
}

// IssueAdminToken signs an admin token carrying permissions.
func (s *AuthService) IssueAdminToken(adminID, schoolID, roleID int, permissions []string) (string, error) {
	return s.sign(Claims{
		TokenType:   TokenTypeAdmin,
		UserID:      adminID,
		SchoolID:    schoolID,
		RoleID:      roleID,
		Permissions: permissions,
	}, adminID)
}

func (s *AuthService) sign(claims Claims, subject int) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.New().String(),
		Subject:   strconv.Itoa(subject),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.SchoolID <= 0 {
		return nil, errors.New("token has no school")
	}

	return claims, nil
}
