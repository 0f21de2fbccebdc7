package service

import (
	"testing"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthTokens(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour})

	tok, err := auth.IssueStudentToken(7, 3)
	require.NoError(t, err)
	claims, err := auth.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeStudent, claims.TokenType)
	assert.Equal(t, Actor{StudentID: 7, SchoolID: 3}, claims.Actor())

	tok, err = auth.IssueAdminToken(1, 3, 2, []string{PermissionExamsProctor})
	require.NoError(t, err)
	claims, err = auth.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAdmin, claims.TokenType)
	assert.Equal(t, []string{PermissionExamsProctor}, claims.Permissions)

	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour})
	_, err = other.ValidateToken(tok)
	assert.Error(t, err)

	expired := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: -time.Minute})
	tok, err = expired.IssueStudentToken(7, 3)
	require.NoError(t, err)
	_, err = auth.ValidateToken(tok)
	assert.Error(t, err)

	noSchool, err := auth.IssueStudentToken(7, 0)
	require.NoError(t, err)
	_, err = auth.ValidateToken(noSchool)
	assert.Error(t, err)
}
