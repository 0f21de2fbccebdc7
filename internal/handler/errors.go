package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type errorMapping struct {
	status int
	code   response.ErrCode
}

var serviceErrors = map[service.Code]errorMapping{
	service.CodeUnauthorized:         {http.StatusUnauthorized, response.ErrUnauthorized},
	service.CodeNotFound:             {http.StatusNotFound, response.ErrNotFound},
	service.CodeSessionNotFound:      {http.StatusNotFound, response.ErrSessionNotFound},
	service.CodeNotActive:            {http.StatusConflict, response.ErrNotActive},
	service.CodeSessionNotActive:     {http.StatusConflict, response.ErrSessionNotActive},
	service.CodeAlreadySubmitted:     {http.StatusConflict, response.ErrAlreadySubmitted},
	service.CodeSubmissionInProgress: {http.StatusConflict, response.ErrSubmissionInProgress},
	service.CodeAttemptsExhausted:    {http.StatusForbidden, response.ErrAttemptsExhausted},
	service.CodeTimeLimitExceeded:    {http.StatusGone, response.ErrTimeLimitExceeded},
	service.CodeRateLimited:          {http.StatusTooManyRequests, response.ErrRateLimited},
	service.CodeTooManyAttempts:      {http.StatusTooManyRequests, response.ErrTooManyAttempts},
	service.CodeInvalidCode:          {http.StatusNotFound, response.ErrInvalidCode},
	service.CodeExpired:              {http.StatusGone, response.ErrExpired},
	service.CodeValidation:           {http.StatusBadRequest, response.ErrValidation},
	service.CodeInternal:             {http.StatusInternalServerError, response.ErrInternal},
}

// statusFor maps an engine error to its HTTP status and response code.
func statusFor(err error) (int, response.ErrCode) {
	if m, ok := serviceErrors[service.CodeOf(err)]; ok {
		return m.status, m.code
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failService writes the envelope for an engine error. Validation failures
// carry the cause under "detail" so clients can see which answer was rejected.
func failService(c *gin.Context, err error) {
	status, code := statusFor(err)
	if code == response.ErrValidation {
		detail := err.Error()
		var e *service.Error
		if errors.As(err, &e) && e.Err != nil {
			detail = e.Err.Error()
		}
		response.FailWithFields(c, status, code, map[string]string{"detail": detail})
		return
	}
	response.Fail(c, status, code)
}
