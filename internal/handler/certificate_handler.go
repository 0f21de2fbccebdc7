package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// CertificateHandler serves public certificate verification.
type CertificateHandler struct {
	certificateService *service.CertificateService
}

// NewCertificateHandler creates a new CertificateHandler.
func NewCertificateHandler(certificateService *service.CertificateService) *CertificateHandler {
	return &CertificateHandler{certificateService: certificateService}
}

// Verify godoc
// GET /api/v1/public/certificates/verify?code=XXXX-XXXX-XXXX
// Unknown and expired codes are a normal answer, not an error.
func (h *CertificateHandler) Verify(c *gin.Context) {
	view, err := h.certificateService.Verify(c.Request.Context(), c.Query("code"), c.ClientIP())
	switch {
	case err == nil:
		response.Success(c, http.StatusOK, gin.H{"valid": true, "certificate": view})
	case errors.Is(err, service.ErrInvalidCode), errors.Is(err, service.ErrExpired):
		response.Success(c, http.StatusOK, gin.H{"valid": false, "reason": service.CodeOf(err)})
	default:
		failService(c, err)
	}
}
