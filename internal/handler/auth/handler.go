package auth

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/credential"
	"github.com/meditrust/records-api/internal/service/directory"
	"github.com/meditrust/records-api/internal/service/token"
	apperrors "github.com/meditrust/records-api/pkg/errors"
	"github.com/meditrust/records-api/pkg/httputil"
)

type Handler struct {
	credentials *credential.Service
	directory   *directory.Service
	tokens      *token.Service
}

func NewHandler(credentials *credential.Service, dir *directory.Service, tokens *token.Service) *Handler {
	return &Handler{
		credentials: credentials,
		directory:   dir,
		tokens:      tokens,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/otp", h.IssueCode)
		auth.POST("/otp/verify", h.VerifyCode)
		auth.POST("/biometric/verify", h.VerifyBiometric)
	}
}

// IssueCode requests a one-time code for an identifier and purpose. The code
// travels out-of-band; the response is a fixed acknowledgement.
func (h *Handler) IssueCode(c *gin.Context) {
	var req model.IssueCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}

	// Unknown identifiers get the exact same response as known ones so the
	// endpoint cannot enumerate registered users. The code and its expiry
	// travel out-of-band only.
	if _, err := h.directory.Resolve(c.Request.Context(), req.Identifier); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithSuccess(c, issueCodeAck())
			return
		}
		httputil.RespondWithError(c, err)
		return
	}

	if _, err := h.credentials.IssueOneTimeCode(c.Request.Context(), req.Identifier, req.Purpose); err != nil {
		if errors.Is(err, credential.ErrRateLimited) {
			httputil.RespondWithError(c, apperrors.TooManyRequests("too many code requests, retry later"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, issueCodeAck())
}

func issueCodeAck() gin.H {
	return gin.H{"message": "if the identifier is registered, a code has been sent"}
}

// VerifyCode checks a presented code and, on success, mints a regular token
// for the resolved identity.
func (h *Handler) VerifyCode(c *gin.Context) {
	var req model.VerifyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}

	if err := h.credentials.VerifyOneTimeCode(c.Request.Context(), req.Identifier, req.Code, req.Purpose); err != nil {
		httputil.RespondWithError(c, verifyError(err))
		return
	}

	identity, err := h.directory.Resolve(c.Request.Context(), req.Identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.Unauthorized("verification failed"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}

	signed, claims, err := h.tokens.MintRegularToken(identity)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, model.TokenResponse{
		Token:     signed,
		ExpiresAt: claims.ExpiresAt.Time,
		Role:      identity.Role,
	})
}

// VerifyBiometric runs a standalone biometric check. It does not mint a
// token; emergency access carries its proof inline.
func (h *Handler) VerifyBiometric(c *gin.Context) {
	var req model.VerifyBiometricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}

	if err := h.credentials.VerifyBiometric(c.Request.Context(), req.IdentityID, req.Modality, req.Proof); err != nil {
		httputil.RespondWithError(c, verifyError(err))
		return
	}

	httputil.RespondWithSuccess(c, gin.H{"verified": true})
}

// verifyError collapses verifier failures into uniform API errors. Attempts
// exhaustion is the one verdict surfaced distinctly.
func verifyError(err error) error {
	switch {
	case errors.Is(err, credential.ErrTooManyAttempts):
		return apperrors.TooManyRequests("verification attempts exhausted, request a new code")
	case errors.Is(err, credential.ErrCodeNotFound),
		errors.Is(err, credential.ErrCodeExpired),
		errors.Is(err, credential.ErrCodeMismatch),
		errors.Is(err, credential.ErrNoBiometricReference),
		errors.Is(err, credential.ErrBiometricMismatch):
		return apperrors.Unauthorized("verification failed")
	default:
		return err
	}
}
