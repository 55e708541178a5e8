package emergency

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/middleware"
	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/service/emergency"
	"github.com/meditrust/records-api/internal/service/session"
	apperrors "github.com/meditrust/records-api/pkg/errors"
	"github.com/meditrust/records-api/pkg/httputil"
)

type Handler struct {
	flow     *emergency.Service
	sessions *session.Service
	access   *middleware.AccessMiddleware
}

func NewHandler(flow *emergency.Service, sessions *session.Service, access *middleware.AccessMiddleware) *Handler {
	return &Handler{
		flow:     flow,
		sessions: sessions,
		access:   access,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	grp := r.Group("/emergency")
	{
		// The access request authenticates in-band via OTP or biometric
		// proof; it carries no bearer token.
		grp.POST("/access", h.RequestAccess)

		authed := grp.Group("/sessions", h.access.Authenticate())
		{
			authed.GET("", h.ListMine)
			authed.GET("/:id", h.GetSession)
			authed.POST("/:id/revoke", h.RevokeSession)
		}
	}
}

// RequestAccess is the break-glass entry point.
func (h *Handler) RequestAccess(c *gin.Context) {
	var req model.EmergencyAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}

	resp, err := h.flow.RequestAccess(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, flowError(err))
		return
	}

	httputil.RespondWithSuccess(c, resp)
}

// ListMine returns the caller's currently active sessions.
func (h *Handler) ListMine(c *gin.Context) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("authentication required"))
		return
	}

	sessions, err := h.sessions.ActiveFor(c.Request.Context(), claims.IdentityID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, sessions)
}

// GetSession returns one live session the caller participates in. Terminal
// or overdue sessions are denied; the transparency trail stays available
// through the patient access-history endpoint.
func (h *Handler) GetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid session id"))
		return
	}

	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("authentication required"))
		return
	}

	sess, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			httputil.RespondWithError(c, apperrors.NotFound("session not found"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}

	if !h.participant(claims, sess) {
		// Same shape as a miss so session ids cannot be probed.
		httputil.RespondWithError(c, apperrors.NotFound("session not found"))
		return
	}

	// IsLive also runs the lazy-expiry flip for overdue sessions.
	live, err := h.sessions.IsLive(c.Request.Context(), sess.ID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !live {
		httputil.RespondWithError(c, apperrors.Conflict("session not live"))
		return
	}

	httputil.RespondWithSuccess(c, sess)
}

// RevokeSession terminates an active session. The requester, the target
// patient, and hospital operators may revoke.
func (h *Handler) RevokeSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid session id"))
		return
	}

	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("authentication required"))
		return
	}

	sess, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			httputil.RespondWithError(c, apperrors.NotFound("session not found"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}

	if !h.participant(claims, sess) && claims.Role != model.RoleOperator {
		httputil.RespondWithError(c, apperrors.NotFound("session not found"))
		return
	}

	if err := h.sessions.Revoke(c.Request.Context(), id, string(claims.Role)); err != nil {
		if errors.Is(err, session.ErrSessionTerminal) {
			httputil.RespondWithError(c, apperrors.Conflict("session already terminal"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, gin.H{"revoked": true})
}

func (h *Handler) participant(claims *model.TokenClaims, sess *model.EmergencySession) bool {
	return claims.IdentityID == sess.RequesterID || claims.IdentityID == sess.TargetID
}

func flowError(err error) error {
	switch {
	case errors.Is(err, emergency.ErrReasonTooShort),
		errors.Is(err, emergency.ErrInvalidMethod):
		return apperrors.BadRequest(err.Error())
	case errors.Is(err, emergency.ErrPatientNotIdentified):
		return apperrors.NotFound("patient could not be identified")
	case errors.Is(err, emergency.ErrTargetInactive):
		return apperrors.Conflict("patient account is retired")
	case errors.Is(err, emergency.ErrRequesterNotAuthorized),
		errors.Is(err, emergency.ErrAuthenticationFailed):
		return apperrors.Unauthorized("authentication failed")
	default:
		return err
	}
}
