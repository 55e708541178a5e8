package patient

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/middleware"
	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/record"
	"github.com/meditrust/records-api/internal/service/session"
	apperrors "github.com/meditrust/records-api/pkg/errors"
	"github.com/meditrust/records-api/pkg/httputil"
	"github.com/meditrust/records-api/pkg/logger"
)

type Handler struct {
	records  *record.Service
	sessions *session.Service
	access   *middleware.AccessMiddleware
	logger   *logger.Logger
}

func NewHandler(records *record.Service, sessions *session.Service, access *middleware.AccessMiddleware, log *logger.Logger) *Handler {
	return &Handler{
		records:  records,
		sessions: sessions,
		access:   access,
		logger:   log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	patients := r.Group("/patients", h.access.Authenticate())
	{
		patients.GET("/:id/record", h.access.GuardPatient("id"), h.GetRecord)
		patients.GET("/:id/access-history", h.GetAccessHistory)
	}
}

// GetRecord serves the record summary. The access middleware has already
// decided; by the time this runs the caller is authorized.
func (h *Handler) GetRecord(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid patient id"))
		return
	}

	view, err := h.records.GetSummary(c.Request.Context(), patientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.NotFound("record not found"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}

	// Emergency reads count as encounters on the summary.
	if claims, ok := middleware.ClaimsFrom(c); ok && claims.Kind == model.TokenEmergency {
		if err := h.records.TouchEncounter(c.Request.Context(), patientID); err != nil {
			h.logger.Error(err, "failed to record encounter", "patient_id", patientID.String())
		}
	}

	httputil.RespondWithSuccess(c, view)
}

// GetAccessHistory is the patient transparency view: every emergency session
// ever opened against this record, live or terminal. Patients see their own;
// operators see any.
func (h *Handler) GetAccessHistory(c *gin.Context) {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid patient id"))
		return
	}

	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		httputil.RespondWithError(c, apperrors.Unauthorized("authentication required"))
		return
	}

	self := claims.Kind == model.TokenRegular && claims.Role == model.RolePatient && claims.IdentityID == patientID
	if !self && claims.Role != model.RoleOperator {
		httputil.RespondWithError(c, apperrors.Forbidden("insufficient permissions"))
		return
	}

	history, err := h.sessions.HistoryFor(c.Request.Context(), patientID)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, history)
}
