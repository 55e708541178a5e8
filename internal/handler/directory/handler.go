package directory

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/middleware"
	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/repository"
	"github.com/meditrust/records-api/internal/service/directory"
	apperrors "github.com/meditrust/records-api/pkg/errors"
	"github.com/meditrust/records-api/pkg/httputil"
)

// Handler exposes identity administration. All routes are operator-only.
type Handler struct {
	directory *directory.Service
	access    *middleware.AccessMiddleware
}

func NewHandler(dir *directory.Service, access *middleware.AccessMiddleware) *Handler {
	return &Handler{directory: dir, access: access}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	identities := r.Group("/identities", h.access.Authenticate(), middleware.RequireRole(model.RoleOperator))
	{
		identities.POST("", h.Register)
		identities.GET("/:id", h.Get)
		identities.POST("/:id/retire", h.Retire)
		identities.POST("/:id/biometrics", h.EnrollBiometric)
	}
}

func (h *Handler) Register(c *gin.Context) {
	var req model.RegisterIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}

	identity, err := h.directory.Register(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, identity)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid identity id"))
		return
	}

	identity, err := h.directory.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.NotFound("identity not found"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, identity)
}

// Retire soft-retires a patient. Retired patients stop being valid
// emergency-access targets but their history stays queryable.
func (h *Handler) Retire(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid identity id"))
		return
	}

	if err := h.directory.Retire(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.NotFound("identity not found"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"retired": true})
}

type enrollBiometricRequest struct {
	Modality  model.BiometricModality `json:"modality" binding:"required,oneof=fingerprint iris"`
	Reference string                  `json:"reference" binding:"required"`
}

func (h *Handler) EnrollBiometric(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid identity id"))
		return
	}

	var req enrollBiometricRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request: "+err.Error()))
		return
	}

	ref, err := h.directory.EnrollBiometric(c.Request.Context(), id, req.Modality, req.Reference)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, apperrors.NotFound("identity not found"))
			return
		}
		if errors.Is(err, repository.ErrAlreadyEnrolled) {
			httputil.RespondWithError(c, apperrors.Conflict("biometric reference already enrolled"))
			return
		}
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ref)
}
