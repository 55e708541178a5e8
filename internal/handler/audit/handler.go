package audit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/middleware"
	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/service/audit"
	apperrors "github.com/meditrust/records-api/pkg/errors"
	"github.com/meditrust/records-api/pkg/httputil"
)

// Handler exposes the audit trail to operators.
type Handler struct {
	service *audit.Service
	access  *middleware.AccessMiddleware
}

func NewHandler(service *audit.Service, access *middleware.AccessMiddleware) *Handler {
	return &Handler{service: service, access: access}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	grp := r.Group("/audit", h.access.Authenticate(), middleware.RequireRole(model.RoleOperator))
	{
		grp.GET("/events", h.ListEvents)
		grp.GET("/events/export", h.ExportEvents)
		grp.GET("/stats", h.GetStats)
	}
}

func (h *Handler) ListEvents(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	events, total, err := h.service.Query(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithPagination(c, events, filters.Page, filters.PageSize, total)
}

func (h *Handler) ExportEvents(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	filename := fmt.Sprintf("audit_events_%s.csv", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))

	if err := h.service.Export(c.Request.Context(), filters, c.Writer); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
}

func (h *Handler) GetStats(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest(err.Error()))
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, stats)
}

func parseFilters(c *gin.Context) (*model.AuditFilters, error) {
	filters := &model.AuditFilters{}

	if v := c.Query("target_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid target_id")
		}
		filters.TargetID = &id
	}
	if v := c.Query("actor_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid actor_id")
		}
		filters.ActorID = &id
	}
	if v := c.Query("actor_role"); v != "" {
		filters.ActorRole = model.Role(v)
	}
	if v := c.Query("event_type"); v != "" {
		filters.EventType = model.AuditEventType(v)
	}
	if v := c.Query("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid start, want RFC3339")
		}
		filters.Start = &t
	}
	if v := c.Query("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid end, want RFC3339")
		}
		filters.End = &t
	}
	if v := c.Query("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid page")
		}
		filters.Page = page
	}
	if v := c.Query("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid page_size")
		}
		filters.PageSize = size
	}

	filters.Normalize()
	return filters, nil
}
