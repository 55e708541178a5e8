package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meditrust/records-api/internal/model"
	"github.com/meditrust/records-api/internal/service/access"
	"github.com/meditrust/records-api/internal/service/token"
)

const (
	ContextClaims   = "claims"
	ContextRawToken = "raw_token"
)

// AccessMiddleware authenticates bearer tokens and guards patient-scoped
// routes through the access decision engine.
type AccessMiddleware struct {
	tokens   *token.Service
	decision *access.Service
}

func NewAccessMiddleware(tokens *token.Service, decision *access.Service) *AccessMiddleware {
	return &AccessMiddleware{tokens: tokens, decision: decision}
}

func extractBearer(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// Authenticate validates the bearer token signature and stores the claims.
// It does not check session liveness; that happens per patient resource.
func (m *AccessMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := extractBearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    http.StatusUnauthorized,
				Message: "missing bearer token",
				TraceID: c.GetString(ContextRequestID),
			})
			return
		}

		claims, err := m.tokens.Validate(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    http.StatusUnauthorized,
				Message: "invalid token",
				TraceID: c.GetString(ContextRequestID),
			})
			return
		}

		c.Set(ContextClaims, claims)
		c.Set(ContextRawToken, raw)
		c.Next()
	}
}

// GuardPatient runs the access decision engine against the patient id in the
// named route parameter. Denials are 403 with the decision reason.
func (m *AccessMiddleware) GuardPatient(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		patientID, err := uuid.Parse(c.Param(param))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
				Code:    http.StatusBadRequest,
				Message: "invalid patient id",
				TraceID: c.GetString(ContextRequestID),
			})
			return
		}

		raw := c.GetString(ContextRawToken)
		decision := m.decision.Authorize(c.Request.Context(), raw, patientID)
		if !decision.Allow {
			status := http.StatusForbidden
			if decision.Reason == access.DenyInvalidToken {
				status = http.StatusUnauthorized
			}
			c.AbortWithStatusJSON(status, ErrorResponse{
				Code:    status,
				Message: string(decision.Reason),
				TraceID: c.GetString(ContextRequestID),
			})
			return
		}

		c.Set(ContextClaims, decision.Claims)
		c.Next()
	}
}

// ClaimsFrom returns the authenticated claims stored by Authenticate.
func ClaimsFrom(c *gin.Context) (*model.TokenClaims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*model.TokenClaims)
	return claims, ok
}

// RequireRole aborts unless the authenticated identity has one of the roles.
func RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Code:    http.StatusUnauthorized,
				Message: "authentication required",
				TraceID: c.GetString(ContextRequestID),
			})
			return
		}
		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
			Code:    http.StatusForbidden,
			Message: "insufficient permissions",
			TraceID: c.GetString(ContextRequestID),
		})
	}
}
