package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/adrijusxx/linehaul/internal/activity/domain"
	"github.com/adrijusxx/linehaul/internal/auditctx"
	"github.com/adrijusxx/linehaul/internal/companyctx"
)

const (
	headerCompanyID = "X-Company-ID"
	headerActorID   = "X-Actor-ID"
	headerRequestID = "X-Request-ID"
)

// CompanyContext resolves the tenant and actor for the request. Every
// /api route requires a company header; the actor header is optional and
// defaults to a system actor.
func (s *Server) CompanyContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerCompanyID))
		if raw == "" {
			AbortWithError(c, newValidationError("company_id", "missing_company", "X-Company-ID header is required"))
			return
		}
		companyID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("company_id", "invalid_company", "invalid company id"))
			return
		}

		ctx := companyctx.WithCompanyID(c.Request.Context(), int64(companyID))

		requestID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = auditctx.WithRequestID(ctx, requestID)
		c.Header(headerRequestID, requestID)

		if actorID := strings.TrimSpace(c.GetHeader(headerActorID)); actorID != "" {
			ctx = auditctx.WithActor(ctx, domain.ActorTypeUser, actorID)
		} else {
			ctx = auditctx.WithActor(ctx, domain.ActorTypeSystem, "api")
		}

		c.Request = c.Request.WithContext(ctx)
		c.Set("company_id", companyID)
		c.Next()
	}
}

func companyIDFrom(c *gin.Context) snowflake.ID {
	v, ok := c.Get("company_id")
	if !ok {
		return 0
	}
	id, _ := v.(snowflake.ID)
	return id
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
