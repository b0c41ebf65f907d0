package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/surge/internal/batch"
	"github.com/smallbiznis/surge/internal/orgcontext"
	surgedomain "github.com/smallbiznis/surge/internal/surge/domain"
)

// Both headers are set by the authenticating proxy in front of the service.
const (
	HeaderOrg   = "X-Org-ID"
	HeaderActor = "X-Actor-ID"
)

// OrgContext copies the org and actor headers into the request context.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if raw := strings.TrimSpace(c.GetHeader(HeaderOrg)); raw != "" {
			orgID, err := snowflake.ParseString(raw)
			if err != nil || orgID == 0 {
				AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid organization id"))
				return
			}
			ctx = orgcontext.WithOrgID(ctx, orgID)
		}
		if actorID := strings.TrimSpace(c.GetHeader(HeaderActor)); actorID != "" {
			ctx = orgcontext.WithActorID(ctx, actorID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func RequireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := orgcontext.OrgIDFromContext(c.Request.Context()); !ok {
			AbortWithError(c, surgedomain.ErrOrganizationNeeded)
			return
		}
		c.Next()
	}
}

func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := orgcontext.ActorIDFromContext(c.Request.Context()); !ok {
			AbortWithError(c, batch.ErrActorRequired)
			return
		}
		c.Next()
	}
}
