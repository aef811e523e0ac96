package server

import (
	"strings"

	"github.com/accordbilling/accord/internal/orgcontext"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const orgHeader = "X-Org-ID"

// OrgRequired derives the organization scope from the request and
// threads it through the request context. Every /v1 route requires it.
func (s *Server) OrgRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(orgHeader))
		if raw == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) orgIDFromContext(c *gin.Context) snowflake.ID {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		return 0
	}
	return orgID
}
