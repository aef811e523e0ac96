package server

import (
	usagedomain "github.com/accordbilling/accord/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type trackUsageRequest struct {
	FeatureKey string `json:"feature_key" binding:"required"`
	Delta      int64  `json:"delta" binding:"required"`
}

// TrackUsage
// POST /v1/customers/:customer_id/usage
func (s *Server) TrackUsage(c *gin.Context) {
	customerID, err := snowflake.ParseString(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req trackUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.usageSvc.Track(c.Request.Context(), usagedomain.TrackParams{
		CustomerID: customerID,
		FeatureKey: req.FeatureKey,
		Delta:      req.Delta,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, result)
}
