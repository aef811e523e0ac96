package server

import (
	"time"

	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createCustomerRequest struct {
	ExternalID  string `json:"external_id" binding:"required"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Fingerprint string `json:"fingerprint"`
	EntityID    string `json:"entity_id"`
}

// CreateCustomer
// POST /v1/customers
func (s *Server) CreateCustomer(c *gin.Context) {
	orgID := s.orgIDFromContext(c)
	if orgID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	existing, err := s.customerRepo.FindByExternalID(ctx, s.db, orgID, req.ExternalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if existing != nil {
		respondData(c, existing)
		return
	}

	now := time.Now().UTC()
	customer := &customerdomain.Customer{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		ExternalID:  req.ExternalID,
		Name:        req.Name,
		Email:       req.Email,
		Fingerprint: req.Fingerprint,
		EntityID:    req.EntityID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.customerRepo.Insert(ctx, s.db, customer); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, customer)
}

// GetCustomer
// GET /v1/customers/:customer_id
func (s *Server) GetCustomer(c *gin.Context) {
	orgID := s.orgIDFromContext(c)
	if orgID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	customerID, err := snowflake.ParseString(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customer, err := s.customerRepo.FindByID(c.Request.Context(), s.db, orgID, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if customer == nil {
		AbortWithError(c, customerdomain.ErrCustomerNotFound)
		return
	}
	respondData(c, customer)
}
