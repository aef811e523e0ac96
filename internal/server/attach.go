package server

import (
	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type priceOverrideRequest struct {
	PriceID     string `json:"price_id" binding:"required"`
	AmountCents int64  `json:"amount_cents"`
}

type entitlementOverrideRequest struct {
	EntitlementID string `json:"entitlement_id" binding:"required"`
	Allowance     int64  `json:"allowance"`
}

type attachProductRequest struct {
	ProductID            string                       `json:"product_id" binding:"required"`
	Options              map[string]int64             `json:"options"`
	PriceOverrides       []priceOverrideRequest       `json:"price_overrides"`
	EntitlementOverrides []entitlementOverrideRequest `json:"entitlement_overrides"`
}

type attachRequest struct {
	Products      []attachProductRequest `json:"products" binding:"required,min=1,dive"`
	ForceCheckout bool                   `json:"force_checkout"`
	InvoiceOnly   bool                   `json:"invoice_only"`
	SuccessURL    string                 `json:"success_url"`
	CancelURL     string                 `json:"cancel_url"`
}

func (r attachRequest) toParams(customerID snowflake.ID) (attachdomain.AttachParams, error) {
	params := attachdomain.AttachParams{
		CustomerID: customerID,
		Options: attachdomain.AttachOptions{
			ForceCheckout: r.ForceCheckout,
			InvoiceOnly:   r.InvoiceOnly,
			SuccessURL:    r.SuccessURL,
			CancelURL:     r.CancelURL,
		},
	}
	for _, product := range r.Products {
		productID, err := snowflake.ParseString(product.ProductID)
		if err != nil {
			return attachdomain.AttachParams{}, invalidRequestError()
		}
		pr := attachdomain.ProductRequest{
			ProductID: productID,
			Options:   product.Options,
		}
		for _, override := range product.PriceOverrides {
			priceID, err := snowflake.ParseString(override.PriceID)
			if err != nil {
				return attachdomain.AttachParams{}, invalidRequestError()
			}
			pr.PriceOverrides = append(pr.PriceOverrides, catalogdomain.PriceOverride{
				PriceID:     priceID,
				AmountCents: override.AmountCents,
			})
		}
		for _, override := range product.EntitlementOverrides {
			entID, err := snowflake.ParseString(override.EntitlementID)
			if err != nil {
				return attachdomain.AttachParams{}, invalidRequestError()
			}
			pr.EntitlementOverrides = append(pr.EntitlementOverrides, catalogdomain.EntitlementOverride{
				EntitlementID: entID,
				Allowance:     override.Allowance,
			})
		}
		params.Products = append(params.Products, pr)
	}
	return params, nil
}

// Attach
// POST /v1/customers/:customer_id/attach
func (s *Server) Attach(c *gin.Context) {
	customerID, err := snowflake.ParseString(c.Param("customer_id"))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var req attachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	params, err := req.toParams(customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.attachSvc.Attach(c.Request.Context(), params)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, result)
}

type previewRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	attachRequest
}

// PreviewAttach
// POST /v1/attach/preview
func (s *Server) PreviewAttach(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	customerID, err := snowflake.ParseString(req.CustomerID)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	params, err := req.toParams(customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	preview, err := s.attachSvc.Preview(c.Request.Context(), params)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, preview)
}
