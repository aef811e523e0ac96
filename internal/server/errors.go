package server

import (
	"errors"
	"net/http"

	attachdomain "github.com/accordbilling/accord/internal/attach/domain"
	catalogdomain "github.com/accordbilling/accord/internal/catalog/domain"
	customerdomain "github.com/accordbilling/accord/internal/customer/domain"
	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	usagedomain "github.com/accordbilling/accord/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	errInvalidRequest = errors.New("invalid_request")
)

// knownErrors maps domain sentinels onto HTTP statuses. The sentinel's
// message doubles as the stable error code.
var knownErrors = []struct {
	err    error
	status int
}{
	{ErrUnauthorized, http.StatusUnauthorized},
	{attachdomain.ErrInvalidOrganization, http.StatusUnauthorized},
	{usagedomain.ErrInvalidOrganization, http.StatusUnauthorized},

	{errInvalidRequest, http.StatusBadRequest},
	{attachdomain.ErrInvalidProductSet, http.StatusBadRequest},
	{catalogdomain.ErrMixedCurrencies, http.StatusBadRequest},

	{attachdomain.ErrCustomerNotFound, http.StatusNotFound},
	{customerdomain.ErrCustomerNotFound, http.StatusNotFound},
	{usagedomain.ErrCustomerNotFound, http.StatusNotFound},
	{usagedomain.ErrFeatureNotFound, http.StatusNotFound},
	{catalogdomain.ErrProductNotFound, http.StatusNotFound},
	{catalogdomain.ErrPriceNotFound, http.StatusNotFound},
	{catalogdomain.ErrFeatureNotFound, http.StatusNotFound},

	{attachdomain.ErrCustomerBusy, http.StatusConflict},

	{usagedomain.ErrFeatureNotEntitled, http.StatusForbidden},
}

// AbortWithError renders a domain error as a stable-coded JSON body.
// Processor rejections surface their public message; anything unmapped
// is an internal invariant violation and never leaks its message.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)

	for _, known := range knownErrors {
		if errors.Is(err, known.err) {
			c.AbortWithStatusJSON(known.status, gin.H{
				"error": gin.H{"code": known.err.Error()},
			})
			return
		}
	}

	var perr *processordomain.Error
	if errors.As(err, &perr) {
		body := gin.H{"code": perr.Code}
		if perr.Message != "" {
			body["message"] = perr.Message
		}
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": body})
		return
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"code": "internal_error"},
	})
}

func invalidRequestError() error { return errInvalidRequest }
