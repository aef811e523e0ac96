// Package domain defines the narrow payment-processor surface the
// billing pipeline consumes. The pipeline never imports the processor
// SDK directly.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSubscriptionNotFound = errors.New("processor_subscription_not_found")
	ErrCustomerNotFound     = errors.New("processor_customer_not_found")
)

// Error carries a processor rejection with its public message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return "processor: " + e.Message
	}
	return "processor: " + e.Code
}

// IsPaymentMethodConfigError reports whether the rejection is the
// recoverable "no valid payment method configuration" class, which the
// executor retries once with default payment method types.
func IsPaymentMethodConfigError(err error) bool {
	var perr *Error
	if !errors.As(err, &perr) {
		return false
	}
	switch perr.Code {
	case "parameter_invalid_empty", "payment_method_unactivated", "payment_method_types_invalid":
		return true
	}
	return false
}

type Customer struct {
	ID    string
	Email string
	Name  string
}

type CreateCustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type PaymentMethod struct {
	ID   string
	Type string
}

type SubscriptionItem struct {
	ID       string
	PriceID  string
	// Quantity is nil for metered prices, which the processor meters
	// itself and rejects explicit quantities for.
	Quantity *int64
}

type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	Items              []SubscriptionItem
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
}

type CreateSubscriptionParams struct {
	CustomerID           string
	Items                []SubscriptionItem
	TrialEnd             *time.Time
	DefaultPaymentMethod string
	Metadata             map[string]string
}

// ItemOp is the reconciler's verb for one subscription item.
type ItemOp string

const (
	ItemOpAdd    ItemOp = "add"
	ItemOpUpdate ItemOp = "update"
	ItemOpDelete ItemOp = "delete"
)

// ItemChange applies one reconciler operation to a live subscription.
type ItemChange struct {
	Op       ItemOp
	ItemID   string // processor item id, set for update/delete
	PriceID  string
	Quantity *int64 // nil = metered
}

type InvoiceLine struct {
	Description string
	AmountCents int64 // negative for refund direction
	PeriodStart time.Time
	PeriodEnd   time.Time
}

type CreateInvoiceParams struct {
	CustomerID     string
	SubscriptionID string
	Currency       string
	Lines          []InvoiceLine
	// AutoCharge finalizes and pays with the stored payment method.
	AutoCharge bool
}

type Invoice struct {
	ID     string
	Status string
	Total  int64
}

type CheckoutItem struct {
	PriceID  string
	Quantity *int64
}

// CheckoutMode selects between a recurring-subscription checkout and a
// one-time payment checkout.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

type CreateCheckoutParams struct {
	CustomerID string
	// Mode defaults to subscription when empty.
	Mode               CheckoutMode
	Items              []CheckoutItem
	SuccessURL         string
	CancelURL          string
	TrialEnd           *time.Time
	PaymentMethodTypes []string
	Metadata           map[string]string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type Client interface {
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)
	ListPaymentMethods(ctx context.Context, customerID string) ([]PaymentMethod, error)

	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	UpdateSubscriptionItems(ctx context.Context, subscriptionID string, changes []ItemChange) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) error
	// ReleaseCancellation clears a pending cancel-at-period-end.
	ReleaseCancellation(ctx context.Context, id string) error

	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)
	CreateCheckoutSession(ctx context.Context, params CreateCheckoutParams) (*CheckoutSession, error)
}
