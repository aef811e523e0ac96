// Package stripe implements the processor client on the Stripe SDK.
// All SDK types stay inside this package.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	processordomain "github.com/accordbilling/accord/internal/processor/domain"
	"github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"
)

type Client struct {
	sc  *stripe.Client
	log *zap.Logger
}

func NewClient(apiKey string, log *zap.Logger) *Client {
	return &Client{
		sc:  stripe.NewClient(apiKey),
		log: log.Named("processor.stripe"),
	}
}

// wrapErr converts an SDK rejection into the domain error so callers
// can branch on the code without importing the SDK.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return &processordomain.Error{
			Code:    string(serr.Code),
			Message: serr.Msg,
		}
	}
	return err
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*processordomain.Customer, error) {
	cust, err := c.sc.V1Customers.Retrieve(ctx, id, nil)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			return nil, processordomain.ErrCustomerNotFound
		}
		return nil, wrapErr(err)
	}
	return &processordomain.Customer{
		ID:    cust.ID,
		Email: cust.Email,
		Name:  cust.Name,
	}, nil
}

func (c *Client) CreateCustomer(ctx context.Context, params processordomain.CreateCustomerParams) (*processordomain.Customer, error) {
	createParams := &stripe.CustomerCreateParams{
		Email: stripe.String(params.Email),
		Name:  stripe.String(params.Name),
	}
	for k, v := range params.Metadata {
		createParams.AddMetadata(k, v)
	}

	cust, err := c.sc.V1Customers.Create(ctx, createParams)
	if err != nil {
		return nil, wrapErr(err)
	}
	c.log.Info("created processor customer", zap.String("customer_id", cust.ID))
	return &processordomain.Customer{
		ID:    cust.ID,
		Email: cust.Email,
		Name:  cust.Name,
	}, nil
}

func (c *Client) ListPaymentMethods(ctx context.Context, customerID string) ([]processordomain.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
	}

	var methods []processordomain.PaymentMethod
	for pm, err := range c.sc.V1PaymentMethods.List(ctx, params) {
		if err != nil {
			return nil, wrapErr(err)
		}
		methods = append(methods, processordomain.PaymentMethod{
			ID:   pm.ID,
			Type: string(pm.Type),
		})
	}
	return methods, nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*processordomain.Subscription, error) {
	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, id, nil)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
			return nil, processordomain.ErrSubscriptionNotFound
		}
		return nil, wrapErr(err)
	}
	return mapSubscription(sub), nil
}

func (c *Client) CreateSubscription(ctx context.Context, params processordomain.CreateSubscriptionParams) (*processordomain.Subscription, error) {
	createParams := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(params.CustomerID),
	}
	for _, item := range params.Items {
		itemParams := &stripe.SubscriptionCreateItemParams{
			Price: stripe.String(item.PriceID),
		}
		if item.Quantity != nil {
			itemParams.Quantity = stripe.Int64(*item.Quantity)
		}
		createParams.Items = append(createParams.Items, itemParams)
	}
	if params.TrialEnd != nil {
		createParams.TrialEnd = stripe.Int64(params.TrialEnd.Unix())
	}
	if params.DefaultPaymentMethod != "" {
		createParams.DefaultPaymentMethod = stripe.String(params.DefaultPaymentMethod)
	}
	for k, v := range params.Metadata {
		createParams.AddMetadata(k, v)
	}

	sub, err := c.sc.V1Subscriptions.Create(ctx, createParams)
	if err != nil {
		return nil, wrapErr(err)
	}
	c.log.Info("created processor subscription",
		zap.String("subscription_id", sub.ID),
		zap.Int("items", len(params.Items)),
	)
	return mapSubscription(sub), nil
}

func (c *Client) UpdateSubscriptionItems(ctx context.Context, subscriptionID string, changes []processordomain.ItemChange) (*processordomain.Subscription, error) {
	for _, change := range changes {
		switch change.Op {
		case processordomain.ItemOpAdd:
			params := &stripe.SubscriptionItemCreateParams{
				Subscription: stripe.String(subscriptionID),
				Price:        stripe.String(change.PriceID),
				// Invoice the delta immediately rather than waiting
				// for the next cycle.
				ProrationBehavior: stripe.String("create_prorations"),
			}
			if change.Quantity != nil {
				params.Quantity = stripe.Int64(*change.Quantity)
			}
			if _, err := c.sc.V1SubscriptionItems.Create(ctx, params); err != nil {
				return nil, wrapErr(err)
			}
		case processordomain.ItemOpUpdate:
			params := &stripe.SubscriptionItemUpdateParams{
				ProrationBehavior: stripe.String("create_prorations"),
			}
			if change.Quantity != nil {
				params.Quantity = stripe.Int64(*change.Quantity)
			}
			if _, err := c.sc.V1SubscriptionItems.Update(ctx, change.ItemID, params); err != nil {
				return nil, wrapErr(err)
			}
		case processordomain.ItemOpDelete:
			params := &stripe.SubscriptionItemDeleteParams{
				ProrationBehavior: stripe.String("create_prorations"),
			}
			if _, err := c.sc.V1SubscriptionItems.Delete(ctx, change.ItemID, params); err != nil {
				return nil, wrapErr(err)
			}
		default:
			return nil, fmt.Errorf("unknown item op %q", change.Op)
		}
	}

	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return nil, wrapErr(err)
	}
	return mapSubscription(sub), nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string, atPeriodEnd bool) error {
	if atPeriodEnd {
		_, err := c.sc.V1Subscriptions.Update(ctx, id, &stripe.SubscriptionUpdateParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		})
		return wrapErr(err)
	}
	_, err := c.sc.V1Subscriptions.Cancel(ctx, id, &stripe.SubscriptionCancelParams{
		Prorate: stripe.Bool(true),
	})
	return wrapErr(err)
}

func (c *Client) ReleaseCancellation(ctx context.Context, id string) error {
	_, err := c.sc.V1Subscriptions.Update(ctx, id, &stripe.SubscriptionUpdateParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	return wrapErr(err)
}

func (c *Client) CreateInvoice(ctx context.Context, params processordomain.CreateInvoiceParams) (*processordomain.Invoice, error) {
	createParams := &stripe.InvoiceCreateParams{
		Customer:    stripe.String(params.CustomerID),
		AutoAdvance: stripe.Bool(false),
	}
	if params.SubscriptionID != "" {
		createParams.Subscription = stripe.String(params.SubscriptionID)
	}
	inv, err := c.sc.V1Invoices.Create(ctx, createParams)
	if err != nil {
		return nil, wrapErr(err)
	}

	for _, line := range params.Lines {
		itemParams := &stripe.InvoiceItemCreateParams{
			Customer:    stripe.String(params.CustomerID),
			Invoice:     stripe.String(inv.ID),
			Amount:      stripe.Int64(line.AmountCents),
			Currency:    stripe.String(params.Currency),
			Description: stripe.String(line.Description),
			Period: &stripe.InvoiceItemCreatePeriodParams{
				Start: stripe.Int64(line.PeriodStart.Unix()),
				End:   stripe.Int64(line.PeriodEnd.Unix()),
			},
		}
		if _, err := c.sc.V1InvoiceItems.Create(ctx, itemParams); err != nil {
			return nil, wrapErr(err)
		}
	}

	finalized, err := c.sc.V1Invoices.FinalizeInvoice(ctx, inv.ID, nil)
	if err != nil {
		return nil, wrapErr(err)
	}

	if params.AutoCharge {
		paid, err := c.sc.V1Invoices.Pay(ctx, inv.ID, nil)
		if err != nil {
			return nil, wrapErr(err)
		}
		finalized = paid
	}

	c.log.Info("created processor invoice",
		zap.String("invoice_id", finalized.ID),
		zap.String("status", string(finalized.Status)),
		zap.Int64("total", finalized.Total),
	)
	return &processordomain.Invoice{
		ID:     finalized.ID,
		Status: string(finalized.Status),
		Total:  finalized.Total,
	}, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params processordomain.CreateCheckoutParams) (*processordomain.CheckoutSession, error) {
	mode := stripe.CheckoutSessionModeSubscription
	if params.Mode == processordomain.CheckoutModePayment {
		mode = stripe.CheckoutSessionModePayment
	}
	createParams := &stripe.CheckoutSessionCreateParams{
		Mode:       stripe.String(string(mode)),
		Customer:   stripe.String(params.CustomerID),
		SuccessURL: stripe.String(params.SuccessURL),
	}
	if params.CancelURL != "" {
		createParams.CancelURL = stripe.String(params.CancelURL)
	}
	for _, item := range params.Items {
		lineItem := &stripe.CheckoutSessionCreateLineItemParams{
			Price: stripe.String(item.PriceID),
		}
		if item.Quantity != nil {
			lineItem.Quantity = stripe.Int64(*item.Quantity)
		}
		createParams.LineItems = append(createParams.LineItems, lineItem)
	}
	if len(params.PaymentMethodTypes) > 0 {
		createParams.PaymentMethodTypes = stripe.StringSlice(params.PaymentMethodTypes)
	}
	if params.TrialEnd != nil && mode == stripe.CheckoutSessionModeSubscription {
		createParams.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{
			TrialEnd: stripe.Int64(params.TrialEnd.Unix()),
		}
	}
	for k, v := range params.Metadata {
		createParams.AddMetadata(k, v)
	}

	session, err := c.sc.V1CheckoutSessions.Create(ctx, createParams)
	if err != nil {
		return nil, wrapErr(err)
	}
	c.log.Info("created checkout session", zap.String("session_id", session.ID))
	return &processordomain.CheckoutSession{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}

func mapSubscription(sub *stripe.Subscription) *processordomain.Subscription {
	out := &processordomain.Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			mapped := processordomain.SubscriptionItem{ID: item.ID}
			if item.Price != nil {
				mapped.PriceID = item.Price.ID
				metered := item.Price.Recurring != nil &&
					item.Price.Recurring.UsageType == stripe.PriceRecurringUsageTypeMetered
				if !metered {
					qty := item.Quantity
					mapped.Quantity = &qty
				}
			}
			out.Items = append(out.Items, mapped)

			// The billing period lives on items.
			if out.CurrentPeriodStart.IsZero() && item.CurrentPeriodStart > 0 {
				out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
				out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
			}
		}
	}
	return out
}
