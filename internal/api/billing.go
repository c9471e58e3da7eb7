package api

import (
	"context"
	"net/url"

	"github.com/sangamlink/client-go/internal/model"
)

// Plans lists the purchasable subscription plans.
func (c *Client) Plans(ctx context.Context) ([]model.Plan, error) {
	var out struct {
		Plans []model.Plan `json:"plans"`
	}
	if err := c.get(ctx, "/billing/plans", &out); err != nil {
		return nil, err
	}
	return out.Plans, nil
}

// CreateCheckout asks the backend for a hosted-checkout session for the
// given plan. The client never talks to the payment processor's API; it only
// performs the form POST redirect described by the returned session.
func (c *Client) CreateCheckout(ctx context.Context, planID string) (model.CheckoutSession, error) {
	body := map[string]string{"planId": planID}
	var out model.CheckoutSession
	err := c.post(ctx, "/billing/checkout", body, &out)
	return out, err
}

// VerifyPayment asks the backend for the current status of an order.
func (c *Client) VerifyPayment(ctx context.Context, orderID string) (model.PaymentVerification, error) {
	var out model.PaymentVerification
	err := c.get(ctx, "/billing/verify/"+url.PathEscape(orderID), &out)
	return out, err
}
