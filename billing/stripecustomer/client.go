// Package stripecustomer implements billing.CustomerClient on Stripe.
package stripecustomer

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/nutricoach/mfaauth/billing"
)

// Client talks to the Stripe customers API.
type Client struct {
	api *client.API
}

// New returns a client for secretKey. backends may be nil.
func New(secretKey string, backends *stripe.Backends) (*Client, error) {
	if secretKey == "" {
		return nil, errors.New("stripecustomer: secret key empty")
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Client{api: api}, nil
}

var _ billing.CustomerClient = (*Client)(nil)

func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*billing.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := c.api.Customers.List(params)
	if iter.Next() {
		return toCustomer(iter.Customer()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (c *Client) CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*billing.Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	cust, err := c.api.Customers.New(params)
	if err != nil {
		return nil, err
	}
	return toCustomer(cust), nil
}

func (c *Client) UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) error {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	_, err := c.api.Customers.Update(customerID, params)
	return err
}

func toCustomer(c *stripe.Customer) *billing.Customer {
	return &billing.Customer{ID: c.ID, Email: c.Email, Metadata: c.Metadata}
}
