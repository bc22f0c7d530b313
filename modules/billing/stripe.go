package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// StripeConfig carries the credentials and checkout redirect targets.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	SuccessURL    string `env:"STRIPE_SUCCESS_URL" envDefault:"http://localhost:3000/billing/success"`
	CancelURL     string `env:"STRIPE_CANCEL_URL" envDefault:"http://localhost:3000/billing/cancel"`
}

// StripeProvider implements Provider against the Stripe API. The client is
// injected rather than configured through the package-level stripe.Key so
// tests and multi-key deployments stay possible.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeProvider builds a provider from config. Returns ErrNotConfigured
// when no secret key is present so callers can surface a clean 503 instead
// of confusing upstream auth failures.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	return &StripeProvider{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}, nil
}

// Raw webhook payload shapes. Decoded by hand because the period end moved
// from the subscription to its items between Stripe API versions; these
// structs accept both locations.
type rawSubscription struct {
	ID               string            `json:"id"`
	Customer         rawCustomerRef    `json:"customer"`
	Status           string            `json:"status"`
	Created          int64             `json:"created"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			ID               string `json:"id"`
			CurrentPeriodEnd int64  `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// rawCustomerRef accepts either a bare id or an expanded customer object.
type rawCustomerRef struct {
	ID string
}

func (c *rawCustomerRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	c.ID = obj.ID
	return nil
}

type rawCheckoutSession struct {
	ID           string            `json:"id"`
	Customer     rawCustomerRef    `json:"customer"`
	Subscription string            `json:"subscription"`
	Metadata     map[string]string `json:"metadata"`
}

type rawInvoice struct {
	ID           string         `json:"id"`
	Customer     rawCustomerRef `json:"customer"`
	Subscription string         `json:"subscription"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i *rawInvoice) subscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	return i.Parent.SubscriptionDetails.Subscription
}

func (s *rawSubscription) toSubscription() *Subscription {
	out := &Subscription{
		ID:               s.ID,
		CustomerID:       s.Customer.ID,
		Status:           Status(s.Status),
		CurrentPeriodEnd: s.CurrentPeriodEnd,
		Created:          s.Created,
		Metadata:         s.Metadata,
	}
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.ItemID = item.ID
		out.PriceID = item.Price.ID
		if out.CurrentPeriodEnd == 0 {
			out.CurrentPeriodEnd = item.CurrentPeriodEnd
		}
	}
	return out
}

// VerifyWebhook authenticates the payload and normalizes it into a
// WebhookEvent. API version mismatches are tolerated because the decode
// handles both payload shapes.
func (p *StripeProvider) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if p.webhookSecret == "" {
		return nil, ErrWebhookNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return nil, ErrSignatureMissing
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrSignatureVerification, err)
	}

	out := &WebhookEvent{ID: event.ID, ProviderType: string(event.Type)}

	switch event.Type {
	case "checkout.session.completed":
		var sess rawCheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		out.Type = EventCheckoutCompleted
		out.SubscriptionID = sess.Subscription

	case "customer.subscription.created", "customer.subscription.updated":
		var sub rawSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		if event.Type == "customer.subscription.created" {
			out.Type = EventSubscriptionCreated
		} else {
			out.Type = EventSubscriptionUpdated
		}
		out.Subscription = sub.toSubscription()
		out.SubscriptionID = sub.ID

	case "customer.subscription.deleted":
		var sub rawSubscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		out.Type = EventSubscriptionDeleted
		out.Subscription = sub.toSubscription()
		out.SubscriptionID = sub.ID

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv rawInvoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		if event.Type == "invoice.payment_succeeded" {
			out.Type = EventPaymentSucceeded
		} else {
			out.Type = EventPaymentFailed
		}
		out.SubscriptionID = inv.subscriptionID()

	default:
		out.Type = EventIgnored
	}

	return out, nil
}

func (p *StripeProvider) Subscription(ctx context.Context, id string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) SubscriptionsByCustomer(ctx context.Context, customerID string) ([]*Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	var out []*Subscription
	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		out = append(out, fromStripeSubscription(iter.Subscription()))
	}
	if err := iter.Err(); err != nil {
		return nil, mapStripeError(err)
	}
	return out, nil
}

func (p *StripeProvider) Price(ctx context.Context, id string) (*Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	pr, err := p.api.Prices.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &Price{ID: pr.ID, Recurring: pr.Recurring != nil}, nil
}

func (p *StripeProvider) Customer(ctx context.Context, id string) (*Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cus, err := p.api.Customers.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	if cus.Deleted {
		return nil, ErrProviderNotFound
	}
	return &Customer{ID: cus.ID, Email: cus.Email}, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, email string, userID string) (*Customer, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("userId", userID)
	cus, err := p.api.Customers.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &Customer{ID: cus.ID, Email: cus.Email}, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, cp CheckoutParams) (*CheckoutSession, error) {
	successURL := cp.SuccessURL
	if successURL == "" {
		successURL = p.successURL
	}
	cancelURL := cp.CancelURL
	if cancelURL == "" {
		cancelURL = p.cancelURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:           stripe.String(cp.CustomerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(cp.PriceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: cp.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range cp.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (p *StripeProvider) ChangeSubscriptionPrice(ctx context.Context, subscriptionID, priceID string, metadata map[string]string) (*Subscription, error) {
	current, err := p.Subscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(current.ItemID),
			Price: stripe.String(priceID),
		}},
		ProrationBehavior: stripe.String("always_invoice"),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sub, err := p.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return fromStripeSubscription(sub), nil
}

func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:       sub.ID,
		Status:   Status(sub.Status),
		Created:  sub.Created,
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		out.CurrentPeriodEnd = item.CurrentPeriodEnd
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
	}
	return out
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return errors.Join(ErrProviderNotFound, err)
		}
	}
	return err
}
