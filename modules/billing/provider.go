package billing

import "context"

// Provider abstracts the payment backend. The production implementation
// talks to Stripe; tests substitute an in-memory fake.
type Provider interface {
	// VerifyWebhook checks the request signature and decodes the payload
	// into a normalized event. Returns ErrSignatureMissing or
	// ErrSignatureVerification when the request cannot be trusted.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)

	// Subscription fetches a subscription by id. Returns
	// ErrProviderNotFound when the id no longer exists upstream.
	Subscription(ctx context.Context, id string) (*Subscription, error)

	// SubscriptionsByCustomer lists recent subscriptions for a customer,
	// any status, newest first.
	SubscriptionsByCustomer(ctx context.Context, customerID string) ([]*Subscription, error)

	// Price fetches a price by id. Returns ErrProviderNotFound for
	// unknown ids.
	Price(ctx context.Context, id string) (*Price, error)

	// Customer fetches a customer by id. Returns ErrProviderNotFound
	// for unknown or deleted customers.
	Customer(ctx context.Context, id string) (*Customer, error)

	// CreateCustomer registers a new customer carrying the user id in
	// its metadata.
	CreateCustomer(ctx context.Context, email string, userID string) (*Customer, error)

	// CreateCheckoutSession starts a hosted checkout for a recurring
	// price.
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)

	// ChangeSubscriptionPrice swaps the subscription's single item to the
	// given price, invoicing the proration immediately, and stamps the
	// metadata onto the subscription.
	ChangeSubscriptionPrice(ctx context.Context, subscriptionID, priceID string, metadata map[string]string) (*Subscription, error)

	// CancelSubscription cancels immediately, not at period end.
	CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}
