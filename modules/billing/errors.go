package billing

import "errors"

var (
	ErrNotConfigured        = errors.New("payment system is not configured")
	ErrWebhookNotConfigured = errors.New("webhook secret is not configured")

	ErrPriceIDRequired   = errors.New("priceId is required")
	ErrInvalidPriceID    = errors.New("price id must start with 'price_', check the billing dashboard for the correct id")
	ErrPriceNotFound     = errors.New("price id not found at the payment provider, verify it is active and matches the configured mode (test vs live)")
	ErrPriceNotRecurring = errors.New("price is one-time, subscriptions require a recurring price")

	ErrAccountNotFound      = errors.New("billing account not found")
	ErrNoActiveSubscription = errors.New("no active subscription found")
	ErrNothingToSync        = errors.New("no subscription found to sync")

	ErrPlanRequired = errors.New("plan upgrade required for this feature")

	// ErrProviderNotFound marks a stored external id the provider no longer
	// resolves; callers self-heal instead of surfacing it.
	ErrProviderNotFound = errors.New("resource not found at the payment provider")

	// ErrNoUserMetadata marks a subscription object without a usable userId
	// in its metadata; webhook processing logs and skips these.
	ErrNoUserMetadata = errors.New("subscription carries no user id metadata")

	// ErrInvalidPeriodEnd marks a persistence failure attributable to the
	// period-end timestamp; the engine retries once with the field cleared.
	ErrInvalidPeriodEnd = errors.New("subscription period end rejected by store")

	ErrSignatureMissing      = errors.New("missing webhook signature header")
	ErrSignatureVerification = errors.New("webhook signature verification failed")
)
