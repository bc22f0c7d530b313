package billing

import (
	"time"

	"github.com/google/uuid"
)

// Plan represents the product-facing entitlement tier of a user account.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanProfessional Plan = "professional"
	PlanPremium      Plan = "premium"
)

// planRank defines the upgrade hierarchy: free < professional < premium.
// Unknown plans rank as free so a corrupted value never grants access.
func planRank(p Plan) int {
	switch p {
	case PlanProfessional:
		return 1
	case PlanPremium:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether p grants everything tier does.
func (p Plan) AtLeast(tier Plan) bool {
	return planRank(p) >= planRank(tier)
}

// Paid reports whether p is a recognized paid tier.
func (p Plan) Paid() bool {
	return p == PlanProfessional || p == PlanPremium
}

// Status represents the provider's lifecycle state for a subscription.
type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
)

// Recognized reports whether s is one of the statuses the store accepts.
// Anything else is persisted as null rather than polluting the enum.
func (s Status) Recognized() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled,
		StatusIncomplete, StatusIncompleteExpired:
		return true
	}
	return false
}

// Entitled reports whether s grants access to paid features.
func (s Status) Entitled() bool {
	return s == StatusActive || s == StatusTrialing
}

// Record is the durable billing state of one user account. It is mutated only
// by the reconciliation engine and the terminal-deletion handler; the provider
// customer id lives on Account because it is owned by the checkout path, not
// the engine.
type Record struct {
	Plan             Plan
	Status           *Status
	SubscriptionID   *string
	PriceID          *string
	CurrentPeriodEnd *time.Time
}

// HasActiveSubscription reports whether the record grants paid access.
func (r Record) HasActiveSubscription() bool {
	return r.Status != nil && r.Status.Entitled()
}

// Account is the view of a user account the billing service needs.
type Account struct {
	ID         uuid.UUID
	Email      string
	CustomerID string // provider customer id, empty when none
	Record
}

// Subscription is a normalized view of one provider-reported subscription
// object, produced from a webhook payload or an API response and consumed
// once by the engine.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           Status // raw provider status, may be unrecognized
	PriceID          string
	ItemID           string // provider subscription item id, used for plan changes
	CurrentPeriodEnd int64  // unix seconds; zero or negative means absent
	Created          int64  // unix seconds, used to order customer-scoped search results
	Metadata         map[string]string
}

// UserID returns the account id embedded in the subscription metadata at
// checkout time, or an empty string.
func (s *Subscription) UserID() string {
	return s.Metadata["userId"]
}

// StatusInfo is the response shape shared by the status, sync, plan-change,
// and cancel endpoints.
type StatusInfo struct {
	Plan                  Plan       `json:"plan"`
	SubscriptionStatus    *Status    `json:"subscriptionStatus"`
	CurrentPeriodEnd      *time.Time `json:"currentPeriodEnd"`
	HasActiveSubscription bool       `json:"hasActiveSubscription"`
}

// Price is a normalized view of a provider price object.
type Price struct {
	ID        string
	Recurring bool
}

// Customer is a normalized view of a provider customer object.
type Customer struct {
	ID    string
	Email string
}

// CheckoutSession is a hosted checkout session created at the provider.
type CheckoutSession struct {
	ID  string `json:"sessionId"`
	URL string `json:"url"`
}

// CheckoutParams carries everything the provider needs to create a checkout
// session. Metadata is attached to both the session and the subscription it
// produces so event-side reconciliation never needs a secondary lookup.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// EventType is the normalized billing event type. Provider implementations
// map their own event names onto these.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	EventPaymentSucceeded    EventType = "payment_succeeded"
	EventPaymentFailed       EventType = "payment_failed"
	EventIgnored             EventType = "ignored"
)

// WebhookEvent is a verified, normalized provider webhook event.
type WebhookEvent struct {
	ID           string
	Type         EventType
	ProviderType string // original provider event name, for logging

	// Subscription is the embedded subscription object for subscription
	// lifecycle events; nil for events that only reference one by id.
	Subscription *Subscription

	// SubscriptionID is the referenced subscription id for checkout and
	// invoice events; empty when the event carries none.
	SubscriptionID string
}
