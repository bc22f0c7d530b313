package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service ties the payment provider, the account store and the
// reconciliation engine into the operations the HTTP layer exposes.
type Service struct {
	provider Provider
	store    AccountStore
	engine   *Engine
	prices   map[Plan]string
	log      *slog.Logger
}

// NewService wires the billing operations. The prices map carries the
// configured price id per paid plan and is used for plan changes; it may be
// empty when plan changes are not offered.
func NewService(provider Provider, store AccountStore, engine *Engine, prices map[Plan]string, log *slog.Logger) *Service {
	if provider == nil {
		panic("billing: service requires a provider")
	}
	if store == nil {
		panic("billing: service requires an account store")
	}
	if engine == nil {
		panic("billing: service requires an engine")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{provider: provider, store: store, engine: engine, prices: prices, log: log}
}

// Checkout starts a hosted checkout session for the given price. The
// account's customer id is created on first use and recreated when the
// stored id no longer exists upstream.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, priceID string) (*CheckoutSession, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, ErrPriceIDRequired
	}
	if !strings.HasPrefix(priceID, "price_") {
		return nil, ErrInvalidPriceID
	}

	price, err := s.provider.Price(ctx, priceID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, ErrPriceNotFound
		}
		return nil, err
	}
	if !price.Recurring {
		return nil, ErrPriceNotRecurring
	}

	account, err := s.store.Account(ctx, userID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	plan := s.engine.plans.Resolve("", priceID)
	return s.provider.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		Metadata: map[string]string{
			"userId": userID.String(),
			"plan":   string(plan),
		},
	})
}

// ensureCustomer returns a usable provider customer id for the account,
// healing a stale stored id by registering a fresh customer.
func (s *Service) ensureCustomer(ctx context.Context, account *Account) (string, error) {
	if account.CustomerID != "" {
		_, err := s.provider.Customer(ctx, account.CustomerID)
		if err == nil {
			return account.CustomerID, nil
		}
		if !errors.Is(err, ErrProviderNotFound) {
			return "", err
		}
		s.log.WarnContext(ctx, "stored customer no longer exists, recreating",
			slog.String("user_id", account.ID.String()),
			slog.String("customer_id", account.CustomerID))
	}

	customer, err := s.provider.CreateCustomer(ctx, account.Email, account.ID.String())
	if err != nil {
		return "", err
	}
	if err := s.store.SetCustomerID(ctx, account.ID, customer.ID); err != nil {
		return "", err
	}
	return customer.ID, nil
}

// Status reports the account's current plan and subscription state. When a
// subscription id is on file the period end is refreshed from the provider
// for the response; a provider failure falls back to the stored value.
func (s *Service) Status(ctx context.Context, userID uuid.UUID) (*StatusInfo, error) {
	account, err := s.store.Account(ctx, userID)
	if err != nil {
		return nil, err
	}

	info := &StatusInfo{
		Plan:                  account.Plan,
		SubscriptionStatus:    account.Status,
		HasActiveSubscription: account.HasActiveSubscription(),
	}
	if account.CurrentPeriodEnd != nil {
		end := account.CurrentPeriodEnd.UTC()
		info.CurrentPeriodEnd = &end
	}

	if account.SubscriptionID != nil {
		sub, err := s.provider.Subscription(ctx, *account.SubscriptionID)
		if err == nil && sub.CurrentPeriodEnd > 0 {
			end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			info.CurrentPeriodEnd = &end
		} else if err != nil {
			s.log.DebugContext(ctx, "period end refresh skipped",
				slog.String("user_id", userID.String()),
				slog.Any("error", err))
		}
	}
	return info, nil
}

// Sync repairs drift between the provider and the stored record. The stored
// subscription id is tried first; when it is gone or canceled the customer's
// subscription list is searched, preferring the newest entitled subscription
// and falling back to the newest of any status.
func (s *Service) Sync(ctx context.Context, userID uuid.UUID) (*Record, error) {
	account, err := s.store.Account(ctx, userID)
	if err != nil {
		return nil, err
	}

	sub, err := s.findSubscription(ctx, account)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrNothingToSync
	}

	return s.engine.ApplyForUser(ctx, userID, sub)
}

func (s *Service) findSubscription(ctx context.Context, account *Account) (*Subscription, error) {
	if account.SubscriptionID != nil {
		sub, err := s.provider.Subscription(ctx, *account.SubscriptionID)
		switch {
		case err == nil && !terminal(sub.Status):
			return sub, nil
		case err != nil && !errors.Is(err, ErrProviderNotFound):
			return nil, err
		}
		// Gone or terminal upstream. The customer may have a newer
		// subscription, keep looking.
	}

	if account.CustomerID == "" {
		return nil, nil
	}

	subs, err := s.provider.SubscriptionsByCustomer(ctx, account.CustomerID)
	if err != nil {
		return nil, err
	}

	var best, bestEntitled *Subscription
	for _, sub := range subs {
		if owner := sub.UserID(); owner != "" && owner != account.ID.String() {
			continue
		}
		if best == nil || sub.Created > best.Created {
			best = sub
		}
		if sub.Status.Entitled() && (bestEntitled == nil || sub.Created > bestEntitled.Created) {
			bestEntitled = sub
		}
	}
	if bestEntitled != nil {
		return bestEntitled, nil
	}
	return best, nil
}

func terminal(s Status) bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// ChangePlan moves an active subscription to the configured price of another
// paid tier, invoicing the proration immediately.
func (s *Service) ChangePlan(ctx context.Context, userID uuid.UUID, plan Plan) (*Record, error) {
	if !plan.Paid() {
		return nil, ErrPlanRequired
	}

	priceID, ok := s.prices[plan]
	if !ok || priceID == "" {
		return nil, ErrPriceNotFound
	}

	account, err := s.store.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !account.HasActiveSubscription() || account.SubscriptionID == nil {
		return nil, ErrNoActiveSubscription
	}

	sub, err := s.provider.ChangeSubscriptionPrice(ctx, *account.SubscriptionID, priceID, map[string]string{
		"userId": userID.String(),
		"plan":   string(plan),
	})
	if err != nil {
		return nil, err
	}
	return s.engine.ApplyForUser(ctx, userID, sub)
}

// Cancel ends the subscription immediately and reconciles the resulting
// canceled state, which drops the account to the free tier.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) (*Record, error) {
	account, err := s.store.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account.SubscriptionID == nil {
		return nil, ErrNoActiveSubscription
	}

	sub, err := s.provider.CancelSubscription(ctx, *account.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, ErrNoActiveSubscription
		}
		return nil, err
	}
	return s.engine.ApplyForUser(ctx, userID, sub)
}

// VerifyWebhook authenticates a raw webhook request body.
func (s *Service) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return s.provider.VerifyWebhook(payload, signature)
}

// ProcessEvent applies a verified webhook event to the stored state. Events
// that cannot be attributed to an account are logged and dropped, never
// failed, so the provider does not retry what can never succeed.
func (s *Service) ProcessEvent(ctx context.Context, event *WebhookEvent) error {
	switch event.Type {
	case EventCheckoutCompleted, EventPaymentSucceeded:
		if event.SubscriptionID == "" {
			return nil
		}
		sub, err := s.provider.Subscription(ctx, event.SubscriptionID)
		if err != nil {
			return err
		}
		return s.applyEvent(ctx, event, sub)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return s.applyEvent(ctx, event, event.Subscription)

	case EventSubscriptionDeleted:
		if event.Subscription == nil {
			return nil
		}
		_, err := s.engine.ApplyDeleted(ctx, event.Subscription)
		if errors.Is(err, ErrNoUserMetadata) {
			s.log.WarnContext(ctx, "subscription without user metadata ignored",
				slog.String("event_id", event.ID),
				slog.String("subscription_id", event.Subscription.ID))
			return nil
		}
		return err

	case EventPaymentFailed:
		if event.SubscriptionID == "" {
			return nil
		}
		sub, err := s.provider.Subscription(ctx, event.SubscriptionID)
		if err != nil {
			return err
		}
		userID, err := uuid.Parse(sub.UserID())
		if err != nil {
			s.log.WarnContext(ctx, "payment failure for unattributed subscription",
				slog.String("event_id", event.ID),
				slog.String("subscription_id", sub.ID))
			return nil
		}
		return s.engine.MarkPastDue(ctx, userID)

	default:
		return nil
	}
}

func (s *Service) applyEvent(ctx context.Context, event *WebhookEvent, sub *Subscription) error {
	if sub == nil {
		return nil
	}
	_, err := s.engine.Apply(ctx, sub)
	if errors.Is(err, ErrNoUserMetadata) {
		s.log.WarnContext(ctx, "subscription without user metadata ignored",
			slog.String("event_id", event.ID),
			slog.String("subscription_id", sub.ID))
		return nil
	}
	return err
}
