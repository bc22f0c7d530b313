package billing_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/resumeforge/resumeforge/modules/billing"
)

// fakeStore is an in-memory AccountStore. rejectPeriodEnd simulates the
// database range check on current_period_end.
type fakeStore struct {
	mu              sync.Mutex
	accounts        map[uuid.UUID]*billing.Account
	rejectPeriodEnd bool
	updateCalls     int
}

func newFakeStore(accounts ...*billing.Account) *fakeStore {
	s := &fakeStore{accounts: make(map[uuid.UUID]*billing.Account)}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *fakeStore) Account(_ context.Context, userID uuid.UUID) (*billing.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return nil, billing.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) UpdateRecord(_ context.Context, userID uuid.UUID, rec billing.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	a, ok := s.accounts[userID]
	if !ok {
		return billing.ErrAccountNotFound
	}
	if s.rejectPeriodEnd && rec.CurrentPeriodEnd != nil {
		return billing.ErrInvalidPeriodEnd
	}
	a.Record = rec
	return nil
}

func (s *fakeStore) SetStatus(_ context.Context, userID uuid.UUID, status billing.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return billing.ErrAccountNotFound
	}
	a.Status = &status
	return nil
}

func (s *fakeStore) SetCustomerID(_ context.Context, userID uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		return billing.ErrAccountNotFound
	}
	a.CustomerID = customerID
	return nil
}

func (s *fakeStore) record(userID uuid.UUID) billing.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID].Record
}

func (s *fakeStore) customerID(userID uuid.UUID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID].CustomerID
}

// fakeProvider is an in-memory Provider seeded with subscriptions, prices
// and customers.
type fakeProvider struct {
	mu           sync.Mutex
	subs         map[string]*billing.Subscription
	customerSubs map[string][]*billing.Subscription
	prices       map[string]*billing.Price
	customers    map[string]*billing.Customer
	created      []*billing.Customer
	lastCheckout billing.CheckoutParams

	verifyEvent *billing.WebhookEvent
	verifyErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subs:         make(map[string]*billing.Subscription),
		customerSubs: make(map[string][]*billing.Subscription),
		prices:       make(map[string]*billing.Price),
		customers:    make(map[string]*billing.Customer),
	}
}

func (p *fakeProvider) addSubscription(sub *billing.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs[sub.ID] = sub
	if sub.CustomerID != "" {
		p.customerSubs[sub.CustomerID] = append(p.customerSubs[sub.CustomerID], sub)
	}
}

func (p *fakeProvider) VerifyWebhook([]byte, string) (*billing.WebhookEvent, error) {
	return p.verifyEvent, p.verifyErr
}

func (p *fakeProvider) Subscription(_ context.Context, id string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[id]
	if !ok {
		return nil, billing.ErrProviderNotFound
	}
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) SubscriptionsByCustomer(_ context.Context, customerID string) ([]*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.customerSubs[customerID], nil
}

func (p *fakeProvider) Price(_ context.Context, id string) (*billing.Price, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[id]
	if !ok {
		return nil, billing.ErrProviderNotFound
	}
	return price, nil
}

func (p *fakeProvider) Customer(_ context.Context, id string) (*billing.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.customers[id]
	if !ok {
		return nil, billing.ErrProviderNotFound
	}
	return c, nil
}

func (p *fakeProvider) CreateCustomer(_ context.Context, email string, _ string) (*billing.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &billing.Customer{ID: "cus_new_" + email, Email: email}
	p.customers[c.ID] = c
	p.created = append(p.created, c)
	return c, nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, params billing.CheckoutParams) (*billing.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCheckout = params
	return &billing.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.example.com/cs_test_1"}, nil
}

func (p *fakeProvider) ChangeSubscriptionPrice(_ context.Context, subscriptionID, priceID string, metadata map[string]string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[subscriptionID]
	if !ok {
		return nil, billing.ErrProviderNotFound
	}
	sub.PriceID = priceID
	if sub.Metadata == nil {
		sub.Metadata = make(map[string]string)
	}
	for k, v := range metadata {
		sub.Metadata[k] = v
	}
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) CancelSubscription(_ context.Context, subscriptionID string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[subscriptionID]
	if !ok {
		return nil, billing.ErrProviderNotFound
	}
	sub.Status = billing.StatusCanceled
	cp := *sub
	return &cp, nil
}
