package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resumeforge/resumeforge/modules/billing"
)

func newTestService(provider *fakeProvider, store *fakeStore) *billing.Service {
	engine := billing.NewEngine(store, testResolver(), nil)
	prices := map[billing.Plan]string{
		billing.PlanProfessional: "price_pro",
		billing.PlanPremium:      "price_prem",
	}
	return billing.NewService(provider, store, engine, prices, nil)
}

func TestServiceCheckout(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("rejects missing price id", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(newFakeProvider(), newFakeStore(testAccount(userID)))
		_, err := svc.Checkout(context.Background(), userID, "  ")
		require.ErrorIs(t, err, billing.ErrPriceIDRequired)
	})

	t.Run("rejects id without price prefix", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(newFakeProvider(), newFakeStore(testAccount(userID)))
		_, err := svc.Checkout(context.Background(), userID, "prod_123")
		require.ErrorIs(t, err, billing.ErrInvalidPriceID)
	})

	t.Run("rejects unknown price", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(newFakeProvider(), newFakeStore(testAccount(userID)))
		_, err := svc.Checkout(context.Background(), userID, "price_ghost")
		require.ErrorIs(t, err, billing.ErrPriceNotFound)
	})

	t.Run("rejects one-time price", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.prices["price_once"] = &billing.Price{ID: "price_once", Recurring: false}

		svc := newTestService(provider, newFakeStore(testAccount(userID)))
		_, err := svc.Checkout(context.Background(), userID, "price_once")
		require.ErrorIs(t, err, billing.ErrPriceNotRecurring)
	})

	t.Run("creates customer on first checkout", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.prices["price_pro"] = &billing.Price{ID: "price_pro", Recurring: true}
		store := newFakeStore(testAccount(userID))

		svc := newTestService(provider, store)
		session, err := svc.Checkout(context.Background(), userID, "price_pro")
		require.NoError(t, err)

		assert.NotEmpty(t, session.URL)
		require.Len(t, provider.created, 1)
		assert.Equal(t, provider.created[0].ID, store.customerID(userID))
		assert.Equal(t, userID.String(), provider.lastCheckout.Metadata["userId"])
		assert.Equal(t, "professional", provider.lastCheckout.Metadata["plan"])
	})

	t.Run("reuses existing customer", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.prices["price_pro"] = &billing.Price{ID: "price_pro", Recurring: true}
		provider.customers["cus_live"] = &billing.Customer{ID: "cus_live"}

		account := testAccount(userID)
		account.CustomerID = "cus_live"
		store := newFakeStore(account)

		svc := newTestService(provider, store)
		_, err := svc.Checkout(context.Background(), userID, "price_pro")
		require.NoError(t, err)

		assert.Empty(t, provider.created)
		assert.Equal(t, "cus_live", provider.lastCheckout.CustomerID)
	})

	t.Run("recreates customer when stored id is stale", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.prices["price_pro"] = &billing.Price{ID: "price_pro", Recurring: true}

		account := testAccount(userID)
		account.CustomerID = "cus_deleted_upstream"
		store := newFakeStore(account)

		svc := newTestService(provider, store)
		_, err := svc.Checkout(context.Background(), userID, "price_pro")
		require.NoError(t, err)

		require.Len(t, provider.created, 1)
		assert.Equal(t, provider.created[0].ID, store.customerID(userID))
		assert.NotEqual(t, "cus_deleted_upstream", provider.lastCheckout.CustomerID)
	})
}

func TestServiceStatus(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	subID := "sub_1"
	stored := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)

	newAccount := func() *billing.Account {
		status := billing.StatusActive
		a := testAccount(userID)
		a.Plan = billing.PlanProfessional
		a.Status = &status
		a.SubscriptionID = &subID
		a.CurrentPeriodEnd = &stored
		return a
	}

	t.Run("refreshes period end from the provider", func(t *testing.T) {
		t.Parallel()

		fresh := stored.Add(30 * 24 * time.Hour)
		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: subID, Status: billing.StatusActive, CurrentPeriodEnd: fresh.Unix(),
		})

		info, err := newTestService(provider, newFakeStore(newAccount())).Status(context.Background(), userID)
		require.NoError(t, err)

		assert.Equal(t, billing.PlanProfessional, info.Plan)
		assert.True(t, info.HasActiveSubscription)
		require.NotNil(t, info.CurrentPeriodEnd)
		assert.Equal(t, fresh.Unix(), info.CurrentPeriodEnd.Unix())
	})

	t.Run("provider failure falls back to the stored value", func(t *testing.T) {
		t.Parallel()

		info, err := newTestService(newFakeProvider(), newFakeStore(newAccount())).Status(context.Background(), userID)
		require.NoError(t, err)
		require.NotNil(t, info.CurrentPeriodEnd)
		assert.True(t, stored.Equal(*info.CurrentPeriodEnd))
	})

	t.Run("unknown account", func(t *testing.T) {
		t.Parallel()

		_, err := newTestService(newFakeProvider(), newFakeStore()).Status(context.Background(), userID)
		require.ErrorIs(t, err, billing.ErrAccountNotFound)
	})
}

func TestServiceSync(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	subID := "sub_stored"

	accountWith := func(customerID string, subscriptionID *string) *billing.Account {
		a := testAccount(userID)
		a.CustomerID = customerID
		a.SubscriptionID = subscriptionID
		return a
	}

	t.Run("stored subscription id is used first", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID:       subID,
			Status:   billing.StatusActive,
			PriceID:  "price_prem",
			Metadata: map[string]string{"userId": userID.String()},
		})
		store := newFakeStore(accountWith("", &subID))

		rec, err := newTestService(provider, store).Sync(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, billing.PlanPremium, rec.Plan)
	})

	t.Run("canceled stored subscription falls through to customer search", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: subID, CustomerID: "cus_1", Status: billing.StatusCanceled, Created: 10,
		})
		provider.addSubscription(&billing.Subscription{
			ID: "sub_new", CustomerID: "cus_1", Status: billing.StatusActive,
			PriceID: "price_pro", Created: 20,
			Metadata: map[string]string{"userId": userID.String()},
		})
		store := newFakeStore(accountWith("cus_1", &subID))

		rec, err := newTestService(provider, store).Sync(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "sub_new", *rec.SubscriptionID)
		assert.Equal(t, billing.PlanProfessional, rec.Plan)
	})

	t.Run("prefers newest entitled subscription", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: "sub_old_active", CustomerID: "cus_1", Status: billing.StatusActive,
			PriceID: "price_pro", Created: 10,
		})
		provider.addSubscription(&billing.Subscription{
			ID: "sub_newest_canceled", CustomerID: "cus_1", Status: billing.StatusCanceled, Created: 30,
		})
		provider.addSubscription(&billing.Subscription{
			ID: "sub_new_active", CustomerID: "cus_1", Status: billing.StatusActive,
			PriceID: "price_prem", Created: 20,
		})
		store := newFakeStore(accountWith("cus_1", nil))

		rec, err := newTestService(provider, store).Sync(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "sub_new_active", *rec.SubscriptionID)
	})

	t.Run("falls back to newest of any status", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: "sub_a", CustomerID: "cus_1", Status: billing.StatusCanceled, Created: 10,
		})
		provider.addSubscription(&billing.Subscription{
			ID: "sub_b", CustomerID: "cus_1", Status: billing.StatusPastDue, Created: 20,
		})
		store := newFakeStore(accountWith("cus_1", nil))

		rec, err := newTestService(provider, store).Sync(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "sub_b", *rec.SubscriptionID)
		assert.Equal(t, billing.PlanFree, rec.Plan)
	})

	t.Run("skips subscriptions owned by another user", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: "sub_other", CustomerID: "cus_1", Status: billing.StatusActive, Created: 20,
			Metadata: map[string]string{"userId": uuid.NewString()},
		})
		store := newFakeStore(accountWith("cus_1", nil))

		_, err := newTestService(provider, store).Sync(context.Background(), userID)
		require.ErrorIs(t, err, billing.ErrNothingToSync)
	})

	t.Run("nothing to sync without customer or subscription", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(accountWith("", nil))
		_, err := newTestService(newFakeProvider(), store).Sync(context.Background(), userID)
		require.ErrorIs(t, err, billing.ErrNothingToSync)
	})
}

func TestServiceChangePlan(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	subID := "sub_1"

	activeAccount := func() *billing.Account {
		status := billing.StatusActive
		a := testAccount(userID)
		a.Plan = billing.PlanProfessional
		a.Status = &status
		a.SubscriptionID = &subID
		return a
	}

	t.Run("moves to the configured price of the target tier", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: subID, Status: billing.StatusActive, PriceID: "price_pro",
			Metadata: map[string]string{"userId": userID.String()},
		})
		store := newFakeStore(activeAccount())

		rec, err := newTestService(provider, store).ChangePlan(context.Background(), userID, billing.PlanPremium)
		require.NoError(t, err)

		assert.Equal(t, billing.PlanPremium, rec.Plan)
		assert.Equal(t, "price_prem", *rec.PriceID)
	})

	t.Run("rejects free tier", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(activeAccount())
		_, err := newTestService(newFakeProvider(), store).ChangePlan(context.Background(), userID, billing.PlanFree)
		require.ErrorIs(t, err, billing.ErrPlanRequired)
	})

	t.Run("requires an active subscription", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(testAccount(userID))
		_, err := newTestService(newFakeProvider(), store).ChangePlan(context.Background(), userID, billing.PlanPremium)
		require.ErrorIs(t, err, billing.ErrNoActiveSubscription)
	})
}

func TestServiceCancel(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	subID := "sub_1"

	t.Run("cancels and drops to free", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: subID, Status: billing.StatusActive, PriceID: "price_pro",
			Metadata: map[string]string{"userId": userID.String()},
		})
		status := billing.StatusActive
		a := testAccount(userID)
		a.Plan = billing.PlanProfessional
		a.Status = &status
		a.SubscriptionID = &subID
		store := newFakeStore(a)

		rec, err := newTestService(provider, store).Cancel(context.Background(), userID)
		require.NoError(t, err)

		assert.Equal(t, billing.PlanFree, rec.Plan)
		assert.Equal(t, billing.StatusCanceled, *rec.Status)
	})

	t.Run("nothing to cancel", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(testAccount(userID))
		_, err := newTestService(newFakeProvider(), store).Cancel(context.Background(), userID)
		require.ErrorIs(t, err, billing.ErrNoActiveSubscription)
	})
}

// Full happy path: checkout creates the customer and carries the metadata,
// the completed-checkout event fetches the subscription, and the account ends
// up entitled with the provider's period end on record.
func TestCheckoutToReconciledRecord(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()

	provider := newFakeProvider()
	provider.prices["price_pro"] = &billing.Price{ID: "price_pro", Recurring: true}
	store := newFakeStore(testAccount(userID))
	svc := newTestService(provider, store)

	session, err := svc.Checkout(context.Background(), userID, "price_pro")
	require.NoError(t, err)
	require.NotEmpty(t, session.URL)

	// The provider creates the subscription with the checkout metadata.
	provider.addSubscription(&billing.Subscription{
		ID:               "sub_1",
		CustomerID:       store.customerID(userID),
		Status:           billing.StatusActive,
		PriceID:          "price_pro",
		CurrentPeriodEnd: periodEnd,
		Metadata:         provider.lastCheckout.Metadata,
	})

	err = svc.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID: "evt_1", Type: billing.EventCheckoutCompleted, SubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec := store.record(userID)
	assert.Equal(t, billing.PlanProfessional, rec.Plan)
	require.NotNil(t, rec.Status)
	assert.Equal(t, billing.StatusActive, *rec.Status)
	require.NotNil(t, rec.SubscriptionID)
	assert.Equal(t, "sub_1", *rec.SubscriptionID)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, rec.CurrentPeriodEnd.Unix())
	assert.True(t, rec.HasActiveSubscription())
}

func TestServiceProcessEvent(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	t.Run("checkout completed fetches and applies the subscription", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: "sub_1", Status: billing.StatusActive, PriceID: "price_pro",
			CurrentPeriodEnd: time.Now().Add(24 * time.Hour).Unix(),
			Metadata:         map[string]string{"userId": userID.String()},
		})
		store := newFakeStore(testAccount(userID))

		err := newTestService(provider, store).ProcessEvent(context.Background(), &billing.WebhookEvent{
			ID: "evt_1", Type: billing.EventCheckoutCompleted, SubscriptionID: "sub_1",
		})
		require.NoError(t, err)
		assert.Equal(t, billing.PlanProfessional, store.record(userID).Plan)
	})

	t.Run("subscription updated applies the embedded object", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(testAccount(userID))
		err := newTestService(newFakeProvider(), store).ProcessEvent(context.Background(), &billing.WebhookEvent{
			ID: "evt_1", Type: billing.EventSubscriptionUpdated,
			Subscription: &billing.Subscription{
				ID: "sub_1", Status: billing.StatusActive, PriceID: "price_prem",
				Metadata: map[string]string{"userId": userID.String()},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, billing.PlanPremium, store.record(userID).Plan)
	})

	t.Run("subscription deleted resets to free and clears ids", func(t *testing.T) {
		t.Parallel()

		status := billing.StatusActive
		subID := "sub_1"
		a := testAccount(userID)
		a.Plan = billing.PlanPremium
		a.Status = &status
		a.SubscriptionID = &subID
		store := newFakeStore(a)

		err := newTestService(newFakeProvider(), store).ProcessEvent(context.Background(), &billing.WebhookEvent{
			ID: "evt_1", Type: billing.EventSubscriptionDeleted,
			Subscription: &billing.Subscription{
				ID: subID, Status: billing.StatusCanceled,
				Metadata: map[string]string{"userId": userID.String()},
			},
		})
		require.NoError(t, err)

		rec := store.record(userID)
		assert.Equal(t, billing.PlanFree, rec.Plan)
		require.NotNil(t, rec.Status)
		assert.Equal(t, billing.StatusCanceled, *rec.Status)
		assert.Nil(t, rec.SubscriptionID)
		assert.Nil(t, rec.PriceID)
		assert.Nil(t, rec.CurrentPeriodEnd)
	})

	t.Run("payment failed marks past due without touching the plan", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		provider.addSubscription(&billing.Subscription{
			ID: "sub_1", Status: billing.StatusPastDue,
			Metadata: map[string]string{"userId": userID.String()},
		})
		a := testAccount(userID)
		a.Plan = billing.PlanPremium
		store := newFakeStore(a)

		err := newTestService(provider, store).ProcessEvent(context.Background(), &billing.WebhookEvent{
			ID: "evt_1", Type: billing.EventPaymentFailed, SubscriptionID: "sub_1",
		})
		require.NoError(t, err)

		rec := store.record(userID)
		assert.Equal(t, billing.PlanPremium, rec.Plan)
		assert.Equal(t, billing.StatusPastDue, *rec.Status)
	})

	t.Run("unattributable subscription is dropped, not failed", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(testAccount(userID))
		err := newTestService(newFakeProvider(), store).ProcessEvent(context.Background(), &billing.WebhookEvent{
			ID: "evt_1", Type: billing.EventSubscriptionUpdated,
			Subscription: &billing.Subscription{ID: "sub_1", Status: billing.StatusActive},
		})
		require.NoError(t, err)
		assert.Equal(t, billing.PlanFree, store.record(userID).Plan)
	})

	t.Run("ignored events are a no-op", func(t *testing.T) {
		t.Parallel()

		store := newFakeStore(testAccount(userID))
		err := newTestService(newFakeProvider(), store).ProcessEvent(context.Background(), &billing.WebhookEvent{
			ID: "evt_1", Type: billing.EventIgnored,
		})
		require.NoError(t, err)
	})
}
