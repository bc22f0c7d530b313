// Package account persists user accounts and their billing state in
// Postgres. It implements the store interface the billing module consumes.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/resumeforge/resumeforge/modules/billing"
	"github.com/resumeforge/resumeforge/pkg/pg"
)

// User is the full stored account row. The billing module only sees the
// projection returned by Account.
type User struct {
	ID               uuid.UUID
	Email            string
	Name             string
	CustomerID       *string
	Plan             billing.Plan
	Status           *billing.Status
	SubscriptionID   *string
	PriceID          *string
	CurrentPeriodEnd *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store is the pgx-backed account repository.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("account: store requires a connection pool")
	}
	return &Store{pool: pool}
}

// User fetches the full account row.
func (s *Store) User(ctx context.Context, userID uuid.UUID) (*User, error) {
	const query = `
		SELECT id, email, name, stripe_customer_id, plan, subscription_status,
		       stripe_subscription_id, stripe_price_id, current_period_end,
		       created_at, updated_at
		FROM users
		WHERE id = $1`

	var u User
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&u.ID, &u.Email, &u.Name, &u.CustomerID, &u.Plan, &u.Status,
		&u.SubscriptionID, &u.PriceID, &u.CurrentPeriodEnd,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, billing.ErrAccountNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts a new account on the free plan.
func (s *Store) Create(ctx context.Context, email, name string) (*User, error) {
	const query = `
		INSERT INTO users (id, email, name)
		VALUES ($1, $2, $3)
		RETURNING id, email, name, stripe_customer_id, plan, subscription_status,
		          stripe_subscription_id, stripe_price_id, current_period_end,
		          created_at, updated_at`

	var u User
	err := s.pool.QueryRow(ctx, query, uuid.New(), email, name).Scan(
		&u.ID, &u.Email, &u.Name, &u.CustomerID, &u.Plan, &u.Status,
		&u.SubscriptionID, &u.PriceID, &u.CurrentPeriodEnd,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &u, nil
}

// Account returns the billing projection of the account.
func (s *Store) Account(ctx context.Context, userID uuid.UUID) (*billing.Account, error) {
	u, err := s.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	account := &billing.Account{
		ID:    u.ID,
		Email: u.Email,
		Record: billing.Record{
			Plan:             u.Plan,
			Status:           u.Status,
			SubscriptionID:   u.SubscriptionID,
			PriceID:          u.PriceID,
			CurrentPeriodEnd: u.CurrentPeriodEnd,
		},
	}
	if u.CustomerID != nil {
		account.CustomerID = *u.CustomerID
	}
	return account, nil
}

// UpdateRecord overwrites the billing columns in one statement, so concurrent
// reconciliations resolve to whichever one committed last. A period end
// rejected by the range check maps to billing.ErrInvalidPeriodEnd.
func (s *Store) UpdateRecord(ctx context.Context, userID uuid.UUID, rec billing.Record) error {
	const query = `
		UPDATE users
		SET plan = $2,
		    subscription_status = $3,
		    stripe_subscription_id = $4,
		    stripe_price_id = $5,
		    current_period_end = $6,
		    updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, userID,
		rec.Plan, rec.Status, rec.SubscriptionID, rec.PriceID, rec.CurrentPeriodEnd)
	if err != nil {
		if pg.IsCheckViolationError(err) {
			return errors.Join(billing.ErrInvalidPeriodEnd, err)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrAccountNotFound
	}
	return nil
}

// SetStatus updates only the subscription status, leaving the plan alone.
func (s *Store) SetStatus(ctx context.Context, userID uuid.UUID, status billing.Status) error {
	const query = `
		UPDATE users
		SET subscription_status = $2, updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrAccountNotFound
	}
	return nil
}

// SetCustomerID stores the provider customer id after creation or healing.
func (s *Store) SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error {
	const query = `
		UPDATE users
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, userID, customerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrAccountNotFound
	}
	return nil
}
