package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AccountStore is the persistence surface the billing module needs from the
// account layer. Implementations must map a rejected period end to
// ErrInvalidPeriodEnd and a missing account to ErrAccountNotFound.
type AccountStore interface {
	Account(ctx context.Context, userID uuid.UUID) (*Account, error)
	UpdateRecord(ctx context.Context, userID uuid.UUID, rec Record) error
	SetStatus(ctx context.Context, userID uuid.UUID, status Status) error
	SetCustomerID(ctx context.Context, userID uuid.UUID, customerID string) error
}

// Engine derives the stored billing record from provider subscription state.
// The derivation is a pure function of the subscription event, so replays and
// out-of-order deliveries converge on whatever event was processed last.
type Engine struct {
	store AccountStore
	plans *PlanResolver
	log   *slog.Logger
}

func NewEngine(store AccountStore, plans *PlanResolver, log *slog.Logger) *Engine {
	if store == nil {
		panic("billing: engine requires an account store")
	}
	if plans == nil {
		panic("billing: engine requires a plan resolver")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{store: store, plans: plans, log: log}
}

// Apply reconciles the account named in the subscription metadata. Returns
// ErrNoUserMetadata when the subscription carries no userId, which happens
// for subscriptions created outside checkout.
func (e *Engine) Apply(ctx context.Context, sub *Subscription) (*Record, error) {
	raw := sub.UserID()
	if raw == "" {
		return nil, ErrNoUserMetadata
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.Join(ErrNoUserMetadata, err)
	}
	return e.ApplyForUser(ctx, userID, sub)
}

// ApplyForUser reconciles a known account against the subscription. Used by
// the sync path where the caller already knows the user.
func (e *Engine) ApplyForUser(ctx context.Context, userID uuid.UUID, sub *Subscription) (*Record, error) {
	rec := e.recordFor(sub)

	err := e.store.UpdateRecord(ctx, userID, rec)
	if err != nil && errors.Is(err, ErrInvalidPeriodEnd) && rec.CurrentPeriodEnd != nil {
		// The provider occasionally ships a period end outside the
		// plausible range. The record is still worth keeping, so drop
		// the field and save the rest.
		e.log.WarnContext(ctx, "rejected period end, retrying without it",
			slog.String("user_id", userID.String()),
			slog.String("subscription_id", sub.ID),
			slog.Time("period_end", *rec.CurrentPeriodEnd))
		rec.CurrentPeriodEnd = nil
		err = e.store.UpdateRecord(ctx, userID, rec)
	}
	if err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "billing record reconciled",
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", sub.ID),
		slog.String("plan", string(rec.Plan)),
		slog.Any("status", rec.Status))
	return &rec, nil
}

// ApplyDeleted handles a terminal deletion: the plan drops to free, the
// status is pinned to canceled and every external id is cleared. Soft states
// like past_due go through Apply instead and keep their ids for recovery.
func (e *Engine) ApplyDeleted(ctx context.Context, sub *Subscription) (*Record, error) {
	raw := sub.UserID()
	if raw == "" {
		return nil, ErrNoUserMetadata
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, errors.Join(ErrNoUserMetadata, err)
	}

	status := StatusCanceled
	rec := Record{Plan: PlanFree, Status: &status}
	if err := e.store.UpdateRecord(ctx, userID, rec); err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "subscription terminally deleted",
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", sub.ID))
	return &rec, nil
}

// MarkPastDue flags the account after a failed payment without touching the
// plan. Access continues until the subscription transitions for real.
func (e *Engine) MarkPastDue(ctx context.Context, userID uuid.UUID) error {
	return e.store.SetStatus(ctx, userID, StatusPastDue)
}

// recordFor derives the stored record from a subscription event.
//
//   - ids always track the event, whatever the status
//   - plan is paid only while the status grants entitlement
//   - a status outside the known set is stored as absent, not guessed
//   - a period end that cannot be a real timestamp is stored as absent
func (e *Engine) recordFor(sub *Subscription) Record {
	rec := Record{Plan: PlanFree}

	if sub.ID != "" {
		rec.SubscriptionID = &sub.ID
	}
	if sub.PriceID != "" {
		rec.PriceID = &sub.PriceID
	}

	if sub.Status.Recognized() {
		status := sub.Status
		rec.Status = &status
	}

	if sub.Status.Entitled() {
		rec.Plan = e.plans.Resolve(sub.Metadata["plan"], sub.PriceID)
	}

	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		rec.CurrentPeriodEnd = &end
	}

	return rec
}
