package billing

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "billing:webhook:event:"

// EventDeduper suppresses webhook event replays across process restarts and
// replicas. Redis failures degrade to processing the event; the engine's
// derivation is idempotent so a duplicate is wasted work, not corruption.
type EventDeduper struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *slog.Logger
}

func NewEventDeduper(client redis.UniversalClient, ttl time.Duration, log *slog.Logger) *EventDeduper {
	if client == nil {
		panic("billing: deduper requires a redis client")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EventDeduper{client: client, ttl: ttl, log: log}
}

// Seen atomically records the event id and reports whether it was already
// recorded.
func (d *EventDeduper) Seen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return false
	}
	fresh, err := d.client.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		d.log.WarnContext(ctx, "webhook dedup check failed, processing anyway",
			slog.String("event_id", eventID),
			slog.Any("error", err))
		return false
	}
	return !fresh
}
