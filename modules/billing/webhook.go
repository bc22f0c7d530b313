package billing

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/resumeforge/resumeforge/pkg/async"
)

const (
	webhookBodyLimit      = 1 << 20
	webhookProcessTimeout = 30 * time.Second
	signatureHeader       = "Stripe-Signature"
)

// WebhookHandler terminates provider webhook deliveries. It always answers
// 200: a rejected signature reports received=false instead of an error
// status, and processing happens after the response so a slow database never
// makes the provider retry a delivery that was accepted.
type WebhookHandler struct {
	service *Service
	deduper *EventDeduper
	log     *slog.Logger
}

// NewWebhookHandler wires the webhook endpoint. The deduper is optional;
// without one every delivery is processed, which the engine tolerates.
func NewWebhookHandler(service *Service, deduper *EventDeduper, log *slog.Logger) *WebhookHandler {
	if service == nil {
		panic("billing: webhook handler requires a service")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebhookHandler{service: service, deduper: deduper, log: log}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"received": false, "error": "failed to read request body"})
		return
	}

	event, err := h.service.VerifyWebhook(payload, r.Header.Get(signatureHeader))
	if err != nil {
		h.log.WarnContext(r.Context(), "webhook rejected",
			slog.Any("error", err))
		writeJSON(w, http.StatusOK, map[string]any{"received": false, "error": err.Error()})
		return
	}

	// Acknowledge before processing. The response must not depend on
	// downstream availability.
	writeJSON(w, http.StatusOK, map[string]any{"received": true})

	ctx := context.WithoutCancel(r.Context())
	async.Async(ctx, event, func(ctx context.Context, event *WebhookEvent) (struct{}, error) {
		h.process(ctx, event)
		return struct{}{}, nil
	})
}

// process runs after the delivery was acknowledged. Failures are logged,
// never surfaced; the sync endpoint exists to repair whatever was missed.
func (h *WebhookHandler) process(ctx context.Context, event *WebhookEvent) {
	ctx, cancel := context.WithTimeout(ctx, webhookProcessTimeout)
	defer cancel()

	if h.deduper != nil && h.deduper.Seen(ctx, event.ID) {
		h.log.InfoContext(ctx, "duplicate webhook event skipped",
			slog.String("event_id", event.ID),
			slog.String("type", event.ProviderType))
		return
	}

	if err := h.service.ProcessEvent(ctx, event); err != nil {
		h.log.ErrorContext(ctx, "webhook event processing failed",
			slog.String("event_id", event.ID),
			slog.String("type", event.ProviderType),
			slog.Any("error", err))
		return
	}

	h.log.InfoContext(ctx, "webhook event processed",
		slog.String("event_id", event.ID),
		slog.String("type", event.ProviderType))
}
