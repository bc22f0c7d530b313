package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HTTPHandler exposes the billing operations over JSON. It implements the
// Mountable convention so the composition root can hang it off any prefix.
type HTTPHandler struct {
	service *Service
	webhook *WebhookHandler
	log     *slog.Logger
}

func NewHTTPHandler(service *Service, webhook *WebhookHandler, log *slog.Logger) *HTTPHandler {
	if service == nil {
		panic("billing: http handler requires a service")
	}
	if webhook == nil {
		panic("billing: http handler requires a webhook handler")
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPHandler{service: service, webhook: webhook, log: log}
}

// Handle builds the module router. The webhook route authenticates by
// signature; everything else expects the auth middleware to have placed the
// user id in the request context.
func (h *HTTPHandler) Handle() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhook", h.webhook.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Post("/checkout", h.createCheckoutSession)
		r.Get("/subscription", h.subscriptionStatus)
		r.Put("/subscription", h.changePlan)
		r.Post("/sync", h.syncSubscription)
		r.Post("/cancel", h.cancelSubscription)
	})

	return r
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
}

func (h *HTTPHandler) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.service.Checkout(r.Context(), userID, req.PriceID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *HTTPHandler) subscriptionStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	info, err := h.service.Status(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type changePlanRequest struct {
	Plan Plan `json:"plan"`
}

func (h *HTTPHandler) changePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.service.ChangePlan(r.Context(), userID, req.Plan)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(rec))
}

func (h *HTTPHandler) syncSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rec, err := h.service.Sync(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(rec))
}

func (h *HTTPHandler) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	rec, err := h.service.Cancel(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(rec))
}

// recordResponse renders a reconciled record in the same shape as the status
// endpoint so clients can refresh from any mutation.
func recordResponse(rec *Record) *StatusInfo {
	return &StatusInfo{
		Plan:                  rec.Plan,
		SubscriptionStatus:    rec.Status,
		CurrentPeriodEnd:      rec.CurrentPeriodEnd,
		HasActiveSubscription: rec.HasActiveSubscription(),
	}
}

// respondError maps domain errors to HTTP statuses. Unmapped errors are
// logged with detail and surfaced as an opaque 500.
func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrPriceIDRequired),
		errors.Is(err, ErrInvalidPriceID),
		errors.Is(err, ErrPriceNotFound),
		errors.Is(err, ErrPriceNotRecurring),
		errors.Is(err, ErrPlanRequired),
		errors.Is(err, ErrNothingToSync),
		errors.Is(err, ErrNoActiveSubscription):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAccountNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrWebhookNotConfigured):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.log.ErrorContext(r.Context(), "billing request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
