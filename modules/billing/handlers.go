package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	core "github.com/zumahq/billing/pkg/billing"
)

// TenantHeader carries the tenant id resolved by the authenticated edge.
const TenantHeader = "X-Tenant-ID"

// maxWebhookBody bounds webhook payloads; Paddle events are a few KB.
const maxWebhookBody = 1 << 20

type tenantKey struct{}

// requireTenant rejects requests without a parseable tenant id and stores
// it in the request context.
func requireTenant(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := uuid.Parse(r.Header.Get(TenantHeader))
			if err != nil {
				log.WarnContext(r.Context(), "request rejected: missing or invalid tenant header",
					slog.String("path", r.URL.Path), slog.Any("error", err))
				respondError(w, http.StatusUnauthorized, "missing or invalid tenant")
				return
			}
			ctx := context.WithValue(r.Context(), tenantKey{}, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tenantFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(tenantKey{}).(uuid.UUID)
	return id
}

type handlers struct {
	gateway Gateway
	log     *slog.Logger
}

func (h *handlers) plans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.gateway.ListPlans(r.Context())
	if err != nil {
		h.log.ErrorContext(r.Context(), "plan listing failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to load plans")
		return
	}
	respondJSON(w, http.StatusOK, newPlansResponse(plans))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	view, err := h.gateway.GetStatus(r.Context(), tenantID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "status read failed",
			slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to load subscription status")
		return
	}
	respondJSON(w, http.StatusOK, newStatusResponse(view))
}

type subscribeRequest struct {
	PlanKey      string `json:"plan_key"`
	PaymentToken string `json:"payment_token"`
}

func (h *handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlanKey == "" || req.PaymentToken == "" {
		respondError(w, http.StatusBadRequest, "plan_key and payment_token are required")
		return
	}

	err := h.gateway.Subscribe(r.Context(), tenantID, req.PlanKey, req.PaymentToken)
	switch {
	case err == nil:
		respondOK(w, "subscription is being processed")
	case errors.Is(err, core.ErrPlanNotFound), errors.Is(err, core.ErrPlanInactive),
		errors.Is(err, core.ErrPlanNotProvisioned):
		respondError(w, http.StatusNotFound, "plan not found")
	case errors.Is(err, core.ErrAlreadySubscribed):
		respondError(w, http.StatusConflict, "already subscribed")
	case core.IsTransitionRejected(err):
		// A pending record means authorization is in flight; the client
		// keeps polling rather than retrying the subscribe.
		respondError(w, http.StatusConflict, "subscription is being processed")
	case errors.Is(err, core.ErrProcessorUnavailable):
		h.log.ErrorContext(r.Context(), "processor unavailable during subscribe",
			slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		respondError(w, http.StatusServiceUnavailable, "payment processor unavailable, try again")
	default:
		h.log.ErrorContext(r.Context(), "subscribe failed",
			slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to process subscription")
	}
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFromContext(r.Context())

	err := h.gateway.Cancel(r.Context(), tenantID)
	switch {
	case err == nil:
		respondOK(w, "subscription canceled")
	case errors.Is(err, core.ErrSubscriptionNotFound):
		respondError(w, http.StatusNotFound, "no subscription to cancel")
	case core.IsTransitionRejected(err):
		// Already canceled; treat repeat cancellation as settled.
		respondOK(w, "subscription canceled")
	default:
		h.log.ErrorContext(r.Context(), "cancel failed",
			slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "failed to cancel subscription")
	}
}

type webhookHandler struct {
	reconciler Reconciler
	log        *slog.Logger
}

// receive answers 200 for every decided outcome so the provider stops
// redelivering; only transient infrastructure failures return 5xx and lean
// on the provider's retry mechanism.
func (h *webhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	outcome, err := h.reconciler.Handle(r.Context(), payload, r.Header.Get("Paddle-Signature"))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, struct {
			OK      bool         `json:"ok"`
			Outcome core.Outcome `json:"outcome"`
		}{OK: true, Outcome: outcome})
	case errors.Is(err, core.ErrMalformedPayload):
		respondError(w, http.StatusBadRequest, "invalid payload")
	case errors.Is(err, core.ErrVersionConflict):
		// The bounded internal retry lost every round; ask the provider
		// to redeliver.
		respondError(w, http.StatusServiceUnavailable, "conflict, retry delivery")
	default:
		h.log.ErrorContext(r.Context(), "webhook handling failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
