// Package billing exposes the subscription gateway and the processor
// webhook endpoint over HTTP. Authentication and session handling live
// upstream; this module only expects the tenant id the edge resolved.
package billing

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	core "github.com/zumahq/billing/pkg/billing"
)

// Reconciler is the slice of the webhook reconciler this module needs.
type Reconciler interface {
	Handle(ctx context.Context, payload []byte, signature string) (core.Outcome, error)
}

// Gateway is the slice of the subscription service this module needs.
type Gateway interface {
	GetStatus(ctx context.Context, tenantID uuid.UUID) (*core.StatusView, error)
	ListPlans(ctx context.Context) ([]core.Plan, error)
	Subscribe(ctx context.Context, tenantID uuid.UUID, planKey, paymentToken string) error
	Cancel(ctx context.Context, tenantID uuid.UUID) error
}

// Router mounts the tenant-facing billing endpoints:
//
//	GET  /plans      — the subscribable plan catalog
//	GET  /status     — the polled status read
//	POST /subscribe  — submit a payment token for a plan
//	POST /cancel     — explicit user cancellation
//
// All routes require the tenant id header set by the edge.
func Router(gateway Gateway, log *slog.Logger) chi.Router {
	h := &handlers{gateway: gateway, log: log}

	r := chi.NewRouter()
	r.Use(requireTenant(log))
	r.Get("/plans", h.plans)
	r.Get("/status", h.status)
	r.Post("/subscribe", h.subscribe)
	r.Post("/cancel", h.cancel)
	return r
}

// WebhookRouter mounts the processor-facing endpoint:
//
//	POST / — signed webhook deliveries
//
// It is mounted separately so the edge can apply different middleware
// (no tenant header, provider IP allowlists) than on the tenant routes.
func WebhookRouter(reconciler Reconciler, log *slog.Logger) chi.Router {
	h := &webhookHandler{reconciler: reconciler, log: log}

	r := chi.NewRouter()
	r.Post("/", h.receive)
	return r
}
