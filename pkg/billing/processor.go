package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ProcessorClient defines the outbound surface of the payment processor.
// Card data never passes through this system; the processor's client-side
// SDK tokenizes it and hands us an opaque payment token. Implementations
// must bound every call with a timeout so a slow processor cannot stall a
// request worker.
type ProcessorClient interface {
	// CreatePlan creates the remote plan resource and returns its id.
	CreatePlan(ctx context.Context, key string, spec PlanSpec) (string, error)

	// CreateSubscription asks the processor to authorize a recurring charge
	// against the token. Its success only means "authorization initiated";
	// the final verdict arrives via webhook.
	CreateSubscription(ctx context.Context, remotePlanID, paymentToken string, tenantID uuid.UUID) (*CreateSubscriptionResult, error)

	// ParseWebhook verifies the signature and normalizes the payload.
	// Returns ErrMalformedPayload for anything unverifiable or unparseable.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*ProcessorEvent, error)
}

// CreateSubscriptionResult is the processor's synchronous answer to a
// subscription request.
type CreateSubscriptionResult struct {
	RemoteSubscriptionID string
	InitialStatus        string
}

// EventType is the normalized processor event vocabulary. The reconciler
// maps each type to exactly one lifecycle input; anything else is ignored.
type EventType string

const (
	EventAuthorized       EventType = "subscription_authorized"
	EventRejected         EventType = "subscription_rejected"
	EventPaymentFailed    EventType = "payment_failed"
	EventPaymentRecovered EventType = "payment_recovered"
	EventCanceled         EventType = "subscription_canceled"
)

// inputForEvent maps normalized processor events to lifecycle inputs.
// Unknown event types have no mapping and are ignored by the reconciler.
var inputForEvent = map[EventType]InputKind{
	EventAuthorized:       InputAuthorized,
	EventRejected:         InputRejected,
	EventPaymentFailed:    InputPaymentFailed,
	EventPaymentRecovered: InputPaymentRecovered,
	EventCanceled:         InputProviderCancel,
}

// ProcessorEvent is one verified, normalized webhook notification.
type ProcessorEvent struct {
	ProviderEventID      string
	Type                 EventType
	ProviderEventType    string // original provider event name, kept for logs
	RemoteSubscriptionID string
	TenantID             uuid.UUID // zero when the payload carried no tenant
	Status               string
	SequenceHint         int64 // 0 when the provider supplied no ordering value
	CurrentPeriodEnd     *time.Time
	Raw                  map[string]any
}
