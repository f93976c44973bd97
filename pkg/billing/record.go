package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TenantSubscription is the durable per-tenant billing state. Exactly one
// row exists per tenant; cancellation is a terminal status, never a row
// removal. Version increments on every accepted mutation and backs the
// optimistic-concurrency checks in the stores.
type TenantSubscription struct {
	TenantID             uuid.UUID
	PlanKey              string
	Status               Status
	TrialEndsAt          *time.Time
	CurrentPeriodEnd     *time.Time
	RemoteSubscriptionID string // immutable once non-empty
	LastEventSeq         int64  // ordering watermark for webhook events
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EffectiveStatus evaluates trial expiry lazily: a trial whose window has
// elapsed reads as inactive even before any write persisted the transition.
// All read paths must go through this so an expired trial is never reported
// as live.
func (s *TenantSubscription) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusTrial && s.TrialEndsAt != nil && now.After(*s.TrialEndsAt) {
		return StatusInactive
	}
	return s.Status
}

func (s *TenantSubscription) IsActive() bool {
	return s.Status == StatusActive
}

func (s *TenantSubscription) IsTrialing() bool {
	return s.Status == StatusTrial
}

func (s *TenantSubscription) IsCanceled() bool {
	return s.Status == StatusCanceled
}

// TrialDaysRemainingAt returns the number of days left in the trial at the
// given time, rounding partial days up. Returns 0 outside an active trial.
func (s *TenantSubscription) TrialDaysRemainingAt(now time.Time) int {
	if s.Status != StatusTrial || s.TrialEndsAt == nil {
		return 0
	}
	remaining := s.TrialEndsAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours()/24 + 0.5)
}

// SubscriptionStore defines tenant-subscription persistence. Updates are
// conditional on the version observed at load time; a lost race returns
// ErrVersionConflict and the caller reloads and retries.
type SubscriptionStore interface {
	// Get returns the record for a tenant.
	// Returns ErrSubscriptionNotFound if no record exists.
	Get(ctx context.Context, tenantID uuid.UUID) (*TenantSubscription, error)

	// GetByRemoteID resolves a record by the processor's subscription id.
	// Returns ErrSubscriptionNotFound if no record carries the id.
	GetByRemoteID(ctx context.Context, remoteSubscriptionID string) (*TenantSubscription, error)

	// Create inserts the one row a tenant gets on its first billing
	// interaction. Returns ErrSubscriptionAlreadyExists on a second insert.
	Create(ctx context.Context, rec *TenantSubscription) error

	// Update persists rec if the stored version still equals
	// expectedVersion, otherwise returns ErrVersionConflict.
	Update(ctx context.Context, rec *TenantSubscription, expectedVersion int64) error

	// ApplyEvent persists rec under the same version check as Update and
	// marks the ledger entry for providerEventID applied in the same
	// transaction, so a crash cannot separate the two.
	ApplyEvent(ctx context.Context, rec *TenantSubscription, expectedVersion int64, providerEventID string) error
}

// WebhookEventRecord is one row of the idempotency ledger. Rows are
// append-only; Applied flips to true at most once.
type WebhookEventRecord struct {
	ProviderEventID string
	TenantID        uuid.UUID
	EventType       string
	SequenceHint    int64 // 0 when the provider supplied no ordering value
	ReceivedAt      time.Time
	Applied         bool
}

// LedgerStore defines the idempotency ledger. ProviderEventID uniqueness is
// enforced by the store.
type LedgerStore interface {
	// GetEvent returns the ledger entry for a provider event id.
	// Returns ErrEventNotFound if the id was never seen.
	GetEvent(ctx context.Context, providerEventID string) (*WebhookEventRecord, error)

	// RecordEvent inserts a ledger entry with Applied=false. Recording an
	// id that already exists is a no-op, keeping the call safe under
	// concurrent redelivery.
	RecordEvent(ctx context.Context, ev *WebhookEventRecord) error
}
