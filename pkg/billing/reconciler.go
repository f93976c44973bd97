package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

const (
	defaultConflictRetries  = 3
	defaultConflictInterval = 25 * time.Millisecond
)

// Reconciler ingests processor webhook events and applies them to tenant
// subscriptions through the state machine. Events are deduplicated by
// provider event id, ordered by sequence hint, and persisted under an
// optimistic-concurrency check so concurrent deliveries for the same
// subscription serialize instead of clobbering each other.
type Reconciler struct {
	subs             SubscriptionStore
	ledger           LedgerStore
	processor        ProcessorClient
	log              *slog.Logger
	now              func() time.Time
	conflictRetries  uint64
	conflictInterval time.Duration
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

func WithReconcilerLogger(log *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithConflictRetry overrides the bounded retry budget used on version
// conflicts.
func WithConflictRetry(attempts uint64, interval time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if attempts > 0 {
			r.conflictRetries = attempts
		}
		if interval > 0 {
			r.conflictInterval = interval
		}
	}
}

// NewReconciler creates a webhook reconciler. Panics on nil dependencies to
// fail fast during initialization.
func NewReconciler(subs SubscriptionStore, ledger LedgerStore, processor ProcessorClient, opts ...ReconcilerOption) *Reconciler {
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if ledger == nil {
		panic("billing: LedgerStore is required")
	}
	if processor == nil {
		panic("billing: ProcessorClient is required")
	}
	r := &Reconciler{
		subs:             subs,
		ledger:           ledger,
		processor:        processor,
		log:              slog.Default(),
		now:              time.Now,
		conflictRetries:  defaultConflictRetries,
		conflictInterval: defaultConflictInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle verifies and applies one raw webhook delivery.
//
// Every outcome is a success from the provider's point of view and must be
// answered with 2xx so it stops redelivering. The only error worth a 5xx is
// ErrVersionConflict after the retry budget is spent; the provider's own
// redelivery then covers the rare persistent race. ErrMalformedPayload is a
// boundary rejection and never reaches the state machine.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) (Outcome, error) {
	event, err := r.processor.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return "", err
	}
	return r.Apply(ctx, event)
}

// Apply runs an already-parsed event through dedup, ordering, and the state
// machine. Split from Handle so tests and replay tooling can feed events
// without a signed payload.
func (r *Reconciler) Apply(ctx context.Context, event *ProcessorEvent) (Outcome, error) {
	log := r.log.With(
		slog.String("provider_event_id", event.ProviderEventID),
		slog.String("event_type", string(event.Type)),
	)

	kind, ok := inputForEvent[event.Type]
	if !ok {
		// Deliberately unmodeled event; acknowledge so the provider stops
		// retrying it.
		log.InfoContext(ctx, "ignoring unmodeled webhook event",
			slog.String("provider_event_type", event.ProviderEventType))
		return OutcomeIgnored, nil
	}

	ledgerEntry, err := r.ledger.GetEvent(ctx, event.ProviderEventID)
	switch {
	case err == nil && ledgerEntry.Applied:
		return OutcomeDuplicate, nil
	case err != nil && !errors.Is(err, ErrEventNotFound):
		return "", err
	case err != nil:
		// First sighting: record before applying so redelivery after a
		// crash finds the entry and resumes from here.
		if err := r.ledger.RecordEvent(ctx, &WebhookEventRecord{
			ProviderEventID: event.ProviderEventID,
			TenantID:        event.TenantID,
			EventType:       string(event.Type),
			SequenceHint:    event.SequenceHint,
			ReceivedAt:      r.now().UTC(),
		}); err != nil {
			return "", err
		}
	}

	var outcome Outcome
	backoff := retry.WithMaxRetries(r.conflictRetries, retry.NewConstant(r.conflictInterval))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := r.applyOnce(ctx, event, kind, log)
		if errors.Is(err, ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// applyOnce performs one load-transition-persist attempt. A version
// conflict means a concurrent writer won; the caller reloads and retries.
func (r *Reconciler) applyOnce(ctx context.Context, event *ProcessorEvent, kind InputKind, log *slog.Logger) (Outcome, error) {
	rec, err := r.resolveRecord(ctx, event)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			log.WarnContext(ctx, "webhook event for unknown subscription",
				slog.String("remote_subscription_id", event.RemoteSubscriptionID))
			return OutcomeIgnored, nil
		}
		return "", err
	}

	// Stale events are dropped rather than applied out of turn. Events
	// without a hint bypass the guard.
	if event.SequenceHint > 0 && event.SequenceHint <= rec.LastEventSeq {
		log.InfoContext(ctx, "dropping stale webhook event",
			slog.Int64("sequence_hint", event.SequenceHint),
			slog.Int64("last_applied", rec.LastEventSeq))
		return OutcomeIgnored, nil
	}

	now := r.now().UTC()
	loaded := *rec
	normalized := expireTrialIfDue(loaded, now)

	next, err := Transition(normalized, Input{
		Kind:                 kind,
		RemoteSubscriptionID: event.RemoteSubscriptionID,
		CurrentPeriodEnd:     event.CurrentPeriodEnd,
	}, now)
	if err != nil {
		if IsTransitionRejected(err) {
			// The domain refuses the transition; answering an error here
			// would make the provider retry an event that can never apply.
			log.WarnContext(ctx, "webhook event rejected by lifecycle",
				slog.String("status", string(normalized.Status)),
				slog.Any("error", err))
			return OutcomeRejected, nil
		}
		return "", err
	}

	if event.SequenceHint > next.LastEventSeq {
		next.LastEventSeq = event.SequenceHint
	}

	if err := r.subs.ApplyEvent(ctx, &next, loaded.Version, event.ProviderEventID); err != nil {
		return "", err
	}

	log.InfoContext(ctx, "webhook event applied",
		slog.String("tenant_id", next.TenantID.String()),
		slog.String("from", string(loaded.Status)),
		slog.String("to", string(next.Status)))

	return OutcomeApplied, nil
}

// resolveRecord finds the target subscription, falling back to the tenant
// id for the first authorization where no remote id is stored yet.
func (r *Reconciler) resolveRecord(ctx context.Context, event *ProcessorEvent) (*TenantSubscription, error) {
	if event.RemoteSubscriptionID != "" {
		rec, err := r.subs.GetByRemoteID(ctx, event.RemoteSubscriptionID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrSubscriptionNotFound) {
			return nil, err
		}
	}
	if event.TenantID != uuid.Nil {
		return r.subs.Get(ctx, event.TenantID)
	}
	return nil, ErrSubscriptionNotFound
}
