package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// StatusView is the read contract a polling client relies on. It reflects
// lazy trial-expiry evaluation and never requires an outbound call.
type StatusView struct {
	Status           Status
	TrialEndsAt      *time.Time
	CurrentPeriodEnd *time.Time
	Plan             *Plan // nil for tenants with no billing history
}

// Resolved reports whether polling can stop: the processor settled the
// subscription one way or the other (or a trial is running).
func (v *StatusView) Resolved() bool {
	return v.Status != StatusPending
}

// expiredAt reapplies lazy trial expiry to a view that may have been built
// while the trial was still live. Returns the receiver unchanged when no
// expiry applies.
func (v *StatusView) expiredAt(now time.Time) *StatusView {
	if v.Status != StatusTrial || v.TrialEndsAt == nil || !now.After(*v.TrialEndsAt) {
		return v
	}
	expired := *v
	expired.Status = StatusInactive
	return &expired
}

// StatusCache is an optional short-TTL cache in front of GetStatus for the
// polling hot path. Writes must invalidate so a settled webhook becomes
// visible within the client's polling window.
type StatusCache interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*StatusView, bool)
	Set(ctx context.Context, tenantID uuid.UUID, view *StatusView, ttl time.Duration)
	Delete(ctx context.Context, tenantID uuid.UUID)
}

// Service is the subscription gateway consumed by the rest of the
// application: the status read path and the user-driven write paths.
// Webhook-driven writes go through the Reconciler instead.
type Service struct {
	plans     PlanStore
	subs      SubscriptionStore
	processor ProcessorClient
	cache     StatusCache
	cacheTTL  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStatusCache enables caching of status reads. The TTL should stay well
// under the client's polling interval.
func WithStatusCache(cache StatusCache, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if cache != nil && ttl > 0 {
			s.cache = cache
			s.cacheTTL = ttl
		}
	}
}

// NewService creates the subscription gateway. Panics on nil dependencies
// to fail fast during initialization.
func NewService(plans PlanStore, subs SubscriptionStore, processor ProcessorClient, opts ...ServiceOption) *Service {
	if plans == nil {
		panic("billing: PlanStore is required")
	}
	if subs == nil {
		panic("billing: SubscriptionStore is required")
	}
	if processor == nil {
		panic("billing: ProcessorClient is required")
	}
	s := &Service{
		plans:     plans,
		subs:      subs,
		processor: processor,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetStatus returns the tenant's effective billing state. Read-only: an
// elapsed trial reads as inactive here, and the next write persists it.
// Tenants with no record report inactive with no plan.
func (s *Service) GetStatus(ctx context.Context, tenantID uuid.UUID) (*StatusView, error) {
	if s.cache != nil {
		if view, ok := s.cache.Get(ctx, tenantID); ok {
			// The trial may have elapsed after the view was cached but
			// before the TTL did; expiry must win over the cache.
			return view.expiredAt(s.now().UTC()), nil
		}
	}

	rec, err := s.subs.Get(ctx, tenantID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return &StatusView{Status: StatusInactive}, nil
	}
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		Status:           rec.EffectiveStatus(s.now().UTC()),
		TrialEndsAt:      rec.TrialEndsAt,
		CurrentPeriodEnd: rec.CurrentPeriodEnd,
	}
	if plan, err := s.plans.GetByKey(ctx, rec.PlanKey); err == nil {
		view.Plan = plan
	}

	if s.cache != nil {
		s.cache.Set(ctx, tenantID, view, s.cacheTTL)
	}
	return view, nil
}

// ListPlans returns the plans a tenant can subscribe to right now: active
// and settled on the processor. Retired and still-provisioning plans are
// filtered out.
func (s *Service) ListPlans(ctx context.Context) ([]Plan, error) {
	plans, err := s.plans.List(ctx)
	if err != nil {
		return nil, err
	}
	available := make([]Plan, 0, len(plans))
	for _, p := range plans {
		if p.IsActive && p.Provisioned() {
			available = append(available, p)
		}
	}
	return available, nil
}

// Subscribe moves the tenant to pending and asks the processor to authorize
// a recurring charge against the token. Success means "authorization
// initiated", never "authorized"; the verdict arrives via webhook and the
// client observes it through GetStatus.
//
// The local record is made durable before the remote call. If the call
// fails, a record created by this attempt is rolled back to inactive while
// a pre-existing record stays pending for webhook settlement; an
// already-active tenant is rejected outright so a second remote
// subscription is never created.
func (s *Service) Subscribe(ctx context.Context, tenantID uuid.UUID, planKey, paymentToken string) error {
	if paymentToken == "" {
		return errors.New("payment token is required")
	}

	plan, err := s.plans.GetByKey(ctx, planKey)
	if err != nil {
		return err
	}
	if !plan.IsActive {
		return ErrPlanInactive
	}
	if !plan.Provisioned() {
		return ErrPlanNotProvisioned
	}

	now := s.now().UTC()

	rec, err := s.subs.Get(ctx, tenantID)
	created := false
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		rec = &TenantSubscription{
			TenantID:  tenantID,
			PlanKey:   planKey,
			Status:    StatusInactive,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.subs.Create(ctx, rec); err != nil {
			return err
		}
		created = true
	case err != nil:
		return err
	}

	loaded := *rec
	normalized := expireTrialIfDue(loaded, now)
	if normalized.EffectiveStatus(now) == StatusActive {
		return ErrAlreadySubscribed
	}

	pending, err := Transition(normalized, Input{Kind: InputSubscribe}, now)
	if err != nil {
		return err
	}
	pending.PlanKey = planKey
	if err := s.subs.Update(ctx, &pending, loaded.Version); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)

	result, err := s.processor.CreateSubscription(ctx, plan.RemotePlanID, paymentToken, tenantID)
	if err != nil {
		// A newly created record is rolled back so a failed first attempt
		// leaves no trace. A pre-existing record stays pending: the call may
		// have reached the processor despite the error, and a late webhook
		// must still find a record it is allowed to settle.
		if created {
			s.rollbackSubscribe(ctx, pending)
		} else {
			s.log.WarnContext(ctx, "processor call failed, leaving record pending for webhook settlement",
				slog.String("tenant_id", tenantID.String()), slog.Any("error", err))
		}
		return errors.Join(ErrProcessorUnavailable, err)
	}

	// The synchronous answer carries a provisional transaction handle, not
	// the subscription id. remote_subscription_id is set exactly once, by
	// the first authorization webhook; storing the handle here would freeze
	// the wrong id and strand every later event keyed by the real one.
	s.log.InfoContext(ctx, "subscription authorization initiated",
		slog.String("tenant_id", tenantID.String()),
		slog.String("plan_key", planKey),
		slog.String("remote_handle", result.RemoteSubscriptionID))
	return nil
}

// rollbackSubscribe drops a record created by this subscribe attempt back to
// inactive after the remote call failed outright. Best effort: a version
// conflict means a webhook raced us and the record already moved on.
func (s *Service) rollbackSubscribe(ctx context.Context, pending TenantSubscription) {
	restored := pending
	restored.Status = StatusInactive
	restored.Version = pending.Version + 1
	restored.UpdatedAt = s.now().UTC()
	if err := s.subs.Update(ctx, &restored, pending.Version); err != nil && !errors.Is(err, ErrVersionConflict) {
		s.log.ErrorContext(ctx, "failed to roll back subscribe",
			slog.String("tenant_id", pending.TenantID.String()), slog.Any("error", err))
		return
	}
	s.invalidate(ctx, pending.TenantID)
}

// Cancel applies an explicit user cancellation. It takes effect immediately
// and the version bump prevents a late stale webhook from reviving the
// subscription.
func (s *Service) Cancel(ctx context.Context, tenantID uuid.UUID) error {
	rec, err := s.subs.Get(ctx, tenantID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	loaded := *rec
	normalized := expireTrialIfDue(loaded, now)

	canceled, err := Transition(normalized, Input{Kind: InputUserCancel}, now)
	if err != nil {
		return err
	}
	if err := s.subs.Update(ctx, &canceled, loaded.Version); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)

	s.log.InfoContext(ctx, "subscription canceled by user",
		slog.String("tenant_id", tenantID.String()))
	return nil
}

// StartTrial creates the tenant's record in trial for a plan that carries a
// trial window. It is the other way a record comes into existence besides
// Subscribe.
func (s *Service) StartTrial(ctx context.Context, tenantID uuid.UUID, planKey string) error {
	plan, err := s.plans.GetByKey(ctx, planKey)
	if err != nil {
		return err
	}
	if !plan.IsActive {
		return ErrPlanInactive
	}
	if plan.TrialDays <= 0 {
		return errors.Join(ErrInvalidPlanSpec, errors.New("plan has no trial window"))
	}

	now := s.now().UTC()
	trialEnds := plan.TrialEndsAt(now)
	rec := &TenantSubscription{
		TenantID:    tenantID,
		PlanKey:     planKey,
		Status:      StatusTrial,
		TrialEndsAt: &trialEnds,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.subs.Create(ctx, rec); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)

	s.log.InfoContext(ctx, "trial started",
		slog.String("tenant_id", tenantID.String()),
		slog.String("plan_key", planKey),
		slog.Time("trial_ends_at", trialEnds))
	return nil
}

func (s *Service) invalidate(ctx context.Context, tenantID uuid.UUID) {
	if s.cache != nil {
		s.cache.Delete(ctx, tenantID)
	}
}
