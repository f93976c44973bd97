package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ProvisionOutcome tags the result of EnsurePlan instead of overloading
// errors for control flow.
type ProvisionOutcome string

const (
	// ProvisionCreated means this call created the remote plan resource.
	ProvisionCreated ProvisionOutcome = "created"
	// ProvisionAlreadyProvisioned means the plan had settled before this
	// call; nothing was done.
	ProvisionAlreadyProvisioned ProvisionOutcome = "already_provisioned"
	// ProvisionPendingElsewhere means this call lost the insert race to a
	// concurrent provisioner that now owns the remote creation. The row
	// exists; a later invocation retries if the owner crashed.
	ProvisionPendingElsewhere ProvisionOutcome = "pending_elsewhere"
)

// ProvisionResult is the tagged answer of EnsurePlan.
type ProvisionResult struct {
	Outcome ProvisionOutcome
	Plan    *Plan
}

// Provisioner ensures a named plan exists both locally and on the remote
// processor exactly once. Safe to call repeatedly and concurrently: the
// durable "intent" row is inserted before any external call, so a crash
// mid-provisioning leaves recoverable state rather than an orphaned remote
// resource, and the next invocation retries from the pending branch.
type Provisioner struct {
	store     PlanStore
	processor ProcessorClient
	log       *slog.Logger
	now       func() time.Time
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

func WithProvisionerLogger(log *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		if log != nil {
			p.log = log
		}
	}
}

func WithProvisionerClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvisioner creates a plan provisioner. Panics on nil dependencies to
// fail fast during initialization.
func NewProvisioner(store PlanStore, processor ProcessorClient, opts ...ProvisionerOption) *Provisioner {
	if store == nil {
		panic("billing: PlanStore is required")
	}
	if processor == nil {
		panic("billing: ProcessorClient is required")
	}
	p := &Provisioner{
		store:     store,
		processor: processor,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsurePlan makes the plan for key exist locally and remotely.
//
// Three branches, in order:
//   - no local row: insert one at the pending sentinel, then create remote;
//   - local row already settled: no-op;
//   - local row pending: retry the remote creation.
//
// Remote failure leaves the row pending and returns ErrProvisioningFailed;
// there is no internal retry loop, re-invocation is the retry. A lost
// insert race returns ProvisionPendingElsewhere without a remote call, so
// two concurrent provisioners never create two remote plans from scratch.
func (p *Provisioner) EnsurePlan(ctx context.Context, key string, spec PlanSpec) (*ProvisionResult, error) {
	if key == "" {
		return nil, errors.Join(ErrInvalidPlanSpec, errors.New("plan key is required"))
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	plan, err := p.store.GetByKey(ctx, key)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		now := p.now().UTC()
		plan = &Plan{
			Key:          key,
			Name:         spec.Name,
			Price:        spec.Price,
			RemotePlanID: RemotePlanIDPending,
			IsActive:     true,
			TrialDays:    spec.TrialDays,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := p.store.Create(ctx, plan); err != nil {
			if errors.Is(err, ErrPlanAlreadyExists) {
				// Lost the insert race; the winner owns remote creation.
				existing, err := p.store.GetByKey(ctx, key)
				if err != nil {
					return nil, err
				}
				outcome := ProvisionPendingElsewhere
				if existing.Provisioned() {
					outcome = ProvisionAlreadyProvisioned
				}
				return &ProvisionResult{Outcome: outcome, Plan: existing}, nil
			}
			return nil, err
		}
	case err != nil:
		return nil, err
	case plan.Provisioned():
		return &ProvisionResult{Outcome: ProvisionAlreadyProvisioned, Plan: plan}, nil
	}

	remoteID, err := p.processor.CreatePlan(ctx, key, spec)
	if err != nil {
		p.log.ErrorContext(ctx, "remote plan creation failed",
			slog.String("plan_key", key), slog.Any("error", err))
		return nil, errors.Join(ErrProvisioningFailed, err)
	}

	// Conditional on the pending sentinel so concurrent provisioners
	// converge on whichever id settled first.
	if err := p.store.SetRemotePlanID(ctx, key, remoteID); err != nil {
		return nil, err
	}

	settled, err := p.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	p.log.InfoContext(ctx, "plan provisioned",
		slog.String("plan_key", key), slog.String("remote_plan_id", settled.RemotePlanID))

	return &ProvisionResult{Outcome: ProvisionCreated, Plan: settled}, nil
}
