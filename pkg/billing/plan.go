package billing

import (
	"context"
	"errors"
	"time"

	"golang.org/x/text/currency"
)

// RemotePlanIDPending is the sentinel value held by a plan row between the
// durable "intent to provision" insert and the processor confirming the
// remote resource. It transitions to a real id exactly once.
const RemotePlanIDPending = "PENDING"

// Plan is the durable record of a billing plan. The Key is the stable
// business identifier ("zuma_pro"); RemotePlanID is the processor's price id
// once provisioning settled.
type Plan struct {
	Key          string
	Name         string
	Price        Money
	RemotePlanID string
	IsActive     bool
	TrialDays    int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Provisioned reports whether the plan has settled on the remote processor.
func (p *Plan) Provisioned() bool {
	return p.RemotePlanID != "" && p.RemotePlanID != RemotePlanIDPending
}

// TrialEndsAt calculates when a trial started at the given time ends.
// Returns startedAt unchanged if the plan carries no trial.
func (p *Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// PlanSpec is the desired shape of a plan handed to EnsurePlan and to the
// processor's plan-creation API.
type PlanSpec struct {
	Name      string
	Price     Money
	TrialDays int
}

// Validate checks the plan shape before any durable or remote side effect.
func (s PlanSpec) Validate() error {
	if s.Name == "" {
		return errors.Join(ErrInvalidPlanSpec, errors.New("name is required"))
	}
	if s.Price.Amount < 0 {
		return errors.Join(ErrInvalidPlanSpec, errors.New("price amount must not be negative"))
	}
	if s.TrialDays < 0 {
		return errors.Join(ErrInvalidPlanSpec, errors.New("trial days must not be negative"))
	}
	if _, err := currency.ParseISO(s.Price.Currency); err != nil {
		return errors.Join(ErrInvalidPlanSpec, err)
	}
	return nil
}

// PlanStore defines plan persistence. At most one row exists per key.
type PlanStore interface {
	// GetByKey returns the plan for the given business key.
	// Returns ErrPlanNotFound if no plan exists.
	GetByKey(ctx context.Context, key string) (*Plan, error)

	// List returns all plans, active or not.
	List(ctx context.Context) ([]Plan, error)

	// Create inserts a new plan row. The key uniqueness constraint is the
	// concurrency guard for provisioning: a second insert for the same key
	// returns ErrPlanAlreadyExists.
	Create(ctx context.Context, plan *Plan) error

	// SetRemotePlanID settles the remote id for a plan, but only while the
	// stored value is still RemotePlanIDPending. A plan that already
	// settled is left untouched so concurrent provisioners converge.
	SetRemotePlanID(ctx context.Context, key, remotePlanID string) error
}
