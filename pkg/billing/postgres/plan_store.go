// Package postgres persists the billing domain on PostgreSQL via pgx/v5.
// The only primitives the core needs are single-row conditional updates
// (compare-and-swap on version, settle-once on the remote plan id) and
// unique constraints, all expressed as plain SQL.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zumahq/billing/pkg/billing"
	"github.com/zumahq/billing/pkg/pg"
)

// PlanStore implements billing.PlanStore.
type PlanStore struct {
	pool *pgxpool.Pool
}

func NewPlanStore(pool *pgxpool.Pool) *PlanStore {
	return &PlanStore{pool: pool}
}

func (s *PlanStore) GetByKey(ctx context.Context, key string) (*billing.Plan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, name, price_amount, currency, remote_plan_id, is_active, trial_days, created_at, updated_at
		FROM billing_plans
		WHERE key = $1`, key)

	var p billing.Plan
	err := row.Scan(&p.Key, &p.Name, &p.Price.Amount, &p.Price.Currency,
		&p.RemotePlanID, &p.IsActive, &p.TrialDays, &p.CreatedAt, &p.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PlanStore) List(ctx context.Context) ([]billing.Plan, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, name, price_amount, currency, remote_plan_id, is_active, trial_days, created_at, updated_at
		FROM billing_plans
		ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []billing.Plan
	for rows.Next() {
		var p billing.Plan
		if err := rows.Scan(&p.Key, &p.Name, &p.Price.Amount, &p.Price.Currency,
			&p.RemotePlanID, &p.IsActive, &p.TrialDays, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (s *PlanStore) Create(ctx context.Context, plan *billing.Plan) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_plans (key, name, price_amount, currency, remote_plan_id, is_active, trial_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		plan.Key, plan.Name, plan.Price.Amount, plan.Price.Currency,
		plan.RemotePlanID, plan.IsActive, plan.TrialDays, plan.CreatedAt, plan.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrPlanAlreadyExists
	}
	return err
}

func (s *PlanStore) SetRemotePlanID(ctx context.Context, key, remotePlanID string) error {
	// Settle-once: the predicate on the sentinel makes concurrent
	// provisioners converge instead of overwriting each other.
	tag, err := s.pool.Exec(ctx, `
		UPDATE billing_plans
		SET remote_plan_id = $2, updated_at = now()
		WHERE key = $1 AND remote_plan_id = $3`,
		key, remotePlanID, billing.RemotePlanIDPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the row settled already (fine) or it never existed.
		if _, err := s.GetByKey(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
