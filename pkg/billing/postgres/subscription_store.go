package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zumahq/billing/pkg/billing"
	"github.com/zumahq/billing/pkg/pg"
)

// SubscriptionStore implements billing.SubscriptionStore with optimistic
// concurrency on the version column.
type SubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewSubscriptionStore(pool *pgxpool.Pool) *SubscriptionStore {
	return &SubscriptionStore{pool: pool}
}

const subscriptionColumns = `
	tenant_id, plan_key, status, trial_ends_at, current_period_end,
	remote_subscription_id, last_event_seq, version, created_at, updated_at`

func scanSubscription(row pgx.Row) (*billing.TenantSubscription, error) {
	var rec billing.TenantSubscription
	var remoteID *string
	err := row.Scan(&rec.TenantID, &rec.PlanKey, &rec.Status, &rec.TrialEndsAt,
		&rec.CurrentPeriodEnd, &remoteID, &rec.LastEventSeq, &rec.Version,
		&rec.CreatedAt, &rec.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	if remoteID != nil {
		rec.RemoteSubscriptionID = *remoteID
	}
	return &rec, nil
}

func (s *SubscriptionStore) Get(ctx context.Context, tenantID uuid.UUID) (*billing.TenantSubscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM tenant_subscriptions
		WHERE tenant_id = $1`, tenantID)
	return scanSubscription(row)
}

func (s *SubscriptionStore) GetByRemoteID(ctx context.Context, remoteSubscriptionID string) (*billing.TenantSubscription, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM tenant_subscriptions
		WHERE remote_subscription_id = $1`, remoteSubscriptionID)
	return scanSubscription(row)
}

func (s *SubscriptionStore) Create(ctx context.Context, rec *billing.TenantSubscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.TenantID, rec.PlanKey, rec.Status, rec.TrialEndsAt, rec.CurrentPeriodEnd,
		nullable(rec.RemoteSubscriptionID), rec.LastEventSeq, rec.Version,
		rec.CreatedAt, rec.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return billing.ErrSubscriptionAlreadyExists
	}
	return err
}

func (s *SubscriptionStore) Update(ctx context.Context, rec *billing.TenantSubscription, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, updateSubscriptionSQL,
		rec.TenantID, rec.PlanKey, rec.Status, rec.TrialEndsAt, rec.CurrentPeriodEnd,
		nullable(rec.RemoteSubscriptionID), rec.LastEventSeq, rec.Version,
		rec.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrVersionConflict
	}
	return nil
}

// ApplyEvent runs the record CAS and the ledger applied flip in one
// transaction so a crash cannot separate them.
func (s *SubscriptionStore) ApplyEvent(ctx context.Context, rec *billing.TenantSubscription, expectedVersion int64, providerEventID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, updateSubscriptionSQL,
		rec.TenantID, rec.PlanKey, rec.Status, rec.TrialEndsAt, rec.CurrentPeriodEnd,
		nullable(rec.RemoteSubscriptionID), rec.LastEventSeq, rec.Version,
		rec.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrVersionConflict
	}

	tag, err = tx.Exec(ctx, `
		UPDATE billing_webhook_events
		SET applied = true
		WHERE provider_event_id = $1`, providerEventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Join(billing.ErrEventNotFound, errors.New("ledger entry missing during apply"))
	}

	return tx.Commit(ctx)
}

const updateSubscriptionSQL = `
	UPDATE tenant_subscriptions
	SET plan_key = $2, status = $3, trial_ends_at = $4, current_period_end = $5,
		remote_subscription_id = COALESCE(remote_subscription_id, $6),
		last_event_seq = $7, version = $8, updated_at = $9
	WHERE tenant_id = $1 AND version = $10`

// nullable maps the empty string onto SQL NULL so the unique index on
// remote_subscription_id only covers assigned ids.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
