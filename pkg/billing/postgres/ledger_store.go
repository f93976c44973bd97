package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zumahq/billing/pkg/billing"
	"github.com/zumahq/billing/pkg/pg"
)

// LedgerStore implements billing.LedgerStore. Rows are append-only; the
// applied flag is flipped by SubscriptionStore.ApplyEvent inside the same
// transaction as the record update.
type LedgerStore struct {
	pool *pgxpool.Pool
}

func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

func (s *LedgerStore) GetEvent(ctx context.Context, providerEventID string) (*billing.WebhookEventRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT provider_event_id, tenant_id, event_type, sequence_hint, received_at, applied
		FROM billing_webhook_events
		WHERE provider_event_id = $1`, providerEventID)

	var ev billing.WebhookEventRecord
	err := row.Scan(&ev.ProviderEventID, &ev.TenantID, &ev.EventType,
		&ev.SequenceHint, &ev.ReceivedAt, &ev.Applied)
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *LedgerStore) RecordEvent(ctx context.Context, ev *billing.WebhookEventRecord) error {
	// ON CONFLICT DO NOTHING keeps the insert idempotent under concurrent
	// redelivery of the same event id.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_webhook_events (provider_event_id, tenant_id, event_type, sequence_hint, received_at, applied)
		VALUES ($1, $2, $3, $4, $5, false)
		ON CONFLICT (provider_event_id) DO NOTHING`,
		ev.ProviderEventID, ev.TenantID, ev.EventType, ev.SequenceHint, ev.ReceivedAt)
	return err
}
