// Package rediscache backs billing.StatusCache with Redis so several
// service instances share one cache for the status polling hot path.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zumahq/billing/pkg/billing"
)

const keyPrefix = "billing:status:"

// cachedStatus is the wire form of a status view. The plan is flattened to
// the fields the status endpoint exposes.
type cachedStatus struct {
	Status           billing.Status `json:"status"`
	TrialEndsAt      *time.Time     `json:"trial_ends_at,omitempty"`
	CurrentPeriodEnd *time.Time     `json:"current_period_end,omitempty"`
	Plan             *billing.Plan  `json:"plan,omitempty"`
}

// StatusCache implements billing.StatusCache on go-redis. Failures are
// swallowed: a broken cache degrades to reading the store, never to an
// error on the polling path.
type StatusCache struct {
	client *redis.Client
}

func New(client *redis.Client) *StatusCache {
	return &StatusCache{client: client}
}

func (c *StatusCache) Get(ctx context.Context, tenantID uuid.UUID) (*billing.StatusView, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+tenantID.String()).Bytes()
	if err != nil {
		return nil, false
	}
	var cached cachedStatus
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	return &billing.StatusView{
		Status:           cached.Status,
		TrialEndsAt:      cached.TrialEndsAt,
		CurrentPeriodEnd: cached.CurrentPeriodEnd,
		Plan:             cached.Plan,
	}, true
}

func (c *StatusCache) Set(ctx context.Context, tenantID uuid.UUID, view *billing.StatusView, ttl time.Duration) {
	if view == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(cachedStatus{
		Status:           view.Status,
		TrialEndsAt:      view.TrialEndsAt,
		CurrentPeriodEnd: view.CurrentPeriodEnd,
		Plan:             view.Plan,
	})
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, keyPrefix+tenantID.String(), raw, ttl).Err()
}

func (c *StatusCache) Delete(ctx context.Context, tenantID uuid.UUID) {
	_ = c.client.Del(ctx, keyPrefix+tenantID.String()).Err()
}
