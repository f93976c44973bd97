package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryPlanStore is a mutex-guarded in-memory PlanStore for tests and
// local development. It enforces the same key-uniqueness and settle-once
// semantics as the postgres store.
type MemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{plans: make(map[string]Plan)}
}

func (s *MemoryPlanStore) GetByKey(ctx context.Context, key string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[key]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &plan, nil
}

func (s *MemoryPlanStore) List(ctx context.Context) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryPlanStore) Create(ctx context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[plan.Key]; exists {
		return ErrPlanAlreadyExists
	}
	s.plans[plan.Key] = *plan
	return nil
}

func (s *MemoryPlanStore) SetRemotePlanID(ctx context.Context, key, remotePlanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[key]
	if !ok {
		return ErrPlanNotFound
	}
	// Settle-once: a plan that already left the sentinel keeps its id so
	// concurrent provisioners converge.
	if plan.RemotePlanID != RemotePlanIDPending {
		return nil
	}
	plan.RemotePlanID = remotePlanID
	plan.UpdatedAt = time.Now().UTC()
	s.plans[key] = plan
	return nil
}

// MemorySubscriptionStore is an in-memory SubscriptionStore with the same
// optimistic-concurrency behavior as the postgres store.
type MemorySubscriptionStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]TenantSubscription
	ledger *MemoryLedger // optional, wired by NewMemorySubscriptionStore for ApplyEvent atomicity
}

// NewMemorySubscriptionStore creates the store. The ledger may be nil when
// ApplyEvent is not exercised.
func NewMemorySubscriptionStore(ledger *MemoryLedger) *MemorySubscriptionStore {
	return &MemorySubscriptionStore{
		byID:   make(map[uuid.UUID]TenantSubscription),
		ledger: ledger,
	}
}

func (s *MemorySubscriptionStore) Get(ctx context.Context, tenantID uuid.UUID) (*TenantSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[tenantID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &rec, nil
}

func (s *MemorySubscriptionStore) GetByRemoteID(ctx context.Context, remoteSubscriptionID string) (*TenantSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.byID {
		if rec.RemoteSubscriptionID != "" && rec.RemoteSubscriptionID == remoteSubscriptionID {
			out := rec
			return &out, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemorySubscriptionStore) Create(ctx context.Context, rec *TenantSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[rec.TenantID]; exists {
		return ErrSubscriptionAlreadyExists
	}
	s.byID[rec.TenantID] = *rec
	return nil
}

func (s *MemorySubscriptionStore) Update(ctx context.Context, rec *TenantSubscription, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(rec, expectedVersion)
}

func (s *MemorySubscriptionStore) ApplyEvent(ctx context.Context, rec *TenantSubscription, expectedVersion int64, providerEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(rec, expectedVersion); err != nil {
		return err
	}
	if s.ledger != nil {
		s.ledger.markApplied(providerEventID)
	}
	return nil
}

func (s *MemorySubscriptionStore) updateLocked(rec *TenantSubscription, expectedVersion int64) error {
	stored, ok := s.byID[rec.TenantID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.byID[rec.TenantID] = *rec
	return nil
}

// MemoryLedger is an in-memory idempotency ledger.
type MemoryLedger struct {
	mu     sync.RWMutex
	events map[string]WebhookEventRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{events: make(map[string]WebhookEventRecord)}
}

func (l *MemoryLedger) GetEvent(ctx context.Context, providerEventID string) (*WebhookEventRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev, ok := l.events[providerEventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return &ev, nil
}

func (l *MemoryLedger) RecordEvent(ctx context.Context, ev *WebhookEventRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.events[ev.ProviderEventID]; exists {
		return nil
	}
	l.events[ev.ProviderEventID] = *ev
	return nil
}

func (l *MemoryLedger) markApplied(providerEventID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev, ok := l.events[providerEventID]
	if !ok {
		return
	}
	ev.Applied = true
	l.events[providerEventID] = ev
}

// MemoryStatusCache is a TTL map cache for status views.
type MemoryStatusCache struct {
	mu    sync.Mutex
	items map[uuid.UUID]cachedView
}

type cachedView struct {
	view      StatusView
	expiresAt time.Time
}

func NewMemoryStatusCache() *MemoryStatusCache {
	return &MemoryStatusCache{items: make(map[uuid.UUID]cachedView)}
}

func (c *MemoryStatusCache) Get(ctx context.Context, tenantID uuid.UUID) (*StatusView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[tenantID]
	if !ok {
		return nil, false
	}
	if time.Now().After(item.expiresAt) {
		delete(c.items, tenantID)
		return nil, false
	}
	view := item.view
	return &view, true
}

func (c *MemoryStatusCache) Set(ctx context.Context, tenantID uuid.UUID, view *StatusView, ttl time.Duration) {
	if view == nil || ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[tenantID] = cachedView{view: *view, expiresAt: time.Now().Add(ttl)}
}

func (c *MemoryStatusCache) Delete(ctx context.Context, tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, tenantID)
}
