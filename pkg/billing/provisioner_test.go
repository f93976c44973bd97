package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zumahq/billing/pkg/billing"
)

func basicSpec() billing.PlanSpec {
	return billing.PlanSpec{
		Name:      "Zuma Pro",
		Price:     billing.Money{Amount: 4900, Currency: "USD"},
		TrialDays: 14,
	}
}

func TestProvisioner_EnsurePlan_CreatesRemotePlan(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryPlanStore()
	processor := new(mockProcessor)
	processor.On("CreatePlan", mock.Anything, "zuma_pro", basicSpec()).Return("pri_123", nil).Once()

	p := billing.NewProvisioner(store, processor)
	result, err := p.EnsurePlan(context.Background(), "zuma_pro", basicSpec())
	require.NoError(t, err)

	assert.Equal(t, billing.ProvisionCreated, result.Outcome)
	assert.Equal(t, "pri_123", result.Plan.RemotePlanID)
	assert.True(t, result.Plan.Provisioned())
	assert.True(t, result.Plan.IsActive)
	processor.AssertExpectations(t)
}

func TestProvisioner_EnsurePlan_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryPlanStore()
	processor := new(mockProcessor)
	processor.On("CreatePlan", mock.Anything, "zuma_pro", basicSpec()).Return("pri_123", nil).Once()

	p := billing.NewProvisioner(store, processor)

	first, err := p.EnsurePlan(context.Background(), "zuma_pro", basicSpec())
	require.NoError(t, err)
	require.Equal(t, billing.ProvisionCreated, first.Outcome)

	second, err := p.EnsurePlan(context.Background(), "zuma_pro", basicSpec())
	require.NoError(t, err)
	assert.Equal(t, billing.ProvisionAlreadyProvisioned, second.Outcome)
	assert.Equal(t, "pri_123", second.Plan.RemotePlanID)

	// the settled branch never reaches the processor again
	processor.AssertNumberOfCalls(t, "CreatePlan", 1)
}

func TestProvisioner_EnsurePlan_RemoteFailureLeavesPendingRow(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryPlanStore()
	processor := new(mockProcessor)
	processor.On("CreatePlan", mock.Anything, "zuma_pro", basicSpec()).
		Return("", errors.New("processor down")).Once()

	p := billing.NewProvisioner(store, processor)
	_, err := p.EnsurePlan(context.Background(), "zuma_pro", basicSpec())
	require.ErrorIs(t, err, billing.ErrProvisioningFailed)

	// The intent row survives at the sentinel so the next invocation can
	// retry the remote half.
	plan, err := store.GetByKey(context.Background(), "zuma_pro")
	require.NoError(t, err)
	assert.Equal(t, billing.RemotePlanIDPending, plan.RemotePlanID)
	assert.False(t, plan.Provisioned())

	processor.ExpectedCalls = nil
	processor.On("CreatePlan", mock.Anything, "zuma_pro", basicSpec()).Return("pri_retry", nil).Once()

	result, err := p.EnsurePlan(context.Background(), "zuma_pro", basicSpec())
	require.NoError(t, err)
	assert.Equal(t, billing.ProvisionCreated, result.Outcome)
	assert.Equal(t, "pri_retry", result.Plan.RemotePlanID)
}

// raceLoserPlanStore simulates the losing side of a concurrent first-time
// provisioning: the initial lookup misses, and by the time the insert lands a
// competing provisioner already owns the row.
type raceLoserPlanStore struct {
	*billing.MemoryPlanStore
	mu     sync.Mutex
	missed bool
}

func (s *raceLoserPlanStore) GetByKey(ctx context.Context, key string) (*billing.Plan, error) {
	s.mu.Lock()
	if !s.missed {
		s.missed = true
		s.mu.Unlock()
		return nil, billing.ErrPlanNotFound
	}
	s.mu.Unlock()
	return s.MemoryPlanStore.GetByKey(ctx, key)
}

func TestProvisioner_EnsurePlan_InsertRaceLoserSkipsRemoteCall(t *testing.T) {
	t.Parallel()

	inner := billing.NewMemoryPlanStore()
	require.NoError(t, inner.Create(context.Background(), &billing.Plan{
		Key:          "zuma_pro",
		Name:         "Zuma Pro",
		Price:        billing.Money{Amount: 4900, Currency: "USD"},
		RemotePlanID: billing.RemotePlanIDPending,
		IsActive:     true,
	}))

	processor := new(mockProcessor)
	p := billing.NewProvisioner(&raceLoserPlanStore{MemoryPlanStore: inner}, processor)

	result, err := p.EnsurePlan(context.Background(), "zuma_pro", basicSpec())
	require.NoError(t, err)

	assert.Equal(t, billing.ProvisionPendingElsewhere, result.Outcome)
	processor.AssertNumberOfCalls(t, "CreatePlan", 0)
}

func TestProvisioner_EnsurePlan_ConcurrentCallersConverge(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryPlanStore()
	processor := new(mockProcessor)
	processor.On("CreatePlan", mock.Anything, "zuma_pro", basicSpec()).Return("pri_123", nil)

	p := billing.NewProvisioner(store, processor)

	const callers = 8
	results := make([]*billing.ProvisionResult, callers)
	errs := make([]error, callers)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = p.EnsurePlan(context.Background(), "zuma_pro", basicSpec())
		}()
	}
	close(start)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i].Plan)
	}

	// Whatever the interleaving, everyone settles on the same remote id.
	plan, err := store.GetByKey(context.Background(), "zuma_pro")
	require.NoError(t, err)
	assert.Equal(t, "pri_123", plan.RemotePlanID)
}

func TestProvisioner_EnsurePlan_RejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryPlanStore()
	processor := new(mockProcessor)
	p := billing.NewProvisioner(store, processor)

	t.Run("empty key", func(t *testing.T) {
		_, err := p.EnsurePlan(context.Background(), "", basicSpec())
		assert.ErrorIs(t, err, billing.ErrInvalidPlanSpec)
	})

	t.Run("missing name", func(t *testing.T) {
		spec := basicSpec()
		spec.Name = ""
		_, err := p.EnsurePlan(context.Background(), "zuma_pro", spec)
		assert.ErrorIs(t, err, billing.ErrInvalidPlanSpec)
	})

	t.Run("negative price", func(t *testing.T) {
		spec := basicSpec()
		spec.Price.Amount = -1
		_, err := p.EnsurePlan(context.Background(), "zuma_pro", spec)
		assert.ErrorIs(t, err, billing.ErrInvalidPlanSpec)
	})

	t.Run("bogus currency", func(t *testing.T) {
		spec := basicSpec()
		spec.Price.Currency = "ZZZ"
		_, err := p.EnsurePlan(context.Background(), "zuma_pro", spec)
		assert.ErrorIs(t, err, billing.ErrInvalidPlanSpec)
	})

	processor.AssertNumberOfCalls(t, "CreatePlan", 0)
}
