package billing_test

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/zumahq/billing/pkg/billing"
)

type mockProcessor struct {
	mock.Mock
}

var _ billing.ProcessorClient = (*mockProcessor)(nil)

func (m *mockProcessor) CreatePlan(ctx context.Context, key string, spec billing.PlanSpec) (string, error) {
	args := m.Called(ctx, key, spec)
	return args.String(0), args.Error(1)
}

func (m *mockProcessor) CreateSubscription(ctx context.Context, remotePlanID, paymentToken string, tenantID uuid.UUID) (*billing.CreateSubscriptionResult, error) {
	args := m.Called(ctx, remotePlanID, paymentToken, tenantID)
	if res := args.Get(0); res != nil {
		return res.(*billing.CreateSubscriptionResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProcessor) ParseWebhook(ctx context.Context, payload []byte, signature string) (*billing.ProcessorEvent, error) {
	args := m.Called(ctx, payload, signature)
	if ev := args.Get(0); ev != nil {
		return ev.(*billing.ProcessorEvent), args.Error(1)
	}
	return nil, args.Error(1)
}
