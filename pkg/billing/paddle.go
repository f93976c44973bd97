package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
)

// PaddleConfig holds credentials and limits for the Paddle processor client.
// Injected at construction so tests can run against doubles without touching
// the environment.
type PaddleConfig struct {
	APIKey        string        `env:"PADDLE_API_KEY,required"`
	WebhookSecret string        `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	Timeout       time.Duration `env:"PADDLE_TIMEOUT" envDefault:"10s"`
}

// PaddleClient implements ProcessorClient against Paddle Billing.
type PaddleClient struct {
	sdk      *paddle.SDK
	verifier *paddle.WebhookVerifier
	timeout  time.Duration
}

// NewPaddleClient creates a Paddle-backed processor client.
func NewPaddleClient(cfg PaddleConfig) (*PaddleClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var sdk *paddle.SDK
	var err error
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		sdk, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		sdk, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PaddleClient{
		sdk:      sdk,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		timeout:  timeout,
	}, nil
}

// CreatePlan creates a product and a recurring price in Paddle and returns
// the price id, which is what subscriptions reference.
func (c *PaddleClient) CreatePlan(ctx context.Context, key string, spec PlanSpec) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	product, err := c.sdk.ProductsClient.CreateProduct(ctx, &paddle.CreateProductRequest{
		Name:        spec.Name,
		TaxCategory: paddle.TaxCategoryStandard,
		CustomData:  paddle.CustomData{"plan_key": key},
	})
	if err != nil {
		return "", errors.Join(ErrProcessorUnavailable, fmt.Errorf("create paddle product: %w", err))
	}

	priceReq := &paddle.CreatePriceRequest{
		ProductID:   product.ID,
		Description: spec.Name,
		UnitPrice: paddle.Money{
			Amount:       strconv.FormatInt(spec.Price.Amount, 10),
			CurrencyCode: paddle.CurrencyCode(spec.Price.Currency),
		},
		BillingCycle: &paddle.Duration{
			Interval:  paddle.IntervalMonth,
			Frequency: 1,
		},
		CustomData: paddle.CustomData{"plan_key": key},
	}
	if spec.TrialDays > 0 {
		priceReq.TrialPeriod = &paddle.Duration{
			Interval:  paddle.IntervalDay,
			Frequency: spec.TrialDays,
		}
	}

	price, err := c.sdk.PricesClient.CreatePrice(ctx, priceReq)
	if err != nil {
		return "", errors.Join(ErrProcessorUnavailable, fmt.Errorf("create paddle price: %w", err))
	}

	return price.ID, nil
}

// CreateSubscription creates a catalog transaction against the plan's price
// using a checkout-collected payment token. Paddle settles the charge
// asynchronously and reports the verdict via webhook.
func (c *PaddleClient) CreateSubscription(ctx context.Context, remotePlanID, paymentToken string, tenantID uuid.UUID) (*CreateSubscriptionResult, error) {
	if remotePlanID == "" {
		return nil, errors.New("remote plan id is required")
	}
	if paymentToken == "" {
		return nil, errors.New("payment token is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  remotePlanID,
		Quantity: 1,
	})

	txn, err := c.sdk.TransactionsClient.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"tenant_id":     tenantID.String(),
			"payment_token": paymentToken,
		},
	})
	if err != nil {
		return nil, errors.Join(ErrProcessorUnavailable, fmt.Errorf("create paddle transaction: %w", err))
	}

	// A subscription id is only assigned once Paddle settles the first
	// charge; until then the transaction id is the remote handle.
	remoteSubID := txn.ID
	if txn.SubscriptionID != nil && *txn.SubscriptionID != "" {
		remoteSubID = *txn.SubscriptionID
	}

	return &CreateSubscriptionResult{
		RemoteSubscriptionID: remoteSubID,
		InitialStatus:        string(txn.Status),
	}, nil
}

// ParseWebhook verifies the Paddle signature and normalizes the event.
func (c *PaddleClient) ParseWebhook(ctx context.Context, payload []byte, signature string) (*ProcessorEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := c.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if !valid {
		return nil, errors.Join(ErrMalformedPayload, errors.New("paddle signature verification failed"))
	}

	var raw struct {
		EventID    string         `json:"event_id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if raw.EventID == "" || raw.EventType == "" {
		return nil, errors.Join(ErrMalformedPayload, errors.New("event_id and event_type are required"))
	}

	ev := &ProcessorEvent{
		ProviderEventID:   raw.EventID,
		Type:              mapPaddleEventType(raw.EventType),
		ProviderEventType: raw.EventType,
		Raw:               raw.Data,
	}

	// Paddle guarantees occurred_at is monotonic per resource, which is the
	// ordering hint the reconciler keys on.
	if t, err := time.Parse(time.RFC3339Nano, raw.OccurredAt); err == nil {
		ev.SequenceHint = t.UnixMilli()
	}

	if id, ok := raw.Data["id"].(string); ok {
		ev.RemoteSubscriptionID = id
	}
	if subID, ok := raw.Data["subscription_id"].(string); ok && subID != "" {
		ev.RemoteSubscriptionID = subID
	}
	if status, ok := raw.Data["status"].(string); ok {
		ev.Status = status
	}
	if custom, ok := raw.Data["custom_data"].(map[string]any); ok {
		if tid, ok := custom["tenant_id"].(string); ok {
			if parsed, err := uuid.Parse(tid); err == nil {
				ev.TenantID = parsed
			}
		}
	}
	if period, ok := raw.Data["current_billing_period"].(map[string]any); ok {
		if endsAt, ok := period["ends_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, endsAt); err == nil {
				t = t.UTC()
				ev.CurrentPeriodEnd = &t
			}
		}
	}

	return ev, nil
}

// mapPaddleEventType normalizes Paddle event names. A failed payment on the
// initial transaction is an authorization rejection; a subscription going
// past_due is a renewal failure. Unmapped names pass through unchanged so
// the reconciler can classify them as ignored.
func mapPaddleEventType(paddleEvent string) EventType {
	switch paddleEvent {
	case "subscription.activated", "transaction.completed":
		return EventAuthorized
	case "transaction.payment_failed":
		return EventRejected
	case "subscription.past_due":
		return EventPaymentFailed
	case "subscription.resumed":
		return EventPaymentRecovered
	case "subscription.canceled":
		return EventCanceled
	default:
		return EventType(paddleEvent)
	}
}
