package billing_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zumahq/billing/pkg/billing"
)

const testWebhookSecret = "pdl_ntfset_test_secret"

func newTestPaddleClient(t *testing.T) *billing.PaddleClient {
	t.Helper()
	client, err := billing.NewPaddleClient(billing.PaddleConfig{
		APIKey:        "pdl_test_key",
		WebhookSecret: testWebhookSecret,
		Environment:   "sandbox",
	})
	require.NoError(t, err)
	return client
}

// signPayload produces a Paddle-Signature header for the payload: the hex
// HMAC-SHA256 of "ts:body" under the webhook secret.
func signPayload(payload []byte, ts int64) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d:%s", ts, payload)
	return fmt.Sprintf("ts=%d;h1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func TestNewPaddleClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := billing.NewPaddleClient(billing.PaddleConfig{WebhookSecret: "s"})
	assert.Error(t, err, "missing API key")

	_, err = billing.NewPaddleClient(billing.PaddleConfig{APIKey: "k"})
	assert.Error(t, err, "missing webhook secret")

	_, err = billing.NewPaddleClient(billing.PaddleConfig{
		APIKey: "k", WebhookSecret: "s", Environment: "staging",
	})
	assert.Error(t, err, "unknown environment")
}

func TestPaddleClient_ParseWebhook_RejectsBadSignature(t *testing.T) {
	t.Parallel()

	client := newTestPaddleClient(t)
	payload := []byte(`{"event_id":"evt_1","event_type":"subscription.activated","data":{}}`)

	_, err := client.ParseWebhook(context.Background(), payload, "ts=1;h1=deadbeef")
	require.ErrorIs(t, err, billing.ErrMalformedPayload)

	_, err = client.ParseWebhook(context.Background(), payload, "")
	require.ErrorIs(t, err, billing.ErrMalformedPayload)
}

func TestPaddleClient_ParseWebhook_NormalizesEvent(t *testing.T) {
	t.Parallel()

	client := newTestPaddleClient(t)
	ts := time.Now().Unix()

	payload := []byte(`{
		"event_id": "evt_01h8x9",
		"event_type": "subscription.activated",
		"occurred_at": "2025-03-01T12:00:00.500Z",
		"data": {
			"id": "sub_01h8xa",
			"status": "active",
			"custom_data": {"tenant_id": "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
			"current_billing_period": {"ends_at": "2025-04-01T12:00:00Z"}
		}
	}`)

	event, err := client.ParseWebhook(context.Background(), payload, signPayload(payload, ts))
	require.NoError(t, err)

	assert.Equal(t, "evt_01h8x9", event.ProviderEventID)
	assert.Equal(t, billing.EventAuthorized, event.Type)
	assert.Equal(t, "subscription.activated", event.ProviderEventType)
	assert.Equal(t, "sub_01h8xa", event.RemoteSubscriptionID)
	assert.Equal(t, "active", event.Status)
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", event.TenantID.String())

	occurred := time.Date(2025, 3, 1, 12, 0, 0, 500_000_000, time.UTC)
	assert.Equal(t, occurred.UnixMilli(), event.SequenceHint)

	require.NotNil(t, event.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC), *event.CurrentPeriodEnd)
}

func TestPaddleClient_ParseWebhook_EventTypeMapping(t *testing.T) {
	t.Parallel()

	client := newTestPaddleClient(t)
	ts := time.Now().Unix()

	tests := []struct {
		paddleType string
		want       billing.EventType
	}{
		{"subscription.activated", billing.EventAuthorized},
		{"transaction.completed", billing.EventAuthorized},
		{"transaction.payment_failed", billing.EventRejected},
		{"subscription.past_due", billing.EventPaymentFailed},
		{"subscription.resumed", billing.EventPaymentRecovered},
		{"subscription.canceled", billing.EventCanceled},
		{"subscription.updated", billing.EventType("subscription.updated")},
	}

	for _, tt := range tests {
		t.Run(tt.paddleType, func(t *testing.T) {
			t.Parallel()
			payload := fmt.Appendf(nil, `{"event_id":"evt_1","event_type":%q,"data":{}}`, tt.paddleType)
			event, err := client.ParseWebhook(context.Background(), payload, signPayload(payload, ts))
			require.NoError(t, err)
			assert.Equal(t, tt.want, event.Type)
		})
	}
}

func TestPaddleClient_ParseWebhook_RequiresEventIdentity(t *testing.T) {
	t.Parallel()

	client := newTestPaddleClient(t)
	ts := time.Now().Unix()

	payload := []byte(`{"data":{}}`)
	_, err := client.ParseWebhook(context.Background(), payload, signPayload(payload, ts))
	require.ErrorIs(t, err, billing.ErrMalformedPayload)
}
