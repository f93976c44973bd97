package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingmod "github.com/zumahq/billing/modules/billing"
	core "github.com/zumahq/billing/pkg/billing"
)

type stubGateway struct {
	status       *core.StatusView
	statusErr    error
	plans        []core.Plan
	plansErr     error
	subscribeErr error
	cancelErr    error

	lastTenant  uuid.UUID
	lastPlanKey string
	lastToken   string
}

func (s *stubGateway) GetStatus(ctx context.Context, tenantID uuid.UUID) (*core.StatusView, error) {
	s.lastTenant = tenantID
	return s.status, s.statusErr
}

func (s *stubGateway) ListPlans(ctx context.Context) ([]core.Plan, error) {
	return s.plans, s.plansErr
}

func (s *stubGateway) Subscribe(ctx context.Context, tenantID uuid.UUID, planKey, paymentToken string) error {
	s.lastTenant = tenantID
	s.lastPlanKey = planKey
	s.lastToken = paymentToken
	return s.subscribeErr
}

func (s *stubGateway) Cancel(ctx context.Context, tenantID uuid.UUID) error {
	s.lastTenant = tenantID
	return s.cancelErr
}

type stubReconciler struct {
	outcome core.Outcome
	err     error

	payload   []byte
	signature string
}

func (s *stubReconciler) Handle(ctx context.Context, payload []byte, signature string) (core.Outcome, error) {
	s.payload = payload
	s.signature = signature
	return s.outcome, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func doRequest(t *testing.T, handler http.Handler, method, target, tenant, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if tenant != "" {
		req.Header.Set(billingmod.TenantHeader, tenant)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRouter_RequiresTenantHeader(t *testing.T) {
	t.Parallel()

	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))
	router := billingmod.Router(&stubGateway{}, log)

	rec := doRequest(t, router, http.MethodGet, "/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/status", "not-a-uuid", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Rejections are visible in the logs for edge misconfiguration triage.
	assert.Contains(t, logBuf.String(), "missing or invalid tenant header")
	assert.Contains(t, logBuf.String(), "/status")
}

func TestRouter_Status(t *testing.T) {
	t.Parallel()

	trialEnds := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	gateway := &stubGateway{status: &core.StatusView{
		Status:      core.StatusTrial,
		TrialEndsAt: &trialEnds,
		Plan: &core.Plan{
			Key:   "zuma_pro",
			Name:  "Zuma Pro",
			Price: core.Money{Amount: 4900, Currency: "USD"},
		},
	}}
	router := billingmod.Router(gateway, testLogger())

	tenantID := uuid.New()
	rec := doRequest(t, router, http.MethodGet, "/status", tenantID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, tenantID, gateway.lastTenant)

	var resp struct {
		OK                 bool   `json:"ok"`
		SubscriptionStatus string `json:"subscription_status"`
		TrialEndsAt        string `json:"trial_ends_at"`
		Plan               struct {
			Key         string `json:"key"`
			PriceAmount int64  `json:"price_amount"`
			Currency    string `json:"currency"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "trial", resp.SubscriptionStatus)
	assert.NotEmpty(t, resp.TrialEndsAt)
	assert.Equal(t, "zuma_pro", resp.Plan.Key)
	assert.Equal(t, int64(4900), resp.Plan.PriceAmount)
	assert.Equal(t, "USD", resp.Plan.Currency)
}

func TestRouter_Plans(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{plans: []core.Plan{
		{
			Key:       "zuma_pro",
			Name:      "Zuma Pro",
			Price:     core.Money{Amount: 4900, Currency: "USD"},
			TrialDays: 14,
		},
	}}
	router := billingmod.Router(gateway, testLogger())

	rec := doRequest(t, router, http.MethodGet, "/plans", uuid.NewString(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		OK    bool `json:"ok"`
		Plans []struct {
			Key       string `json:"key"`
			TrialDays int    `json:"trial_days"`
		} `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	require.Len(t, resp.Plans, 1)
	assert.Equal(t, "zuma_pro", resp.Plans[0].Key)
	assert.Equal(t, 14, resp.Plans[0].TrialDays)
}

func TestRouter_Subscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{
			name:     "accepted",
			body:     `{"plan_key":"zuma_pro","payment_token":"tok_abc"}`,
			wantCode: http.StatusOK,
		},
		{
			name:     "malformed body",
			body:     `{`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "missing fields",
			body:     `{"plan_key":"zuma_pro"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown plan",
			body:     `{"plan_key":"nope","payment_token":"tok_abc"}`,
			err:      core.ErrPlanNotFound,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "unprovisioned plan hidden as not found",
			body:     `{"plan_key":"zuma_new","payment_token":"tok_abc"}`,
			err:      core.ErrPlanNotProvisioned,
			wantCode: http.StatusNotFound,
		},
		{
			name:     "already subscribed",
			body:     `{"plan_key":"zuma_pro","payment_token":"tok_abc"}`,
			err:      core.ErrAlreadySubscribed,
			wantCode: http.StatusConflict,
		},
		{
			name:     "authorization in flight",
			body:     `{"plan_key":"zuma_pro","payment_token":"tok_abc"}`,
			err:      &core.TransitionRejectedError{From: core.StatusPending, Input: core.InputSubscribe},
			wantCode: http.StatusConflict,
		},
		{
			name:     "processor down",
			body:     `{"plan_key":"zuma_pro","payment_token":"tok_abc"}`,
			err:      core.ErrProcessorUnavailable,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "unexpected failure",
			body:     `{"plan_key":"zuma_pro","payment_token":"tok_abc"}`,
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gateway := &stubGateway{subscribeErr: tt.err}
			router := billingmod.Router(gateway, testLogger())

			rec := doRequest(t, router, http.MethodPost, "/subscribe", uuid.NewString(), tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRouter_Subscribe_PassesRequestThrough(t *testing.T) {
	t.Parallel()

	gateway := &stubGateway{}
	router := billingmod.Router(gateway, testLogger())

	tenantID := uuid.New()
	rec := doRequest(t, router, http.MethodPost, "/subscribe", tenantID.String(),
		`{"plan_key":"zuma_pro","payment_token":"tok_abc"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, tenantID, gateway.lastTenant)
	assert.Equal(t, "zuma_pro", gateway.lastPlanKey)
	assert.Equal(t, "tok_abc", gateway.lastToken)
}

func TestRouter_Cancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"canceled", nil, http.StatusOK},
		{"no subscription", core.ErrSubscriptionNotFound, http.StatusNotFound},
		{
			// repeat cancellation is settled, not an error
			"already canceled",
			&core.TransitionRejectedError{From: core.StatusCanceled, Input: core.InputUserCancel},
			http.StatusOK,
		},
		{"unexpected failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gateway := &stubGateway{cancelErr: tt.err}
			router := billingmod.Router(gateway, testLogger())

			rec := doRequest(t, router, http.MethodPost, "/cancel", uuid.NewString(), "")
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestWebhookRouter_Receive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		outcome  core.Outcome
		err      error
		wantCode int
	}{
		{"applied", core.OutcomeApplied, nil, http.StatusOK},
		{"duplicate", core.OutcomeDuplicate, nil, http.StatusOK},
		{"ignored", core.OutcomeIgnored, nil, http.StatusOK},
		{"rejected", core.OutcomeRejected, nil, http.StatusOK},
		{"malformed", "", core.ErrMalformedPayload, http.StatusBadRequest},
		{"persistent conflict", "", core.ErrVersionConflict, http.StatusServiceUnavailable},
		{"unexpected failure", "", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reconciler := &stubReconciler{outcome: tt.outcome, err: tt.err}
			router := billingmod.WebhookRouter(reconciler, testLogger())

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"event_id":"evt_1"}`))
			req.Header.Set("Paddle-Signature", "ts=1;h1=abc")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.err == nil {
				var resp struct {
					OK      bool   `json:"ok"`
					Outcome string `json:"outcome"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.True(t, resp.OK)
				assert.Equal(t, string(tt.outcome), resp.Outcome)
				assert.Equal(t, "ts=1;h1=abc", reconciler.signature)
				assert.JSONEq(t, `{"event_id":"evt_1"}`, string(reconciler.payload))
			}
		})
	}
}
