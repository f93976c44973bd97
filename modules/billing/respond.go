package billing

import (
	"encoding/json"
	"net/http"
	"time"

	core "github.com/zumahq/billing/pkg/billing"
)

// statusResponse is the polled read contract.
type statusResponse struct {
	OK                 bool          `json:"ok"`
	SubscriptionStatus core.Status   `json:"subscription_status"`
	TrialEndsAt        *time.Time    `json:"trial_ends_at,omitempty"`
	CurrentPeriodEnd   *time.Time    `json:"current_period_end,omitempty"`
	Plan               *planResponse `json:"plan,omitempty"`
}

type planResponse struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	PriceAmount int64  `json:"price_amount"`
	Currency    string `json:"currency"`
	TrialDays   int    `json:"trial_days,omitempty"`
}

type plansResponse struct {
	OK    bool           `json:"ok"`
	Plans []planResponse `json:"plans"`
}

func newPlansResponse(plans []core.Plan) plansResponse {
	resp := plansResponse{OK: true, Plans: make([]planResponse, 0, len(plans))}
	for _, p := range plans {
		resp.Plans = append(resp.Plans, planResponse{
			Key:         p.Key,
			Name:        p.Name,
			PriceAmount: p.Price.Amount,
			Currency:    p.Price.Currency,
			TrialDays:   p.TrialDays,
		})
	}
	return resp
}

type messageResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func newStatusResponse(view *core.StatusView) statusResponse {
	resp := statusResponse{
		OK:                 true,
		SubscriptionStatus: view.Status,
		TrialEndsAt:        view.TrialEndsAt,
		CurrentPeriodEnd:   view.CurrentPeriodEnd,
	}
	if view.Plan != nil {
		resp.Plan = &planResponse{
			Key:         view.Plan.Key,
			Name:        view.Plan.Name,
			PriceAmount: view.Plan.Price.Amount,
			Currency:    view.Plan.Price.Currency,
			TrialDays:   view.Plan.TrialDays,
		}
	}
	return resp
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondOK(w http.ResponseWriter, message string) {
	respondJSON(w, http.StatusOK, messageResponse{OK: true, Message: message})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, messageResponse{OK: false, Message: message})
}
