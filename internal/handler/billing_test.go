package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/quill/internal/domain"
)

func TestBillingHandler_CreateCheckout(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/billing/checkout", "u1", map[string]any{"tier": "starter"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://checkout.stripe.test/u1", decodeBody[map[string]string](t, rec)["url"])

	assert.Equal(t, "u1", env.billing.lastCheckout.UserID)
	assert.Equal(t, domain.TierStarter, env.billing.lastCheckout.Tier)
	assert.Equal(t, "u1@example.com", env.billing.lastCheckout.Email)
	assert.Contains(t, env.billing.lastCheckout.SuccessURL, "https://quill.test/")

	// Checkout alone never changes the plan
	sub, err := env.gate.Subscription(t.Context(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, sub.Tier)
}

func TestBillingHandler_CreateCheckoutValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"free tier", map[string]any{"tier": "free"}},
		{"unknown tier", map[string]any{"tier": "gold"}},
		{"no price for interval", map[string]any{"tier": "pro", "yearly": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/billing/checkout", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestBillingHandler_PortalNeedsCustomer(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/billing/portal", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := env.gate.ApplyPlanChange(t.Context(), domain.PlanChange{
		UserID:               "u1",
		Tier:                 domain.TierStarter,
		Status:               domain.SubscriptionStatusActive,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/billing/portal", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cus_1", env.billing.portalFor)
}

func TestBillingHandler_CancelAndReactivate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/billing/cancel", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, err := env.gate.ApplyPlanChange(t.Context(), domain.PlanChange{
		UserID:               "u1",
		Tier:                 domain.TierPro,
		Status:               domain.SubscriptionStatusActive,
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/billing/cancel", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/billing/reactivate", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []string{"sub_1"}, env.billing.canceled)
	assert.Equal(t, []string{"sub_1"}, env.billing.reactivated)

	rec = env.do(t, http.MethodGet, "/api/billing", "u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[billingStatusResponse](t, rec)
	assert.Equal(t, "pro", status.Subscription.Tier)
	assert.NotNil(t, status.PeriodEnd)
}

func TestBillingHandler_NotConfigured(t *testing.T) {
	env := newTestEnv(t)
	mux := http.NewServeMux()
	NewBillingHandler(nil, env.gate, "https://quill.test", testLogger()).RegisterRoutes(mux, requireTestUser(testLogger()))
	env.mux = mux

	rec := env.do(t, http.MethodPost, "/api/billing/checkout", "u1", map[string]any{"tier": "pro"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
