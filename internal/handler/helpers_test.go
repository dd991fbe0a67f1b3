package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/DukeRupert/quill/internal/ai/mock"
	"github.com/DukeRupert/quill/internal/auth"
	"github.com/DukeRupert/quill/internal/autosave"
	"github.com/DukeRupert/quill/internal/billing"
	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/service"
	"github.com/DukeRupert/quill/internal/store/memory"
	"github.com/DukeRupert/quill/internal/watch"
)

var envNow = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// requireTestUser mirrors middleware.RequireUser without the token layer.
func requireTestUser(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.GetUser(r.Context()) == nil {
				UnauthorizedResponse(w, r, logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func passThrough(next http.Handler) http.Handler { return next }

type testEnv struct {
	store       *memory.Store
	posts       service.PostService
	gate        service.EntitlementGate
	scorer      *mock.Provider
	billing     *fakeBilling
	postChanges *watch.Registry[domain.PostChange]
	subChanges  *watch.Registry[*domain.Subscription]
	mux         *http.ServeMux
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()
	now := func() time.Time { return envNow }

	env := &testEnv{
		store:       memory.New(),
		scorer:      mock.New(logger),
		billing:     newFakeBilling(),
		postChanges: watch.NewRegistry[domain.PostChange](),
		subChanges:  watch.NewRegistry[*domain.Subscription](),
		mux:         http.NewServeMux(),
	}
	env.posts = service.NewPostService(env.store, env.postChanges, logger, now)
	env.gate = service.NewEntitlementGate(env.store, env.store, env.subChanges, logger, now)
	rating := service.NewRatingService(env.posts, env.gate, env.scorer, false, logger)
	calendar := service.NewCalendarService(env.store, logger, now)
	drafts := autosave.NewManager(env.posts, time.Hour, logger)
	t.Cleanup(func() { _ = drafts.Close(t.Context()) })

	requireUser := requireTestUser(logger)
	NewPostHandler(env.posts, rating, drafts, env.postChanges, logger).RegisterRoutes(env.mux, requireUser, passThrough)
	NewCalendarHandler(calendar, time.UTC, logger).RegisterRoutes(env.mux, requireUser)
	NewEntitlementHandler(env.gate, env.subChanges, logger).RegisterRoutes(env.mux, requireUser)
	NewBillingHandler(env.billing, env.gate, "https://quill.test", logger).RegisterRoutes(env.mux, requireUser)
	NewWebhookHandler(env.billing, env.gate, env.store, logger).RegisterRoutes(env.mux)
	return env
}

// do sends a request as userID ("" for anonymous) with an optional JSON body.
func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req = req.WithContext(auth.SetUser(req.Context(), &auth.User{ID: userID, Email: userID + "@example.com"}))
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createPost(t *testing.T, userID, title string) PostResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/posts", userID, map[string]any{"title": title, "body": "body text", "tags": []string{"go"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[PostResponse](t, rec)
}

// fakeBilling is an in-memory billing.Service. Webhook payloads are
// accepted when the signature header is "valid".
type fakeBilling struct {
	prices billing.PriceConfig

	lastCheckout billing.CheckoutParams
	checkoutErr  error
	portalFor    string
	canceled     []string
	reactivated  []string
}

var _ billing.Service = (*fakeBilling)(nil)

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		prices: billing.PriceConfig{
			StarterMonthlyPriceID: "price_starter",
			ProMonthlyPriceID:     "price_pro",
		},
	}
}

func (f *fakeBilling) CreateCheckoutSession(p billing.CheckoutParams) (string, error) {
	f.lastCheckout = p
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	if _, ok := f.prices.PriceIDFor(p.Tier, p.Yearly); !ok {
		return "", billing.ErrNoPrice
	}
	return "https://checkout.stripe.test/" + p.UserID, nil
}

func (f *fakeBilling) CreatePortalSession(customerID, returnURL string) (string, error) {
	f.portalFor = customerID
	return "https://billing.stripe.test/" + customerID, nil
}

func (f *fakeBilling) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	return &stripe.Subscription{ID: subscriptionID, CurrentPeriodEnd: envNow.AddDate(0, 1, 0).Unix()}, nil
}

func (f *fakeBilling) CancelSubscription(subscriptionID string) error {
	f.canceled = append(f.canceled, subscriptionID)
	return nil
}

func (f *fakeBilling) ReactivateSubscription(subscriptionID string) error {
	f.reactivated = append(f.reactivated, subscriptionID)
	return nil
}

func (f *fakeBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	if signature != "valid" {
		return stripe.Event{}, errors.New("bad signature")
	}
	var event stripe.Event
	err := json.Unmarshal(payload, &event)
	return event, err
}

func (f *fakeBilling) TierForPriceID(priceID string) (domain.TierID, bool) {
	switch priceID {
	case f.prices.StarterMonthlyPriceID:
		return domain.TierStarter, true
	case f.prices.ProMonthlyPriceID:
		return domain.TierPro, true
	}
	return "", false
}
