package handler

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/service"
	"github.com/DukeRupert/quill/internal/watch"
)

// EntitlementHandler exposes plans, the caller's subscription and their
// metered usage.
type EntitlementHandler struct {
	gate    service.EntitlementGate
	changes *watch.Registry[*domain.Subscription]
	logger  *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler. changes may be
// nil, which disables the subscription stream.
func NewEntitlementHandler(gate service.EntitlementGate, changes *watch.Registry[*domain.Subscription], logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		gate:    gate,
		changes: changes,
		logger:  logger,
	}
}

// RegisterRoutes registers entitlement routes. The plan catalog is public.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.HandleFunc("GET /api/plans", h.Plans)
	mux.Handle("GET /api/entitlement", requireUser(http.HandlerFunc(h.Entitlement)))
	mux.Handle("GET /api/usage", requireUser(http.HandlerFunc(h.Usage)))
	mux.Handle("GET /api/subscription", requireUser(http.HandlerFunc(h.Subscription)))
	if h.changes != nil {
		mux.Handle("GET /api/subscription/stream", requireUser(http.HandlerFunc(h.Stream)))
	}
}

// Plans handles GET /api/plans.
func (h *EntitlementHandler) Plans(w http.ResponseWriter, r *http.Request) {
	plans := domain.Plans()
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, newPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"plans": out})
}

// Entitlement handles GET /api/entitlement.
func (h *EntitlementHandler) Entitlement(w http.ResponseWriter, r *http.Request) {
	const op = "handler.entitlement.check"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	e, err := h.gate.CheckEntitlement(r.Context(), uid)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntitlementResponse(e))
}

// Usage handles GET /api/usage.
func (h *EntitlementHandler) Usage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.entitlement.usage"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	u, err := h.gate.Usage(r.Context(), uid)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUsageResponse(u))
}

// Subscription handles GET /api/subscription.
func (h *EntitlementHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	const op = "handler.entitlement.subscription"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sub, err := h.gate.Subscription(r.Context(), uid)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionResponse(sub))
}

// Stream handles GET /api/subscription/stream. The current subscription
// is sent first, then every change.
func (h *EntitlementHandler) Stream(w http.ResponseWriter, r *http.Request) {
	const op = "handler.entitlement.stream"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	sub, err := h.gate.Subscription(r.Context(), uid)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	encode := func(s *domain.Subscription) sseEvent {
		return sseEvent{Name: "subscription", Data: newSubscriptionResponse(s)}
	}
	serveStream(w, r, h.logger, "subscription", h.changes, uid, []sseEvent{encode(sub)}, encode)
}
