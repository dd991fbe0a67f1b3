package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/quill/internal/domain"
	"github.com/DukeRupert/quill/internal/service"
)

// CalendarHandler serves the seven-day schedule view.
type CalendarHandler struct {
	calendar    service.CalendarService
	defaultZone *time.Location
	logger      *slog.Logger
}

// NewCalendarHandler creates a new CalendarHandler. defaultZone is used
// when the request names no timezone; nil means UTC.
func NewCalendarHandler(calendar service.CalendarService, defaultZone *time.Location, logger *slog.Logger) *CalendarHandler {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	return &CalendarHandler{
		calendar:    calendar,
		defaultZone: defaultZone,
		logger:      logger,
	}
}

// RegisterRoutes registers calendar routes on the provided mux.
func (h *CalendarHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/calendar", requireUser(http.HandlerFunc(h.Show)))
}

// Show handles GET /api/calendar?tz=Europe/Berlin. Days are computed in the
// viewer's timezone on every request.
func (h *CalendarHandler) Show(w http.ResponseWriter, r *http.Request) {
	const op = "handler.calendar.show"

	uid, err := userID(r, op)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	loc := h.defaultZone
	if tz := r.URL.Query().Get("tz"); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.NewValidationError(op, "tz", "Unknown timezone"))
			return
		}
	}

	cal, err := h.calendar.Calendar(r.Context(), uid, loc)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newCalendarResponse(cal))
}
