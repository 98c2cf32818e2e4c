package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/resilience"
)

const dependencyBooking = "booking"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type bookingHandlers struct {
	svc    BookingService
	layer  *resilience.Layer
	logger *zap.Logger
}

func (h *bookingHandlers) create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBookingRequest(w, r)
	if !ok {
		return
	}

	b, err := resilience.Call(r.Context(), h.layer, dependencyBooking,
		resilience.NewProvider("service", func(ctx context.Context) (*booking.Booking, error) {
			return h.svc.CreateBooking(ctx, req)
		}))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *bookingHandlers) validateBooking(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBookingRequest(w, r)
	if !ok {
		return
	}

	if err := h.svc.ValidateBookingRequest(req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ValidationResponse{Valid: true})
}

func (h *bookingHandlers) get(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}

	b, err := h.svc.GetBooking(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *bookingHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}

	b, err := resilience.Call(r.Context(), h.layer, dependencyBooking,
		resilience.NewProvider("service", func(ctx context.Context) (*booking.Booking, error) {
			return h.svc.CancelBooking(ctx, id)
		}))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *bookingHandlers) availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	date, err := civil.ParseDate(q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	party := 1
	if raw := q.Get("party_size"); raw != "" {
		party, err = strconv.Atoi(raw)
		if err != nil || party < 1 {
			writeError(w, http.StatusBadRequest, "invalid_party_size", "party_size must be a positive integer")
			return
		}
	}

	slots, err := h.svc.GetAvailableSlots(r.Context(), date, party)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Date:      date.String(),
		PartySize: party,
		Slots:     toSlotResponses(slots),
	})
}

func decodeBookingRequest(w http.ResponseWriter, r *http.Request) (booking.Request, bool) {
	var body CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return booking.Request{}, false
	}

	if err := validate.Struct(body); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Details: fe.Error(),
				Field:   fe.Field(),
				Rule:    fe.Tag(),
			})
			return booking.Request{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return booking.Request{}, false
	}

	// both already passed the datetime check
	date, _ := civil.ParseDate(body.Date)
	at, _ := config.ParseClock(body.Time)

	return booking.Request{
		Date:            date,
		Time:            at,
		PartySize:       body.PartySize,
		CustomerName:    body.CustomerName,
		CustomerPhone:   body.CustomerPhone,
		CustomerEmail:   body.CustomerEmail,
		SpecialRequests: body.SpecialRequests,
	}, true
}

func bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *bookingHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	e, _ := apperr.As(err)

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Details: e.Msg,
			Field:   e.Field,
			Rule:    string(e.Rule),
		})
	case apperr.KindCapacityExceeded:
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:        "capacity_exceeded",
			Details:      e.Msg,
			Alternatives: toAlternativeResponses(e.Alternatives),
		})
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, "booking_not_found", err.Error())
	case apperr.KindCircuitOpen, apperr.KindTransientInfra, apperr.KindDependency:
		h.logger.Warn("booking unavailable", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", "the booking system is busy, please retry shortly")
	default:
		h.logger.Error("unexpected error", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
