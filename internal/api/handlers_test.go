package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/booking"
	"github.com/hackgods/voice-reservations/internal/config"
	"github.com/hackgods/voice-reservations/internal/ledger"
	"github.com/hackgods/voice-reservations/internal/resilience"
	"github.com/hackgods/voice-reservations/internal/testfixtures"
)

type testServer struct {
	handler http.Handler
	repo    *booking.MemoryRepository
	layer   *resilience.Layer
}

func newTestServer(t *testing.T, svc BookingService) testServer {
	t.Helper()
	clock := testfixtures.NewClock(testfixtures.ReferenceTime())
	repo := booking.NewMemoryRepository(clock.Now)
	if svc == nil {
		svc = booking.NewService(repo, ledger.NewKeyedLocker(), config.DefaultBookingRules(), booking.WithClock(clock.Now))
	}
	layer := resilience.NewLayer(resilience.Policy{
		MaxAttempts:      1,
		BaseDelay:        time.Millisecond,
		MaxDelay:         time.Millisecond,
		FailureThreshold: 2,
		Cooldown:         time.Minute,
	}, resilience.WithClock(clock.Now))
	return testServer{
		handler: NewRouter(RouterConfig{Service: svc, Layer: layer, Env: "test", Version: "dev"}),
		repo:    repo,
		layer:   layer,
	}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func validBody() CreateBookingRequest {
	return CreateBookingRequest{
		Date:          "2025-03-13",
		Time:          "19:00",
		PartySize:     4,
		CustomerName:  "Ada Lovelace",
		CustomerPhone: "(555) 123-4567",
	}
}

func TestCreateAndGetBooking(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/bookings", validBody())
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	created := decode[BookingResponse](t, rec)
	assert.Equal(t, "5551234567", created.CustomerPhone)
	assert.Equal(t, "confirmed", created.Status)
	assert.Len(t, created.ConfirmationCode, 8)

	rec = s.do(t, http.MethodGet, "/bookings/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[BookingResponse](t, rec).ID)
}

func TestCreateBookingShapeErrors(t *testing.T) {
	s := newTestServer(t, nil)

	body := validBody()
	body.Time = "7pm"
	rec := s.do(t, http.MethodPost, "/bookings", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "time", resp.Field)

	req := httptest.NewRequest(http.MethodPost, "/bookings", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateBookingBusinessErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateBookingRequest)
		field  string
		rule   apperr.Rule
	}{
		{"past date", func(b *CreateBookingRequest) { b.Date = "2025-03-01" }, "date", apperr.RulePastDate},
		{"party too large", func(b *CreateBookingRequest) { b.PartySize = 9 }, "party_size", apperr.RulePartyTooLarge},
		{"party too small", func(b *CreateBookingRequest) { b.PartySize = 0 }, "party_size", apperr.RulePartyTooSmall},
		{"after closing", func(b *CreateBookingRequest) { b.Time = "22:30" }, "time", apperr.RuleOutsideHours},
		{"bad phone", func(b *CreateBookingRequest) { b.CustomerPhone = "12345" }, "customer_phone", apperr.RuleFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			body := validBody()
			tt.mutate(&body)

			rec := s.do(t, http.MethodPost, "/bookings", body)
			require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.field, resp.Field)
			assert.Equal(t, string(tt.rule), resp.Rule)

			rec = s.do(t, http.MethodPost, "/bookings/validate", body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		})
	}
}

func TestValidateEndpointAcceptsValidRequest(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/bookings/validate", validBody())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ValidationResponse](t, rec).Valid)
	assert.Empty(t, s.repo.Bookings())
}

func TestCreateBookingCapacityConflict(t *testing.T) {
	s := newTestServer(t, nil)
	// generate the day's slots so neighbours exist
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/availability?date=2025-03-13", nil).Code)

	// Fill 19:00 (capacity 50) with six parties of eight and one of two.
	for i := 0; i < 6; i++ {
		body := validBody()
		body.PartySize = 8
		body.CustomerPhone = "555000000" + string(rune('0'+i))
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/bookings", body).Code)
	}
	body := validBody()
	body.PartySize = 2
	body.CustomerPhone = "5550000009"
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/bookings", body).Code)

	rec := s.do(t, http.MethodPost, "/bookings", validBody())
	require.Equal(t, http.StatusConflict, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "capacity_exceeded", resp.Error)
	require.NotEmpty(t, resp.Alternatives)
	assert.Equal(t, "19:30", resp.Alternatives[0].Time)
}

func TestCancelBooking(t *testing.T) {
	s := newTestServer(t, nil)

	created := decode[BookingResponse](t, s.do(t, http.MethodPost, "/bookings", validBody()))

	rec := s.do(t, http.MethodPost, "/bookings/"+created.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[BookingResponse](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/bookings/"+created.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGetBookingErrors(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/bookings/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/bookings/"+uuid.NewString(), nil).Code)
}

func TestAvailability(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/availability?date=2025-03-13&party_size=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[AvailabilityResponse](t, rec)
	require.NotEmpty(t, resp.Slots)
	assert.Equal(t, "11:00", resp.Slots[0].Time)
	assert.Equal(t, "21:30", resp.Slots[len(resp.Slots)-1].Time)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/availability?date=tomorrow", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/availability?date=2025-03-13&party_size=0", nil).Code)
}

type downService struct{ BookingService }

func (downService) CreateBooking(context.Context, booking.Request) (*booking.Booking, error) {
	return nil, apperr.Transient("create booking", errors.New("connection refused"))
}

func TestUnavailableDependencyOpensCircuit(t *testing.T) {
	s := newTestServer(t, downService{})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/bookings", validBody()).Code)
	}

	// The breaker is open now; the call is refused without reaching the service.
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodPost, "/bookings", validBody()).Code)

	rec := s.do(t, http.MethodGet, "/health/breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	breakers := decode[[]BreakerResponse](t, rec)
	require.Len(t, breakers, 1)
	assert.Equal(t, "open", breakers[0].State)

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[ReadinessResponse](t, rec).Status)
}

func TestLiveness(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)
}
