package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clinicbook/internal/config"
	"clinicbook/internal/domain"
	"clinicbook/internal/models"
	"clinicbook/internal/service"
)

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) booking(args mock.Arguments) (*models.Booking, error) {
	b, _ := args.Get(0).(*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) bookings(args mock.Arguments) ([]*models.Booking, error) {
	b, _ := args.Get(0).([]*models.Booking)
	return b, args.Error(1)
}

func (m *mockBookings) Create(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error) {
	return m.booking(m.Called(ctx, req))
}

func (m *mockBookings) Cancel(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	return m.booking(m.Called(ctx, tenantID, bookingID))
}

func (m *mockBookings) Reschedule(ctx context.Context, tenantID, bookingID string, newStart time.Time) (*models.Booking, error) {
	return m.booking(m.Called(ctx, tenantID, bookingID, newStart))
}

func (m *mockBookings) Confirm(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	return m.booking(m.Called(ctx, tenantID, bookingID))
}

func (m *mockBookings) Complete(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	return m.booking(m.Called(ctx, tenantID, bookingID))
}

func (m *mockBookings) MarkNoShow(ctx context.Context, tenantID, bookingID string) (*models.Booking, error) {
	return m.booking(m.Called(ctx, tenantID, bookingID))
}

func (m *mockBookings) ListUpcoming(ctx context.Context, tenantID, phone string, includePast bool) ([]*models.Booking, error) {
	return m.bookings(m.Called(ctx, tenantID, phone, includePast))
}

func (m *mockBookings) ListDay(ctx context.Context, tenantID string, date time.Time) ([]*models.Booking, error) {
	return m.bookings(m.Called(ctx, tenantID, date))
}

func (m *mockBookings) AvailableSlots(ctx context.Context, req service.AvailabilityRequest) ([]time.Time, error) {
	args := m.Called(ctx, req)
	slots, _ := args.Get(0).([]time.Time)
	return slots, args.Error(1)
}

type mockProfessionals struct {
	mock.Mock
}

func (m *mockProfessionals) Create(ctx context.Context, p *models.Professional) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockProfessionals) List(ctx context.Context, tenantID string, activeOnly bool) ([]*models.Professional, error) {
	args := m.Called(ctx, tenantID, activeOnly)
	list, _ := args.Get(0).([]*models.Professional)
	return list, args.Error(1)
}

func (m *mockProfessionals) SetHours(ctx context.Context, tenantID, id string, hours *models.WeeklyHours) error {
	return m.Called(ctx, tenantID, id, hours).Error(0)
}

func (m *mockProfessionals) Deactivate(ctx context.Context, tenantID, id string) error {
	return m.Called(ctx, tenantID, id).Error(0)
}

func (m *mockProfessionals) SetDefault(ctx context.Context, tenantID, id string) error {
	return m.Called(ctx, tenantID, id).Error(0)
}

func testLogger() *zerolog.Logger {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	return &logger
}

func newTestServer(t *testing.T, cfg config.APIConfig) (*httptest.Server, *mockBookings, *mockProfessionals) {
	bookings := new(mockBookings)
	pros := new(mockProfessionals)
	srv := NewHTTPServer(cfg, bookings, pros, testLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, bookings, pros
}

func do(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateBooking(t *testing.T) {
	ts, bookings, _ := newTestServer(t, config.APIConfig{})
	start := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	bookings.On("Create", mock.Anything, service.CreateBookingRequest{
		TenantID:    "clinic-1",
		PatientName: "Maria Silva",
		Phone:       "11999999999",
		Start:       start,
		ServiceName: "Limpeza",
	}).Return(&models.Booking{ID: "b1", TenantID: "clinic-1", Start: start, Status: models.StatusConfirmed}, nil).Once()

	body := `{"patient_name":"Maria Silva","phone":"11999999999","start":"2026-10-19T12:00:00Z","service_name":"Limpeza"}`
	resp := do(t, http.MethodPost, ts.URL+"/api/v1/tenants/clinic-1/bookings", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	got := decode[bookingResponse](t, resp)
	assert.Equal(t, "b1", got.Booking.ID)
	assert.Equal(t, models.StatusConfirmed, got.Booking.Status)
	bookings.AssertExpectations(t)
}

func TestCreateBookingInvalidBody(t *testing.T) {
	ts, bookings, _ := newTestServer(t, config.APIConfig{})

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/tenants/clinic-1/bookings", `{"patient":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/tenants/clinic-1/bookings", `{"unknown_field":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	bookings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestServiceErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"Validation", domain.Invalid("phone", "is required"), http.StatusBadRequest},
		{"NotFound", fmt.Errorf("booking b1: %w", domain.ErrNotFound), http.StatusNotFound},
		{"OutsideHours", domain.ErrOutsideBusinessHours, http.StatusUnprocessableEntity},
		{"SlotTaken", domain.ErrSlotUnavailable, http.StatusConflict},
		{"NoProfessional", domain.ErrNoProfessionalAvailable, http.StatusConflict},
		{"AlreadyCancelled", domain.ErrAlreadyCancelled, http.StatusConflict},
		{"Transition", domain.ErrInvalidTransition, http.StatusConflict},
		{"Store", fmt.Errorf("insert booking: %w", domain.ErrTransientStore), http.StatusServiceUnavailable},
		{"Unknown", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, bookings, _ := newTestServer(t, config.APIConfig{})
			bookings.On("Cancel", mock.Anything, "clinic-1", "b1").Return(nil, tt.err)

			resp := do(t, http.MethodPost, ts.URL+"/api/v1/tenants/clinic-1/bookings/b1/cancel", "", nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			got := decode[map[string]string](t, resp)
			assert.NotEmpty(t, got["error"])
		})
	}
}

func TestStoreErrorsAreNotLeaked(t *testing.T) {
	ts, bookings, _ := newTestServer(t, config.APIConfig{})
	bookings.On("Confirm", mock.Anything, "clinic-1", "b1").
		Return(nil, fmt.Errorf("database is locked: %w", domain.ErrTransientStore))

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/tenants/clinic-1/bookings/b1/confirm", "", nil)
	got := decode[map[string]string](t, resp)
	assert.Equal(t, "temporary failure, please try again", got["error"])
}

func TestTransitions(t *testing.T) {
	ts, bookings, _ := newTestServer(t, config.APIConfig{})
	for _, method := range []string{"Confirm", "Complete", "MarkNoShow"} {
		bookings.On(method, mock.Anything, "clinic-1", "b1").
			Return(&models.Booking{ID: "b1", Status: method}, nil).Once()
	}

	for path, want := range map[string]string{"confirm": "Confirm", "complete": "Complete", "no-show": "MarkNoShow"} {
		resp := do(t, http.MethodPost, ts.URL+"/api/v1/tenants/clinic-1/bookings/b1/"+path, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, want, decode[bookingResponse](t, resp).Booking.Status)
	}
	bookings.AssertExpectations(t)
}

func TestReschedule(t *testing.T) {
	ts, bookings, _ := newTestServer(t, config.APIConfig{})
	newStart := time.Date(2026, 10, 19, 12, 15, 0, 0, time.UTC)
	bookings.On("Reschedule", mock.Anything, "clinic-1", "b1", mock.MatchedBy(func(start time.Time) bool {
		return start.Equal(newStart)
	})).Return(&models.Booking{ID: "b1", Start: newStart}, nil).Once()

	resp := do(t, http.MethodPost, ts.URL+"/api/v1/tenants/clinic-1/bookings/b1/reschedule",
		`{"start":"2026-10-19T12:15:00Z"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, newStart.Equal(decode[bookingResponse](t, resp).Booking.Start))
	bookings.AssertExpectations(t)
}

func TestListBookings(t *testing.T) {
	ts, bookings, _ := newTestServer(t, config.APIConfig{})

	t.Run("ByPhone", func(t *testing.T) {
		bookings.On("ListUpcoming", mock.Anything, "clinic-1", "11999999999", true).
			Return([]*models.Booking{{ID: "b1"}, {ID: "b2"}}, nil).Once()

		resp := do(t, http.MethodGet, ts.URL+"/api/v1/tenants/clinic-1/bookings?phone=11999999999&include_past=true", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[bookingsResponse](t, resp).Bookings, 2)
	})

	t.Run("ByDay", func(t *testing.T) {
		day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
		bookings.On("ListDay", mock.Anything, "clinic-1", day).Return(nil, nil).Once()

		resp := do(t, http.MethodGet, ts.URL+"/api/v1/tenants/clinic-1/bookings?date=2026-10-19", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got := decode[bookingsResponse](t, resp)
		assert.NotNil(t, got.Bookings)
		assert.Empty(t, got.Bookings)
	})

	t.Run("MissingFilter", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/tenants/clinic-1/bookings", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("BadDate", func(t *testing.T) {
		resp := do(t, http.MethodGet, ts.URL+"/api/v1/tenants/clinic-1/bookings?date=19/10/2026", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
	bookings.AssertExpectations(t)
}

func TestSlots(t *testing.T) {
	ts, bookings, _ := newTestServer(t, config.APIConfig{})
	day := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	slots := []time.Time{day.Add(11 * time.Hour), day.Add(11*time.Hour + 15*time.Minute)}
	bookings.On("AvailableSlots", mock.Anything, service.AvailabilityRequest{
		TenantID:       "clinic-1",
		Date:           day,
		ServiceName:    "Limpeza",
		ProfessionalID: "p1",
	}).Return(slots, nil).Once()

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/tenants/clinic-1/slots?date=2026-10-19&service=Limpeza&professional_id=p1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[slotsResponse](t, resp)
	assert.Equal(t, "2026-10-19", got.Date)
	assert.Len(t, got.Slots, 2)

	resp = do(t, http.MethodGet, ts.URL+"/api/v1/tenants/clinic-1/slots", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	bookings.AssertExpectations(t)
}

func TestProfessionals(t *testing.T) {
	ts, _, pros := newTestServer(t, config.APIConfig{})
	base := ts.URL + "/api/v1/tenants/clinic-1/professionals"

	t.Run("Create", func(t *testing.T) {
		pros.On("Create", mock.Anything, mock.MatchedBy(func(p *models.Professional) bool {
			return p.TenantID == "clinic-1" && p.Name == "Ana" && p.Hours != nil && p.Hours[models.Monday].Open
		})).Run(func(args mock.Arguments) {
			p := args.Get(1).(*models.Professional)
			p.ID = "p1"
			p.Active = true
			p.IsDefault = true
		}).Return(nil).Once()

		resp := do(t, http.MethodPost, base, `{"name":"Ana","hours":{"0":{"start":"08:00","end":"12:00","active":true}}}`, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		got := decode[professionalResponse](t, resp)
		assert.Equal(t, "p1", got.Professional.ID)
		assert.True(t, got.Professional.IsDefault)
	})

	t.Run("List", func(t *testing.T) {
		pros.On("List", mock.Anything, "clinic-1", false).Return([]*models.Professional{{ID: "p1"}}, nil).Once()

		resp := do(t, http.MethodGet, base+"?active=false", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode[professionalsResponse](t, resp).Professionals, 1)

		resp = do(t, http.MethodGet, base+"?active=maybe", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("ClearHours", func(t *testing.T) {
		pros.On("SetHours", mock.Anything, "clinic-1", "p1", (*models.WeeklyHours)(nil)).Return(nil).Once()

		resp := do(t, http.MethodPut, base+"/p1/hours", `{"hours":null}`, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("DeactivateLast", func(t *testing.T) {
		pros.On("Deactivate", mock.Anything, "clinic-1", "p1").Return(domain.ErrLastActiveProfessional).Once()

		resp := do(t, http.MethodPost, base+"/p1/deactivate", "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, domain.ErrLastActiveProfessional.Error(), decode[map[string]string](t, resp)["error"])
	})

	t.Run("SetDefault", func(t *testing.T) {
		pros.On("SetDefault", mock.Anything, "clinic-1", "p2").Return(nil).Once()

		resp := do(t, http.MethodPost, base+"/p2/default", "", nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
	pros.AssertExpectations(t)
}

func TestRouting(t *testing.T) {
	ts, _, _ := newTestServer(t, config.APIConfig{})

	resp := do(t, http.MethodGet, ts.URL+"/api/v1/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodDelete, ts.URL+"/api/v1/tenants/clinic-1/bookings", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "X-API-Key",
			APIKeys: []config.APIClientKey{
				{Key: "frontdesk-key", Name: "frontdesk", Tenants: []string{"clinic-1"}},
				{Key: "agent-key", Name: "agent"},
			},
		},
	}
	ts, bookings, _ := newTestServer(t, cfg)
	bookings.On("Confirm", mock.Anything, mock.Anything, "b1").Return(&models.Booking{ID: "b1"}, nil)

	tests := []struct {
		name   string
		tenant string
		key    string
		status int
	}{
		{"MissingKey", "clinic-1", "", http.StatusUnauthorized},
		{"InvalidKey", "clinic-1", "nope", http.StatusUnauthorized},
		{"ScopedKey", "clinic-1", "frontdesk-key", http.StatusOK},
		{"OtherTenant", "clinic-2", "frontdesk-key", http.StatusForbidden},
		{"UnscopedKey", "clinic-2", "agent-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.key != "" {
				headers["X-API-Key"] = tt.key
			}
			resp := do(t, http.MethodPost, ts.URL+"/api/v1/tenants/"+tt.tenant+"/bookings/b1/confirm", "", headers)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}}
	ts, bookings, _ := newTestServer(t, cfg)
	bookings.On("Confirm", mock.Anything, "clinic-1", "b1").Return(&models.Booking{ID: "b1"}, nil)

	url := ts.URL + "/api/v1/tenants/clinic-1/bookings/b1/confirm"
	headers := map[string]string{"X-API-Key": "k1"}
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, url, "", headers).StatusCode)
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, url, "", headers).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, do(t, http.MethodPost, url, "", headers).StatusCode)

	// a different key has its own bucket
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, url, "", map[string]string{"X-API-Key": "k2"}).StatusCode)
}
