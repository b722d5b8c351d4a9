package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/events"
	"clinicbook/internal/locking"
	"clinicbook/internal/models"
	"clinicbook/internal/service"
)

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

// TestBookingFlow drives the real services through the API.
func TestBookingFlow(t *testing.T) {
	logger := testLogger()
	db, err := database.NewDB(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	weekday := models.RawDay{Start: "08:00", End: "18:00", Active: true}
	cfg := &config.Config{Tenants: []models.Tenant{{
		ID:       "clinic-1",
		Name:     "Clinica Sorriso",
		TimeZone: "America/Sao_Paulo",
		BusinessHours: map[string]models.RawDay{
			"0": weekday, "1": weekday, "2": weekday, "3": weekday, "4": weekday,
		},
		Services:  []models.Service{{Name: "Limpeza", Duration: 30}},
		Reminders: models.ReminderSettings{Enabled: true, DayBefore: true, HourBefore: true},
	}}}
	require.NoError(t, config.ValidateTenants(cfg.Tenants))

	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)
	clock := fixedClock(time.Date(2026, 10, 15, 10, 0, 0, 0, loc))

	scheduler := service.NewReminderScheduler(clock, logger)
	bookings := service.NewBookingService(db, locking.NewMemoryLocker(), cfg, scheduler, events.NewEventBus(),
		clock, config.BookingConfig{}, logger)
	pros := service.NewProfessionalService(db, cfg, clock, config.BookingConfig{}, logger)

	srv := NewHTTPServer(config.APIConfig{}, bookings, pros, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	base := ts.URL + "/api/v1/tenants/clinic-1"

	resp := do(t, http.MethodPost, base+"/professionals", `{"name":"Ana"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ana := decode[professionalResponse](t, resp).Professional
	assert.True(t, ana.IsDefault)

	// 09:00 on Monday 2026-10-19 in Sao Paulo
	body := `{"patient_name":"Maria Silva","phone":"(11) 99999-9999","start":"2026-10-19T09:00:00-03:00","service_name":"Limpeza"}`
	resp = do(t, http.MethodPost, base+"/bookings", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[bookingResponse](t, resp).Booking
	assert.Equal(t, ana.ID, created.ProfessionalID)
	assert.Equal(t, models.StatusConfirmed, created.Status)

	resp = do(t, http.MethodPost, base+"/bookings", body, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "the only professional is busy")

	resp = do(t, http.MethodGet, base+"/slots?date=2026-10-19&service=Limpeza", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slots := decode[slotsResponse](t, resp).Slots
	require.NotEmpty(t, slots)
	for _, s := range slots {
		assert.False(t, s.Equal(created.Start), "booked start must not be offered")
	}

	resp = do(t, http.MethodGet, base+"/bookings?phone=11999999999", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[bookingsResponse](t, resp).Bookings, 1)

	resp = do(t, http.MethodPost, base+"/bookings/"+created.ID+"/cancel", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusCancelled, decode[bookingResponse](t, resp).Booking.Status)

	resp = do(t, http.MethodPost, base+"/bookings/"+created.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = do(t, http.MethodPost, base+"/bookings/missing/confirm", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, base+"/professionals/"+ana.ID+"/deactivate", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "last active professional stays")

	resp = do(t, http.MethodPost, ts.URL+"/api/v1/tenants/other/bookings", body, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
