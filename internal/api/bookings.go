package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"clinicbook/internal/models"
	"clinicbook/internal/service"
)

const dateLayout = "2006-01-02"

type createBookingRequest struct {
	PatientName     string    `json:"patient_name"`
	Phone           string    `json:"phone"`
	Start           time.Time `json:"start"`
	ServiceName     string    `json:"service_name"`
	DurationMinutes int       `json:"duration_minutes"`
	Notes           string    `json:"notes"`
	ProfessionalID  string    `json:"professional_id"`
	Status          string    `json:"status"`
}

type rescheduleRequest struct {
	Start time.Time `json:"start"`
}

type bookingResponse struct {
	Booking *models.Booking `json:"booking"`
}

type bookingsResponse struct {
	Bookings []*models.Booking `json:"bookings"`
}

type slotsResponse struct {
	Date  string      `json:"date"`
	Slots []time.Time `json:"slots"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body createBookingRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	booking, err := s.bookings.Create(r.Context(), service.CreateBookingRequest{
		TenantID:       mux.Vars(r)["tenantId"],
		PatientName:    body.PatientName,
		Phone:          body.Phone,
		Start:          body.Start,
		ServiceName:    body.ServiceName,
		Duration:       body.DurationMinutes,
		Notes:          body.Notes,
		ProfessionalID: body.ProfessionalID,
		Status:         body.Status,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse{Booking: booking})
}

// handleListBookings lists a patient's bookings when phone is given, or the
// whole tenant day when date is given.
func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request) {
	tenantID := mux.Vars(r)["tenantId"]
	query := r.URL.Query()
	phone := strings.TrimSpace(query.Get("phone"))
	dateStr := strings.TrimSpace(query.Get("date"))

	var (
		bookings []*models.Booking
		err      error
	)
	switch {
	case phone != "":
		includePast, _ := strconv.ParseBool(query.Get("include_past"))
		bookings, err = s.bookings.ListUpcoming(r.Context(), tenantID, phone, includePast)
	case dateStr != "":
		date, perr := time.Parse(dateLayout, dateStr)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
			return
		}
		bookings, err = s.bookings.ListDay(r.Context(), tenantID, date)
	default:
		writeError(w, http.StatusBadRequest, "phone or date is required")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if bookings == nil {
		bookings = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, bookingsResponse{Bookings: bookings})
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var body rescheduleRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	vars := mux.Vars(r)
	booking, err := s.bookings.Reschedule(r.Context(), vars["tenantId"], vars["bookingId"], body.Start)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse{Booking: booking})
}

type bookingAction func(ctx context.Context, tenantID, bookingID string) (*models.Booking, error)

func (s *HTTPServer) transitionHandler(action bookingAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		booking, err := action(r.Context(), vars["tenantId"], vars["bookingId"])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, bookingResponse{Booking: booking})
	}
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	dateStr := strings.TrimSpace(query.Get("date"))
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := time.Parse(dateLayout, dateStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	slots, err := s.bookings.AvailableSlots(r.Context(), service.AvailabilityRequest{
		TenantID:       mux.Vars(r)["tenantId"],
		Date:           date,
		ServiceName:    strings.TrimSpace(query.Get("service")),
		ProfessionalID: strings.TrimSpace(query.Get("professional_id")),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Date: dateStr, Slots: slots})
}
