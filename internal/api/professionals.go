package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"clinicbook/internal/models"
)

type createProfessionalRequest struct {
	Name      string                   `json:"name"`
	Phone     string                   `json:"phone"`
	Specialty string                   `json:"specialty"`
	Hours     map[string]models.RawDay `json:"hours"`
}

// setHoursRequest replaces the override. A null or absent hours object
// restores the tenant hours.
type setHoursRequest struct {
	Hours map[string]models.RawDay `json:"hours"`
}

type professionalResponse struct {
	Professional *models.Professional `json:"professional"`
}

type professionalsResponse struct {
	Professionals []*models.Professional `json:"professionals"`
}

func weeklyHours(raw map[string]models.RawDay) *models.WeeklyHours {
	if raw == nil {
		return nil
	}
	hours := models.ParseWeeklyHours(raw)
	return &hours
}

func (s *HTTPServer) handleCreateProfessional(w http.ResponseWriter, r *http.Request) {
	var body createProfessionalRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p := &models.Professional{
		TenantID:  mux.Vars(r)["tenantId"],
		Name:      body.Name,
		Phone:     body.Phone,
		Specialty: body.Specialty,
		Hours:     weeklyHours(body.Hours),
	}
	if err := s.professionals.Create(r.Context(), p); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, professionalResponse{Professional: p})
}

// handleListProfessionals lists active professionals unless active=false.
func (s *HTTPServer) handleListProfessionals(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if v := r.URL.Query().Get("active"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		activeOnly = parsed
	}

	list, err := s.professionals.List(r.Context(), mux.Vars(r)["tenantId"], activeOnly)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Professional{}
	}
	writeJSON(w, http.StatusOK, professionalsResponse{Professionals: list})
}

func (s *HTTPServer) handleSetHours(w http.ResponseWriter, r *http.Request) {
	var body setHoursRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	vars := mux.Vars(r)
	if err := s.professionals.SetHours(r.Context(), vars["tenantId"], vars["professionalId"], weeklyHours(body.Hours)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.professionals.Deactivate(r.Context(), vars["tenantId"], vars["professionalId"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.professionals.SetDefault(r.Context(), vars["tenantId"], vars["professionalId"]); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
