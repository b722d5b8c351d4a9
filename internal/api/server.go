package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"clinicbook/internal/config"
	"clinicbook/internal/models"
	"clinicbook/internal/service"
)

// BookingEngine is the booking surface the API exposes.
type BookingEngine interface {
	Create(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error)
	Cancel(ctx context.Context, tenantID, bookingID string) (*models.Booking, error)
	Reschedule(ctx context.Context, tenantID, bookingID string, newStart time.Time) (*models.Booking, error)
	Confirm(ctx context.Context, tenantID, bookingID string) (*models.Booking, error)
	Complete(ctx context.Context, tenantID, bookingID string) (*models.Booking, error)
	MarkNoShow(ctx context.Context, tenantID, bookingID string) (*models.Booking, error)
	ListUpcoming(ctx context.Context, tenantID, phone string, includePast bool) ([]*models.Booking, error)
	ListDay(ctx context.Context, tenantID string, date time.Time) ([]*models.Booking, error)
	AvailableSlots(ctx context.Context, req service.AvailabilityRequest) ([]time.Time, error)
}

// ProfessionalDirectory manages the professionals of a tenant.
type ProfessionalDirectory interface {
	Create(ctx context.Context, p *models.Professional) error
	List(ctx context.Context, tenantID string, activeOnly bool) ([]*models.Professional, error)
	SetHours(ctx context.Context, tenantID, id string, hours *models.WeeklyHours) error
	Deactivate(ctx context.Context, tenantID, id string) error
	SetDefault(ctx context.Context, tenantID, id string) error
}

// HTTPServer exposes the booking engine as a JSON API. Every route is scoped
// to a tenant taken from the path.
type HTTPServer struct {
	cfg           config.APIConfig
	bookings      BookingEngine
	professionals ProfessionalDirectory
	logger        *zerolog.Logger
	server        *http.Server
	auth          *HTTPAuth
}

func NewHTTPServer(cfg config.APIConfig, bookings BookingEngine, professionals ProfessionalDirectory, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:           cfg,
		bookings:      bookings,
		professionals: professionals,
		logger:        logger,
		auth:          NewHTTPAuth(cfg),
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(srv.loggingMiddleware)

	tenant := r.PathPrefix("/api/v1/tenants/{tenantId}").Subrouter()
	tenant.Use(srv.auth.Middleware)

	tenant.HandleFunc("/slots", srv.handleSlots).Methods(http.MethodGet)

	tenant.HandleFunc("/bookings", srv.handleCreateBooking).Methods(http.MethodPost)
	tenant.HandleFunc("/bookings", srv.handleListBookings).Methods(http.MethodGet)
	tenant.HandleFunc("/bookings/{bookingId}/cancel", srv.transitionHandler(bookings.Cancel)).Methods(http.MethodPost)
	tenant.HandleFunc("/bookings/{bookingId}/reschedule", srv.handleReschedule).Methods(http.MethodPost)
	tenant.HandleFunc("/bookings/{bookingId}/confirm", srv.transitionHandler(bookings.Confirm)).Methods(http.MethodPost)
	tenant.HandleFunc("/bookings/{bookingId}/complete", srv.transitionHandler(bookings.Complete)).Methods(http.MethodPost)
	tenant.HandleFunc("/bookings/{bookingId}/no-show", srv.transitionHandler(bookings.MarkNoShow)).Methods(http.MethodPost)

	tenant.HandleFunc("/professionals", srv.handleListProfessionals).Methods(http.MethodGet)
	tenant.HandleFunc("/professionals", srv.handleCreateProfessional).Methods(http.MethodPost)
	tenant.HandleFunc("/professionals/{professionalId}/hours", srv.handleSetHours).Methods(http.MethodPut)
	tenant.HandleFunc("/professionals/{professionalId}/deactivate", srv.handleDeactivate).Methods(http.MethodPost)
	tenant.HandleFunc("/professionals/{professionalId}/default", srv.handleSetDefault).Methods(http.MethodPost)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return srv
}

// Handler returns the routed handler with its middleware.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("booking API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
