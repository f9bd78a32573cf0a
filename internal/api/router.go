package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medibook/hospital-appointments/internal/appointment"
	"github.com/medibook/hospital-appointments/internal/availability"
	"github.com/medibook/hospital-appointments/internal/payment"
)

// BookingService is the slice of the booking service the handlers need.
type BookingService interface {
	Slots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.Slot, error)
	SetAvailability(ctx context.Context, tpl availability.Template) error
	Create(ctx context.Context, p appointment.CreateParams) (*appointment.Appointment, *payment.Order, error)
	VerifyPayment(ctx context.Context, id uuid.UUID, orderID, paymentID, signature string) (*appointment.Appointment, error)
	WebhookConfirm(ctx context.Context, event, orderID, paymentID string) error
	Confirm(ctx context.Context, doctorID, id uuid.UUID) (*appointment.Appointment, error)
	Complete(ctx context.Context, doctorID, id uuid.UUID) (*appointment.Appointment, error)
	NoShow(ctx context.Context, doctorID, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, patientID, id uuid.UUID) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]appointment.Appointment, error)
}

type RouterConfig struct {
	Service       BookingService
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Env           string
	Version       string
	Logger        zerolog.Logger
	WebhookSecret string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	h := &handlers{svc: cfg.Service, logger: cfg.Logger, webhookSecret: cfg.WebhookSecret}

	r.Get("/doctor-search/{doctorID}/slots", h.doctorSlots)

	r.Post("/appointments", h.createAppointment)
	r.Post("/appointments/verify-payment", h.verifyPayment)
	r.Post("/appointments/webhook", h.webhook)
	r.Get("/appointments/{id}", h.getAppointment)

	r.Put("/doctors/{doctorID}/availability", h.setAvailability)
	r.Get("/doctors/{doctorID}/appointments", h.listDoctorAppointments)
	r.Patch("/doctors/appointments/{id}/confirm", h.confirmAppointment)
	r.Patch("/doctors/appointments/{id}/complete", h.completeAppointment)
	r.Patch("/doctors/appointments/{id}/no-show", h.noShowAppointment)

	r.Get("/patients/{patientID}/appointments", h.listPatientAppointments)
	r.Delete("/patients/appointments/{id}", h.cancelAppointment)

	return r
}
