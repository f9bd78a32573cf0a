package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/hospital-appointments/internal/availability"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrTemplateNotFound    = errors.New("availability template not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is returned by the store when the partial unique index on
	// (doctor_id, date, start_time) rejects a second active reservation. The
	// index is the authoritative double-booking guard; pre-checks only make
	// the error friendlier.
	ErrSlotTaken = errors.New("slot already has an active appointment")
)

// Repository contains all DB interactions needed by the booking service.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// Availability templates
	GetTemplateByDoctor(ctx context.Context, doctorID uuid.UUID) (*availability.Template, error)
	SaveTemplate(ctx context.Context, tpl availability.Template) error

	// Slot occupancy reads
	ActiveIntervals(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.Interval, error)
	FindActiveBySlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) (*Appointment, error)

	// Reservation and payment writes. CreateAppointment surfaces ErrSlotTaken
	// on a uniqueness violation. AttachOrder stores the gateway order on the
	// appointment and creates the invoice in the same transaction. MarkPaid
	// moves appointment and invoice to CONFIRMED/PAID together.
	CreateAppointment(ctx context.Context, appt *Appointment) error
	AttachOrder(ctx context.Context, appointmentID uuid.UUID, orderID string, inv *Invoice) error
	MarkPaid(ctx context.Context, id uuid.UUID, paymentID, signature string) (*Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID, from Status, refund bool) (*Appointment, error)

	// Compare-and-swap status update for doctor-driven transitions.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindByOrderID(ctx context.Context, orderID string) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)

	// No-show sweep
	FindOverdueConfirmed(ctx context.Context, now time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
