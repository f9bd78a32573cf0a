package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/hospital-appointments/internal/availability"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
)

// Active reports whether the appointment occupies its slot. Only active
// appointments participate in conflict checks and slot exclusion.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CanTransition encodes the appointment state machine. Terminal states are
// CANCELLED, COMPLETED and NO_SHOW.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCancelled || to == StatusNoShow
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

func (p PaymentStatus) CanTransition(to PaymentStatus) bool {
	switch p {
	case PaymentUnpaid:
		return to == PaymentPending || to == PaymentPaid
	case PaymentPending:
		return to == PaymentPaid
	case PaymentPaid:
		return to == PaymentRefunded
	default:
		return false
	}
}

type VisitType string

const (
	VisitOnline  VisitType = "ONLINE"
	VisitOffline VisitType = "OFFLINE"
)

func (v VisitType) Valid() bool {
	return v == VisitOnline || v == VisitOffline
}

// Appointment is the reservation of one slot on a doctor's calendar.
// Date carries the calendar day only; Start/End are wall-clock minutes in
// the doctor's local convention.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Date            time.Time
	Start           availability.TimeOfDay
	End             availability.TimeOfDay
	VisitType       VisitType
	ReasonForVisit  string
	Status          Status
	PaymentStatus   PaymentStatus
	ConsultationFee int64 // paise, snapshotted from the doctor at creation
	OrderID         string
	PaymentID       string
	Signature       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StartsAt combines Date and Start into a single instant for deadline math.
func (a Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Start.At(a.Date, loc)
}

// Invoice shadows the payment side of one appointment for billing/audit.
// Same lifetime as the appointment, mutated only by the same transitions.
type Invoice struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	TotalAmount   int64 // paise
	PaymentStatus PaymentStatus
	OrderID       string
	PaymentID     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Doctor is the subset of a doctor profile the booking engine needs.
type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialization  string
	HospitalName    string
	ConsultationFee int64 // paise
	Verified        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
