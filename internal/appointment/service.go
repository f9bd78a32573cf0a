package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/hospital-appointments/internal/availability"
	"github.com/medibook/hospital-appointments/internal/metrics"
	"github.com/medibook/hospital-appointments/internal/payment"
	redisclient "github.com/medibook/hospital-appointments/internal/redis"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventPaymentVerified      = "PAYMENT_VERIFIED"
)

var (
	ErrSlotBeingBooked     = errors.New("slot is currently being booked, please retry")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrTooLateToCancel     = errors.New("cannot cancel within the cancellation window")
	ErrPaymentVerification = errors.New("payment verification failed")
	ErrNotAllowed          = errors.New("caller does not own this appointment")
	ErrInvalidVisitType    = errors.New("invalid visit type")
)

// Service is the booking state machine. It is the only component that
// mutates appointment or invoice status; every change goes through one of
// its named transitions.
type Service struct {
	repo    Repository
	locker  redisclient.Locker
	gateway payment.Gateway
	metrics *metrics.BookingMetrics
	logger  zerolog.Logger

	cancelWindow time.Duration
	loc          *time.Location
	now          func() time.Time
}

type ServiceOptions struct {
	CancelWindow time.Duration  // minimum notice before start; default 2h
	Location     *time.Location // doctors' wall-clock convention; default Local
	Metrics      *metrics.BookingMetrics
}

func NewService(repo Repository, locker redisclient.Locker, gateway payment.Gateway, logger zerolog.Logger, opts ServiceOptions) *Service {
	if opts.CancelWindow <= 0 {
		opts.CancelWindow = 2 * time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		repo:         repo,
		locker:       locker,
		gateway:      gateway,
		metrics:      opts.Metrics,
		logger:       logger,
		cancelWindow: opts.CancelWindow,
		loc:          opts.Location,
		now:          time.Now,
	}
}

// Slots derives the bookable slots for one doctor and date from the
// availability template minus breaks and active reservations.
func (s *Service) Slots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.Slot, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, err
	}

	tpl, err := s.templateFor(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	booked, err := s.repo.ActiveIntervals(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load active intervals: %w", err)
	}

	return availability.GenerateSlots(tpl, date, booked), nil
}

// SetAvailability validates and stores a doctor's weekly template.
func (s *Service) SetAvailability(ctx context.Context, tpl availability.Template) error {
	if err := tpl.Validate(); err != nil {
		return err
	}
	if _, err := s.repo.GetDoctorByID(ctx, tpl.DoctorID); err != nil {
		return err
	}
	if err := s.repo.SaveTemplate(ctx, tpl); err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	return nil
}

type CreateParams struct {
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	Date           time.Time
	Start          availability.TimeOfDay
	VisitType      VisitType
	ReasonForVisit string
}

// Create reserves a slot and opens the payment flow: the appointment goes in
// as PENDING/UNPAID under the reservation lock, then a gateway order is
// requested and stored on the appointment and its new invoice. Exactly one
// of two concurrent calls for the same (doctor, date, start) wins.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Appointment, *payment.Order, error) {
	if !p.VisitType.Valid() {
		return nil, nil, ErrInvalidVisitType
	}

	if _, err := s.repo.GetPatientByID(ctx, p.PatientID); err != nil {
		return nil, nil, err
	}
	doctor, err := s.repo.GetDoctorByID(ctx, p.DoctorID)
	if err != nil {
		return nil, nil, err
	}

	tpl, err := s.templateFor(ctx, p.DoctorID)
	if err != nil {
		return nil, nil, err
	}

	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       p.PatientID,
		DoctorID:        p.DoctorID,
		Date:            p.Date,
		Start:           p.Start,
		End:             p.Start.Add(tpl.SlotDuration),
		VisitType:       p.VisitType,
		ReasonForVisit:  p.ReasonForVisit,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		ConsultationFee: doctor.ConsultationFee,
	}

	err = s.locker.WithReservationLock(ctx, p.DoctorID, p.Date, p.Start, func(lockCtx context.Context) error {
		// Pre-check inside the critical section; the unique index is still
		// the backstop if the lock is bypassed or expires.
		existing, err := s.repo.FindActiveBySlot(lockCtx, p.DoctorID, p.Date, p.Start)
		if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
			return fmt.Errorf("check active appointment: %w", err)
		}
		if existing != nil {
			return ErrSlotTaken
		}

		if err := s.repo.CreateAppointment(lockCtx, appt); err != nil {
			return err
		}

		s.logEvent(lockCtx, appt.ID, EventAppointmentCreated, map[string]any{
			"doctor_id":  p.DoctorID.String(),
			"patient_id": p.PatientID.String(),
			"date":       p.Date.Format("2006-01-02"),
			"start_time": p.Start.String(),
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.metrics.ObserveReservation("lock_contended")
			return nil, nil, ErrSlotBeingBooked
		}
		if errors.Is(err, ErrSlotTaken) {
			s.metrics.ObserveReservation("conflict")
			return nil, nil, err
		}
		s.metrics.ObserveReservation("error")
		return nil, nil, err
	}

	order, err := s.gateway.CreateOrder(ctx, appt.ConsultationFee, appt.ID)
	if err != nil {
		// The reservation stands; the order can be recreated by retrying
		// payment, so surface the gateway failure without unwinding.
		s.metrics.ObserveReservation("order_failed")
		return nil, nil, fmt.Errorf("create payment order: %w", err)
	}
	if order.IsMock {
		s.metrics.ObserveMockOrder()
		s.logger.Warn().
			Str("appointment_id", appt.ID.String()).
			Str("order_id", order.ID).
			Msg("booking proceeding with mock payment order")
	}

	inv := &Invoice{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		PatientID:     p.PatientID,
		DoctorID:      p.DoctorID,
		TotalAmount:   appt.ConsultationFee,
		PaymentStatus: PaymentUnpaid,
		OrderID:       order.ID,
	}
	if err := s.repo.AttachOrder(ctx, appt.ID, order.ID, inv); err != nil {
		return nil, nil, fmt.Errorf("attach payment order: %w", err)
	}
	appt.OrderID = order.ID

	s.metrics.ObserveReservation("created")
	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", p.DoctorID.String()).
		Str("start_time", p.Start.String()).
		Msg("appointment reserved")

	return appt, order, nil
}

// VerifyPayment checks the gateway-issued signature and, on match, moves the
// appointment to CONFIRMED/PAID and its invoice to PAID. Repeated calls with
// the same valid signature are a no-op success.
func (s *Service) VerifyPayment(ctx context.Context, appointmentID uuid.UUID, orderID, paymentID, signature string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if appt.Status == StatusConfirmed && appt.PaymentStatus == PaymentPaid && appt.OrderID == orderID {
		s.metrics.ObserveVerification("repeat")
		return appt, nil
	}

	if !s.gateway.VerifySignature(orderID, paymentID, signature) {
		s.metrics.ObserveVerification("invalid_signature")
		return nil, ErrPaymentVerification
	}

	if !appt.Status.Active() || !appt.PaymentStatus.CanTransition(PaymentPaid) {
		s.metrics.ObserveVerification("invalid_state")
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.MarkPaid(ctx, appt.ID, paymentID, signature)
	if err != nil {
		return nil, fmt.Errorf("mark paid: %w", err)
	}

	s.metrics.ObserveVerification("verified")
	s.logEvent(ctx, updated.ID, EventPaymentVerified, map[string]any{
		"order_id":   orderID,
		"payment_id": paymentID,
	})
	return updated, nil
}

// WebhookConfirm applies the payment.authorized webhook: the durable
// fallback for a verify call lost to a closed browser or dropped network.
// Safe to apply after VerifyPayment already ran.
func (s *Service) WebhookConfirm(ctx context.Context, event, orderID, paymentID string) error {
	if event != "payment.authorized" {
		s.logger.Debug().Str("event", event).Msg("ignoring webhook event")
		return nil
	}

	appt, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			s.logger.Warn().Str("order_id", orderID).Msg("webhook for unknown order")
			return nil
		}
		return fmt.Errorf("find by order: %w", err)
	}

	if appt.Status == StatusConfirmed && appt.PaymentStatus == PaymentPaid {
		return nil
	}
	if !appt.Status.Active() || !appt.PaymentStatus.CanTransition(PaymentPaid) {
		s.logger.Warn().
			Str("appointment_id", appt.ID.String()).
			Str("status", string(appt.Status)).
			Str("payment_status", string(appt.PaymentStatus)).
			Msg("webhook arrived for an appointment past payment")
		return nil
	}

	updated, err := s.repo.MarkPaid(ctx, appt.ID, paymentID, "")
	if err != nil {
		return fmt.Errorf("mark paid via webhook: %w", err)
	}

	s.metrics.ObserveVerification("webhook")
	s.logEvent(ctx, updated.ID, EventPaymentVerified, map[string]any{
		"order_id":   orderID,
		"payment_id": paymentID,
		"source":     "webhook",
	})
	return nil
}

// Confirm is the doctor-initiated PENDING to CONFIRMED transition.
func (s *Service) Confirm(ctx context.Context, doctorID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.ownedByDoctor(ctx, doctorID, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, StatusPending, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("confirm appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{"source": "doctor"})
	return updated, nil
}

// Complete marks a CONFIRMED appointment as carried out.
func (s *Service) Complete(ctx context.Context, doctorID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.ownedByDoctor(ctx, doctorID, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransition(StatusCompleted) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentCompleted, map[string]any{})
	return updated, nil
}

// NoShow marks a CONFIRMED appointment whose patient never appeared.
func (s *Service) NoShow(ctx context.Context, doctorID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.ownedByDoctor(ctx, doctorID, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appt.Status.CanTransition(StatusNoShow) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusNoShow)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("mark no-show: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventAppointmentNoShow, map[string]any{"source": "doctor"})
	return updated, nil
}

// Cancel is patient-initiated and allowed from PENDING or CONFIRMED, with at
// least the cancellation window of notice before the scheduled start.
// Exactly the window boundary is still cancelable. A PAID appointment is
// flagged REFUNDED; executing the refund belongs to the payment provider.
func (s *Service) Cancel(ctx context.Context, patientID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotAllowed
	}
	if !appt.Status.Active() {
		s.metrics.ObserveCancellation("invalid_state")
		return nil, ErrInvalidTransition
	}

	notice := appt.StartsAt(s.loc).Sub(s.now())
	if notice < s.cancelWindow {
		s.metrics.ObserveCancellation("too_late")
		return nil, ErrTooLateToCancel
	}

	refund := appt.PaymentStatus.CanTransition(PaymentRefunded)
	updated, err := s.repo.CancelAppointment(ctx, appt.ID, appt.Status, refund)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.metrics.ObserveCancellation("cancelled")
	s.logEvent(ctx, updated.ID, EventAppointmentCancelled, map[string]any{
		"refunded": refund,
	})
	return updated, nil
}

// SweepNoShows marks CONFIRMED appointments whose scheduled end has passed.
// Called periodically by the no-show worker.
func (s *Service) SweepNoShows(ctx context.Context) error {
	overdue, err := s.repo.FindOverdueConfirmed(ctx, s.now())
	if err != nil {
		return fmt.Errorf("find overdue confirmed: %w", err)
	}

	for _, appt := range overdue {
		if _, err := s.repo.UpdateStatus(ctx, appt.ID, StatusConfirmed, StatusNoShow); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue // already transitioned elsewhere
			}
			s.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("no-show sweep failed")
			continue
		}
		s.logEvent(ctx, appt.ID, EventAppointmentNoShow, map[string]any{"source": "worker"})
	}

	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	return s.repo.ListByDoctorDate(ctx, doctorID, date)
}

func (s *Service) templateFor(ctx context.Context, doctorID uuid.UUID) (availability.Template, error) {
	tpl, err := s.repo.GetTemplateByDoctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return availability.DefaultTemplate(doctorID), nil
		}
		return availability.Template{}, fmt.Errorf("load template: %w", err)
	}
	return *tpl, nil
}

func (s *Service) ownedByDoctor(ctx context.Context, doctorID, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, ErrNotAllowed
	}
	return appt, nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("event", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("insert event log")
	}
}
