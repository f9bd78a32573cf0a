package appointment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/hospital-appointments/internal/availability"
)

// fakeRepo is an in-memory Repository with the same atomicity the Postgres
// implementation gets from its partial unique index: CreateAppointment
// rejects a second active reservation for the same key under one mutex.
type fakeRepo struct {
	mu           sync.Mutex
	patients     map[uuid.UUID]*Patient
	doctors      map[uuid.UUID]*Doctor
	templates    map[uuid.UUID]availability.Template
	appointments map[uuid.UUID]*Appointment
	invoices     map[uuid.UUID]*Invoice // keyed by appointment id
	events       []EventLog
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		patients:     make(map[uuid.UUID]*Patient),
		doctors:      make(map[uuid.UUID]*Doctor),
		templates:    make(map[uuid.UUID]availability.Template),
		appointments: make(map[uuid.UUID]*Appointment),
		invoices:     make(map[uuid.UUID]*Invoice),
	}
}

func dayKey(d time.Time) string { return d.Format("2006-01-02") }

func slotKey(doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) string {
	return fmt.Sprintf("%s|%s|%d", doctorID, dayKey(date), start)
}

func (f *fakeRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepo) GetTemplateByDoctor(_ context.Context, doctorID uuid.UUID) (*availability.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tpl, ok := f.templates[doctorID]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return &tpl, nil
}

func (f *fakeRepo) SaveTemplate(_ context.Context, tpl availability.Template) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates[tpl.DoctorID] = tpl
	return nil
}

func (f *fakeRepo) ActiveIntervals(_ context.Context, doctorID uuid.UUID, date time.Time) ([]availability.Interval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []availability.Interval
	for _, a := range f.appointments {
		if a.DoctorID == doctorID && dayKey(a.Date) == dayKey(date) && a.Status.Active() {
			out = append(out, availability.Interval{Start: a.Start, End: a.End})
		}
	}
	return out, nil
}

func (f *fakeRepo) FindActiveBySlot(_ context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appointments {
		if a.DoctorID == doctorID && dayKey(a.Date) == dayKey(date) && a.Start == start && a.Status.Active() {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) CreateAppointment(_ context.Context, appt *Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := slotKey(appt.DoctorID, appt.Date, appt.Start)
	for _, a := range f.appointments {
		if a.Status.Active() && slotKey(a.DoctorID, a.Date, a.Start) == key {
			return ErrSlotTaken
		}
	}
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	cp := *appt
	f.appointments[appt.ID] = &cp
	return nil
}

func (f *fakeRepo) AttachOrder(_ context.Context, appointmentID uuid.UUID, orderID string, inv *Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[appointmentID]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.OrderID = orderID
	cp := *inv
	f.invoices[appointmentID] = &cp
	return nil
}

func (f *fakeRepo) MarkPaid(_ context.Context, id uuid.UUID, paymentID, signature string) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok || !a.Status.Active() {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusConfirmed
	a.PaymentStatus = PaymentPaid
	a.PaymentID = paymentID
	if signature != "" {
		a.Signature = signature
	}
	if inv, ok := f.invoices[id]; ok {
		inv.PaymentStatus = PaymentPaid
		inv.PaymentID = paymentID
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) CancelAppointment(_ context.Context, id uuid.UUID, from Status, refund bool) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = StatusCancelled
	if refund {
		a.PaymentStatus = PaymentRefunded
		if inv, ok := f.invoices[id]; ok {
			inv.PaymentStatus = PaymentRefunded
		}
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) FindByOrderID(_ context.Context, orderID string) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.appointments {
		if a.OrderID == orderID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (f *fakeRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByDoctorDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.DoctorID == doctorID && dayKey(a.Date) == dayKey(date) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindOverdueConfirmed(_ context.Context, now time.Time) ([]Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Appointment
	for _, a := range f.appointments {
		if a.Status == StatusConfirmed && a.End.At(a.Date, time.UTC).Before(now) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) invoiceFor(id uuid.UUID) *Invoice {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil
	}
	cp := *inv
	return &cp
}

// passthroughLocker runs the critical section directly; the fake repo is
// already atomic, mirroring the unique index being the authoritative guard.
type passthroughLocker struct{}

func (passthroughLocker) WithReservationLock(ctx context.Context, _ uuid.UUID, _ time.Time, _ availability.TimeOfDay, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
