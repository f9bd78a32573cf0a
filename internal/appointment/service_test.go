package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medibook/hospital-appointments/internal/availability"
	"github.com/medibook/hospital-appointments/internal/payment"
)

// stubGateway lets tests force the signature verdict.
type stubGateway struct {
	verify bool
	mock   bool
}

func (g stubGateway) CreateOrder(_ context.Context, amount int64, appointmentID uuid.UUID) (*payment.Order, error) {
	return &payment.Order{
		ID:       "order_test_" + appointmentID.String()[:8],
		Amount:   amount,
		Currency: "INR",
		IsMock:   g.mock,
	}, nil
}

func (g stubGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return g.verify
}

type testEnv struct {
	svc     *Service
	repo    *fakeRepo
	doctor  *Doctor
	patient *Patient
	now     time.Time
}

// bookingDay is a Wednesday; the standard template works Mon-Fri.
var bookingDay = time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, gw payment.Gateway) *testEnv {
	t.Helper()

	repo := newFakeRepo()

	doctor := &Doctor{ID: uuid.New(), Name: "Dr. Rao", Specialization: "Cardiology", ConsultationFee: 50000}
	patient := &Patient{ID: uuid.New(), Name: "Asha"}
	repo.doctors[doctor.ID] = doctor
	repo.patients[patient.ID] = patient

	tpl := availability.Template{
		DoctorID:     doctor.ID,
		WorkingDays:  []int{1, 2, 3, 4, 5},
		DailyStart:   9 * 60,
		DailyEnd:     17 * 60,
		SlotDuration: 30,
		Breaks:       []availability.Break{{Start: 12 * 60, End: 13 * 60, Reason: "lunch"}},
		MaxPerSlot:   1,
	}
	repo.templates[doctor.ID] = tpl

	svc := NewService(repo, passthroughLocker{}, gw, zerolog.Nop(), ServiceOptions{
		CancelWindow: 2 * time.Hour,
		Location:     time.UTC,
	})

	env := &testEnv{svc: svc, repo: repo, doctor: doctor, patient: patient}
	env.setNow(bookingDay.Add(6 * time.Hour)) // 06:00 on booking day
	return env
}

func (e *testEnv) setNow(now time.Time) {
	e.now = now
	e.svc.now = func() time.Time { return now }
}

func (e *testEnv) createAt(t *testing.T, start availability.TimeOfDay) *Appointment {
	t.Helper()
	appt, order, err := e.svc.Create(context.Background(), CreateParams{
		PatientID: e.patient.ID,
		DoctorID:  e.doctor.ID,
		Date:      bookingDay,
		Start:     start,
		VisitType: VisitOffline,
	})
	require.NoError(t, err)
	require.NotNil(t, order)
	return appt
}

func TestCreateAppointment(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})

	appt, order, err := env.svc.Create(context.Background(), CreateParams{
		PatientID:      env.patient.ID,
		DoctorID:       env.doctor.ID,
		Date:           bookingDay,
		Start:          10 * 60,
		VisitType:      VisitOnline,
		ReasonForVisit: "follow-up",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, PaymentUnpaid, appt.PaymentStatus)
	assert.Equal(t, availability.TimeOfDay(10*60+30), appt.End, "end is start plus slot duration")
	assert.Equal(t, int64(50000), appt.ConsultationFee, "fee snapshotted from the doctor")
	assert.Equal(t, order.ID, appt.OrderID)

	inv := env.repo.invoiceFor(appt.ID)
	require.NotNil(t, inv, "invoice created alongside the appointment")
	assert.Equal(t, int64(50000), inv.TotalAmount)
	assert.Equal(t, PaymentUnpaid, inv.PaymentStatus)
	assert.Equal(t, order.ID, inv.OrderID)
}

func TestCreateRejectsTakenSlot(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	env.createAt(t, 10*60)

	_, _, err := env.svc.Create(context.Background(), CreateParams{
		PatientID: env.patient.ID,
		DoctorID:  env.doctor.ID,
		Date:      bookingDay,
		Start:     10 * 60,
		VisitType: VisitOffline,
	})
	assert.ErrorIs(t, err, ErrSlotTaken)
}

func TestCreateConcurrentExactlyOneWins(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.svc.Create(context.Background(), CreateParams{
				PatientID: env.patient.ID,
				DoctorID:  env.doctor.ID,
				Date:      bookingDay,
				Start:     14 * 60,
				VisitType: VisitOffline,
			})
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, ErrSlotTaken):
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, conflicts)
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})

	_, _, err := env.svc.Create(context.Background(), CreateParams{
		PatientID: env.patient.ID,
		DoctorID:  uuid.New(),
		Date:      bookingDay,
		Start:     10 * 60,
		VisitType: VisitOffline,
	})
	assert.ErrorIs(t, err, ErrDoctorNotFound)

	_, _, err = env.svc.Create(context.Background(), CreateParams{
		PatientID: uuid.New(),
		DoctorID:  env.doctor.ID,
		Date:      bookingDay,
		Start:     10 * 60,
		VisitType: VisitOffline,
	})
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, _, err = env.svc.Create(context.Background(), CreateParams{
		PatientID: env.patient.ID,
		DoctorID:  env.doctor.ID,
		Date:      bookingDay,
		Start:     10 * 60,
		VisitType: "HOUSE_CALL",
	})
	assert.ErrorIs(t, err, ErrInvalidVisitType)
}

func TestVerifyPaymentConfirms(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	updated, err := env.svc.VerifyPayment(context.Background(), appt.ID, appt.OrderID, "pay_1", "sig")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)
	assert.Equal(t, PaymentPaid, updated.PaymentStatus)
	assert.Equal(t, "pay_1", updated.PaymentID)

	inv := env.repo.invoiceFor(appt.ID)
	assert.Equal(t, PaymentPaid, inv.PaymentStatus, "invoice kept in lockstep")

	// Paid appointment still blocks its slot.
	slots, err := env.svc.Slots(context.Background(), env.doctor.ID, bookingDay)
	require.NoError(t, err)
	for _, s := range slots {
		assert.NotEqual(t, availability.TimeOfDay(10*60), s.Start)
	}
}

func TestVerifyPaymentIdempotent(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	first, err := env.svc.VerifyPayment(context.Background(), appt.ID, appt.OrderID, "pay_1", "sig")
	require.NoError(t, err)

	second, err := env.svc.VerifyPayment(context.Background(), appt.ID, appt.OrderID, "pay_1", "sig")
	require.NoError(t, err, "repeat verification is a no-op success")
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.PaymentStatus, second.PaymentStatus)
}

func TestVerifyPaymentRejectsSecondOrderAfterPaid(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	_, err := env.svc.VerifyPayment(context.Background(), appt.ID, appt.OrderID, "pay_1", "sig")
	require.NoError(t, err)

	// A verify carrying a different order against a PAID appointment is not
	// the idempotent-repeat case; PAID only moves to REFUNDED.
	_, err = env.svc.VerifyPayment(context.Background(), appt.ID, "order_other", "pay_2", "sig")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	reloaded, err := env.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", reloaded.PaymentID)
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: false})
	appt := env.createAt(t, 10*60)

	_, err := env.svc.VerifyPayment(context.Background(), appt.ID, appt.OrderID, "pay_1", "forged")
	assert.ErrorIs(t, err, ErrPaymentVerification)

	// No state mutation on mismatch.
	reloaded, err := env.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, reloaded.Status)
	assert.Equal(t, PaymentUnpaid, reloaded.PaymentStatus)
}

func TestVerifyPaymentTerminalAppointment(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 14*60)

	_, err := env.svc.Cancel(context.Background(), env.patient.ID, appt.ID)
	require.NoError(t, err)

	_, err = env.svc.VerifyPayment(context.Background(), appt.ID, appt.OrderID, "pay_1", "sig")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestWebhookConfirm(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	require.NoError(t, env.svc.WebhookConfirm(context.Background(), "payment.authorized", appt.OrderID, "pay_wh"))

	reloaded, err := env.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, reloaded.Status)
	assert.Equal(t, PaymentPaid, reloaded.PaymentStatus)
	assert.Equal(t, "pay_wh", reloaded.PaymentID)
}

func TestWebhookAfterVerifyIsNoop(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	_, err := env.svc.VerifyPayment(context.Background(), appt.ID, appt.OrderID, "pay_1", "sig")
	require.NoError(t, err)

	require.NoError(t, env.svc.WebhookConfirm(context.Background(), "payment.authorized", appt.OrderID, "pay_wh"))

	reloaded, err := env.svc.Get(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", reloaded.PaymentID, "webhook must not overwrite the verified payment")
}

func TestWebhookIgnoresUnknownOrderAndOtherEvents(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})

	assert.NoError(t, env.svc.WebhookConfirm(context.Background(), "payment.authorized", "order_unknown", "pay_x"))
	assert.NoError(t, env.svc.WebhookConfirm(context.Background(), "payment.failed", "order_unknown", "pay_x"))
}

func TestDoctorConfirm(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	updated, err := env.svc.Confirm(context.Background(), env.doctor.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	_, err = env.svc.Confirm(context.Background(), env.doctor.ID, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "confirm is only legal from PENDING")

	_, err = env.svc.Confirm(context.Background(), uuid.New(), appt.ID)
	assert.ErrorIs(t, err, ErrNotAllowed)
}

func TestComplete(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	_, err := env.svc.Complete(context.Background(), env.doctor.ID, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "complete requires CONFIRMED")

	_, err = env.svc.Confirm(context.Background(), env.doctor.ID, appt.ID)
	require.NoError(t, err)

	updated, err := env.svc.Complete(context.Background(), env.doctor.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)
}

func TestNoShow(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	_, err := env.svc.NoShow(context.Background(), env.doctor.ID, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = env.svc.Confirm(context.Background(), env.doctor.ID, appt.ID)
	require.NoError(t, err)

	updated, err := env.svc.NoShow(context.Background(), env.doctor.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, updated.Status)
}

func TestCancelWindowBoundary(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 14*60) // starts 14:00

	// Exactly two hours of notice is still cancelable.
	env.setNow(bookingDay.Add(12 * time.Hour))
	updated, err := env.svc.Cancel(context.Background(), env.patient.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)

	// 1h59m of notice is not.
	late := env.createAt(t, 15*60)
	env.setNow(bookingDay.Add(13*time.Hour + time.Minute))
	_, err = env.svc.Cancel(context.Background(), env.patient.ID, late.ID)
	assert.ErrorIs(t, err, ErrTooLateToCancel)
}

func TestCancelPaidAppointmentRefunds(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 14*60)

	_, err := env.svc.VerifyPayment(context.Background(), appt.ID, appt.OrderID, "pay_1", "sig")
	require.NoError(t, err)

	// Three hours before start.
	env.setNow(bookingDay.Add(11 * time.Hour))
	updated, err := env.svc.Cancel(context.Background(), env.patient.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	assert.Equal(t, PaymentRefunded, updated.PaymentStatus)

	inv := env.repo.invoiceFor(appt.ID)
	assert.Equal(t, PaymentRefunded, inv.PaymentStatus)

	// The slot reappears.
	slots, err := env.svc.Slots(context.Background(), env.doctor.ID, bookingDay)
	require.NoError(t, err)
	found := false
	for _, s := range slots {
		if s.Start == availability.TimeOfDay(14*60) {
			found = true
		}
	}
	assert.True(t, found, "cancelled slot must be offered again")
}

func TestCancelOwnershipAndState(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 14*60)

	_, err := env.svc.Cancel(context.Background(), uuid.New(), appt.ID)
	assert.ErrorIs(t, err, ErrNotAllowed)

	_, err = env.svc.Cancel(context.Background(), env.patient.ID, appt.ID)
	require.NoError(t, err)

	_, err = env.svc.Cancel(context.Background(), env.patient.ID, appt.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "cancel from CANCELLED is illegal")
}

func TestSlotsEndToEnd(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})

	slots, err := env.svc.Slots(context.Background(), env.doctor.ID, bookingDay)
	require.NoError(t, err)
	assert.Len(t, slots, 14, "8h day with 30min slots minus a 1h lunch")

	env.createAt(t, 10*60)
	slots, err = env.svc.Slots(context.Background(), env.doctor.ID, bookingDay)
	require.NoError(t, err)
	assert.Len(t, slots, 13, "a PENDING reservation blocks its slot")

	_, err = env.svc.Slots(context.Background(), uuid.New(), bookingDay)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestSlotsFallsBackToDefaultTemplate(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	delete(env.repo.templates, env.doctor.ID)

	slots, err := env.svc.Slots(context.Background(), env.doctor.ID, bookingDay)
	require.NoError(t, err)
	assert.Len(t, slots, 16, "default template: 09:00-17:00, 30min, no breaks")
}

func TestSetAvailabilityValidates(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})

	bad := availability.Template{
		DoctorID:     env.doctor.ID,
		WorkingDays:  []int{1},
		DailyStart:   17 * 60,
		DailyEnd:     9 * 60,
		SlotDuration: 30,
		MaxPerSlot:   1,
	}
	assert.ErrorIs(t, env.svc.SetAvailability(context.Background(), bad), availability.ErrInvalidTemplate)

	good := availability.Template{
		DoctorID:     env.doctor.ID,
		WorkingDays:  []int{2, 4},
		DailyStart:   8 * 60,
		DailyEnd:     12 * 60,
		SlotDuration: 20,
		MaxPerSlot:   1,
	}
	require.NoError(t, env.svc.SetAvailability(context.Background(), good))

	tpl, err := env.repo.GetTemplateByDoctor(context.Background(), env.doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, tpl.SlotDuration)
}

func TestSweepNoShows(t *testing.T) {
	env := newTestEnv(t, stubGateway{verify: true})
	appt := env.createAt(t, 10*60)

	_, err := env.svc.Confirm(context.Background(), env.doctor.ID, appt.ID)
	require.NoError(t, err)

	// Before the scheduled end nothing happens.
	env.setNow(bookingDay.Add(10 * time.Hour))
	require.NoError(t, env.svc.SweepNoShows(context.Background()))
	reloaded, _ := env.svc.Get(context.Background(), appt.ID)
	assert.Equal(t, StatusConfirmed, reloaded.Status)

	// Past the end the sweep flips it.
	env.setNow(bookingDay.Add(23 * time.Hour))
	require.NoError(t, env.svc.SweepNoShows(context.Background()))
	reloaded, _ = env.svc.Get(context.Background(), appt.ID)
	assert.Equal(t, StatusNoShow, reloaded.Status)
}
