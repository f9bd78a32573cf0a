package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/hospital-appointments/internal/availability"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const uniqueViolation = "23505"

const (
	patientColumns = `id, name, email, created_at, updated_at`
	doctorColumns  = `id, name, specialization, hospital_name, consultation_fee, verified, created_at, updated_at`
)

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Specialization,
		&d.HospitalName,
		&d.ConsultationFee,
		&d.Verified,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

const appointmentColumns = `id, patient_id, doctor_id, date, start_time, end_time,
	visit_type, reason_for_visit, status, payment_status, consultation_fee,
	order_id, payment_id, signature, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var start, end int
	var orderID, paymentID, signature *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&start,
		&end,
		&a.VisitType,
		&a.ReasonForVisit,
		&a.Status,
		&a.PaymentStatus,
		&a.ConsultationFee,
		&orderID,
		&paymentID,
		&signature,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Start = availability.TimeOfDay(start)
	a.End = availability.TimeOfDay(end)
	if orderID != nil {
		a.OrderID = *orderID
	}
	if paymentID != nil {
		a.PaymentID = *paymentID
	}
	if signature != nil {
		a.Signature = *signature
	}
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+doctorColumns+`
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetTemplateByDoctor(ctx context.Context, doctorID uuid.UUID) (*availability.Template, error) {
	var tpl availability.Template
	var start, end int

	err := r.pool.QueryRow(ctx, `
		SELECT doctor_id, working_days, daily_start, daily_end, slot_duration, breaks, max_per_slot, updated_at
		FROM doctor_availability
		WHERE doctor_id = $1
	`, doctorID).Scan(
		&tpl.DoctorID,
		&tpl.WorkingDays,
		&start,
		&end,
		&tpl.SlotDuration,
		&tpl.Breaks,
		&tpl.MaxPerSlot,
		&tpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	tpl.DailyStart = availability.TimeOfDay(start)
	tpl.DailyEnd = availability.TimeOfDay(end)
	return &tpl, nil
}

func (r *PgRepository) SaveTemplate(ctx context.Context, tpl availability.Template) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_availability (doctor_id, working_days, daily_start, daily_end, slot_duration, breaks, max_per_slot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (doctor_id) DO UPDATE SET
			working_days = EXCLUDED.working_days,
			daily_start = EXCLUDED.daily_start,
			daily_end = EXCLUDED.daily_end,
			slot_duration = EXCLUDED.slot_duration,
			breaks = EXCLUDED.breaks,
			max_per_slot = EXCLUDED.max_per_slot,
			updated_at = now()
	`, tpl.DoctorID, tpl.WorkingDays, int(tpl.DailyStart), int(tpl.DailyEnd), tpl.SlotDuration, tpl.Breaks, tpl.MaxPerSlot)
	return err
}

func (r *PgRepository) ActiveIntervals(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]availability.Interval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND status IN ('PENDING', 'CONFIRMED')
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []availability.Interval
	for rows.Next() {
		var start, end int
		if err := rows.Scan(&start, &end); err != nil {
			return nil, err
		}
		result = append(result, availability.Interval{
			Start: availability.TimeOfDay(start),
			End:   availability.TimeOfDay(end),
		})
	}
	return result, rows.Err()
}

func (r *PgRepository) FindActiveBySlot(ctx context.Context, doctorID uuid.UUID, date time.Time, start availability.TimeOfDay) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		  AND start_time = $3
		  AND status IN ('PENDING', 'CONFIRMED')
		LIMIT 1
	`, doctorID, date, int(start))
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, date, start_time, end_time,
			visit_type, reason_for_visit, status, payment_status, consultation_fee,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		RETURNING created_at, updated_at
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.Date, int(appt.Start), int(appt.End),
		appt.VisitType, appt.ReasonForVisit, appt.Status, appt.PaymentStatus, appt.ConsultationFee)

	if err := row.Scan(&appt.CreatedAt, &appt.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSlotTaken
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) AttachOrder(ctx context.Context, appointmentID uuid.UUID, orderID string, inv *Invoice) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE appointments
		SET order_id = $2, updated_at = now()
		WHERE id = $1
	`, appointmentID, orderID)
	if err != nil {
		return fmt.Errorf("set order id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (id, appointment_id, patient_id, doctor_id, total_amount,
			payment_status, order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, inv.ID, inv.AppointmentID, inv.PatientID, inv.DoctorID, inv.TotalAmount,
		inv.PaymentStatus, inv.OrderID)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkPaid moves an active appointment to CONFIRMED/PAID and its invoice to
// PAID in one transaction. The webhook path passes an empty signature, which
// leaves any previously stored signature in place.
func (r *PgRepository) MarkPaid(ctx context.Context, id uuid.UUID, paymentID, signature string) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'CONFIRMED',
		    payment_status = 'PAID',
		    payment_id = $2,
		    signature = COALESCE(NULLIF($3, ''), signature),
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('PENDING', 'CONFIRMED')
		RETURNING `+appointmentColumns+`
	`, id, paymentID, signature)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE invoices
		SET payment_status = 'PAID', payment_id = $2, updated_at = now()
		WHERE appointment_id = $1
	`, id, paymentID)
	if err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id uuid.UUID, from Status, refund bool) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'CANCELLED',
		    payment_status = CASE WHEN $3 THEN 'REFUNDED' ELSE payment_status END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, from, refund)

	appt, err := scanAppointment(row)
	if err != nil {
		return nil, err
	}

	if refund {
		_, err = tx.Exec(ctx, `
			UPDATE invoices
			SET payment_status = 'REFUNDED', updated_at = now()
			WHERE appointment_id = $1
		`, id)
		if err != nil {
			return nil, fmt.Errorf("refund invoice: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return appt, nil
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindByOrderID(ctx context.Context, orderID string) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE order_id = $1
	`, orderID)
	return scanAppointment(row)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY date DESC, start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND date = $2
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) FindOverdueConfirmed(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'CONFIRMED'
		  AND date + make_interval(mins => end_time) < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
