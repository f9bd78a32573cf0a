package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/hospital-appointments/internal/appointment"
	"github.com/medibook/hospital-appointments/internal/availability"
	"github.com/medibook/hospital-appointments/internal/payment"
)

var validate = validator.New()

type handlers struct {
	svc           BookingService
	logger        zerolog.Logger
	webhookSecret string
}

// Caller identity travels in headers; token mechanics live at the edge, not
// in this service.
const (
	headerPatientID = "X-Patient-ID"
	headerDoctorID  = "X-Doctor-ID"
)

func (h *handlers) doctorSlots(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
		return
	}

	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.Slots(r.Context(), doctorID, date)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SlotsResponse{Slots: slots})
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	patientID, ok := callerID(w, r, headerPatientID)
	if !ok {
		return
	}

	var req CreateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	start, err := availability.ParseTimeOfDay(req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start_time", "startTime must be HH:MM")
		return
	}

	appt, order, err := h.svc.Create(r.Context(), appointment.CreateParams{
		PatientID:      patientID,
		DoctorID:       doctorID,
		Date:           date,
		Start:          start,
		VisitType:      appointment.VisitType(req.VisitType),
		ReasonForVisit: req.ReasonForVisit,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateAppointmentResponse{
		Appointment: toAppointmentResponse(appt),
		Order: OrderResponse{
			ID:       order.ID,
			Amount:   order.Amount,
			Currency: order.Currency,
			IsMock:   order.IsMock,
		},
	})
}

func (h *handlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	appointmentID, err := uuid.Parse(req.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointmentId must be a valid UUID")
		return
	}

	appt, err := h.svc.VerifyPayment(r.Context(), appointmentID, req.RazorpayOrderID, req.RazorpayPaymentID, req.RazorpaySignature)
	if err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
		return
	}

	if h.webhookSecret != "" {
		sig := r.Header.Get("X-Razorpay-Signature")
		if !payment.VerifyWebhookSignature(body, sig, h.webhookSecret) {
			h.logger.Warn().Msg("webhook signature mismatch")
			writeError(w, http.StatusBadRequest, "invalid_signature", "webhook signature mismatch")
			return
		}
	}

	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	entity := req.Payload.Payment.Entity
	if err := h.svc.WebhookConfirm(r.Context(), req.Event, entity.OrderID, entity.PaymentID); err != nil {
		h.handleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) setAvailability(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
		return
	}

	var tpl availability.Template
	if err := json.NewDecoder(r.Body).Decode(&tpl); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	tpl.DoctorID = doctorID
	if tpl.MaxPerSlot == 0 {
		tpl.MaxPerSlot = 1
	}

	if err := h.svc.SetAvailability(r.Context(), tpl); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (h *handlers) listDoctorAppointments(w http.ResponseWriter, r *http.Request) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
		return
	}
	date, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	appts, err := h.svc.ListByDoctorDate(r.Context(), doctorID, date)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(appts))
}

func (h *handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patientID must be a valid UUID")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	appts, err := h.svc.ListByPatient(r.Context(), patientID, limit, offset)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListResponse(appts))
}

func (h *handlers) confirmAppointment(w http.ResponseWriter, r *http.Request) {
	h.doctorTransition(w, r, h.svc.Confirm)
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	h.doctorTransition(w, r, h.svc.Complete)
}

func (h *handlers) noShowAppointment(w http.ResponseWriter, r *http.Request) {
	h.doctorTransition(w, r, h.svc.NoShow)
}

func (h *handlers) doctorTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, doctorID, id uuid.UUID) (*appointment.Appointment, error)) {
	doctorID, ok := callerID(w, r, headerDoctorID)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	appt, err := fn(r.Context(), doctorID, id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	patientID, ok := callerID(w, r, headerPatientID)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Cancel(r.Context(), patientID, id)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "this slot is already booked")
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrTooLateToCancel):
		writeError(w, http.StatusBadRequest, "too_late_to_cancel", err.Error())
	case errors.Is(err, appointment.ErrPaymentVerification):
		writeError(w, http.StatusBadRequest, "payment_verification_failed", err.Error())
	case errors.Is(err, appointment.ErrInvalidVisitType):
		writeError(w, http.StatusBadRequest, "invalid_visit_type", err.Error())
	case errors.Is(err, availability.ErrInvalidTemplate):
		writeError(w, http.StatusBadRequest, "invalid_template", err.Error())
	case errors.Is(err, appointment.ErrNotAllowed):
		writeError(w, http.StatusForbidden, "not_allowed", err.Error())
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	default:
		h.logger.Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

func callerID(w http.ResponseWriter, r *http.Request, header string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(header))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_caller_id", header+" header must carry a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func toListResponse(appts []appointment.Appointment) AppointmentListResponse {
	out := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		out.Appointments = append(out.Appointments, toAppointmentResponse(&appts[i]))
	}
	return out
}
