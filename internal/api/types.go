package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/medibook/hospital-appointments/internal/appointment"
	"github.com/medibook/hospital-appointments/internal/availability"
)

type CreateAppointmentRequest struct {
	DoctorID       string `json:"doctorId" validate:"required,uuid"`
	Date           string `json:"date" validate:"required"`
	StartTime      string `json:"startTime" validate:"required"`
	EndTime        string `json:"endTime"`
	VisitType      string `json:"visitType" validate:"required,oneof=ONLINE OFFLINE"`
	ReasonForVisit string `json:"reasonForVisit"`
}

type VerifyPaymentRequest struct {
	AppointmentID     string `json:"appointmentId" validate:"required,uuid"`
	RazorpayOrderID   string `json:"razorpayOrderId" validate:"required"`
	RazorpayPaymentID string `json:"razorpayPaymentId" validate:"required"`
	RazorpaySignature string `json:"razorpaySignature"`
}

// WebhookRequest mirrors the Razorpay webhook envelope; only the fields the
// booking flow consumes are declared.
type WebhookRequest struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				OrderID   string `json:"order_id"`
				PaymentID string `json:"payment_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patientId"`
	DoctorID        uuid.UUID `json:"doctorId"`
	Date            string    `json:"date"`
	StartTime       string    `json:"startTime"`
	EndTime         string    `json:"endTime"`
	VisitType       string    `json:"visitType"`
	ReasonForVisit  string    `json:"reasonForVisit,omitempty"`
	Status          string    `json:"status"`
	PaymentStatus   string    `json:"paymentStatus"`
	ConsultationFee int64     `json:"consultationFee"`
	OrderID         string    `json:"razorpayOrderId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Date:            a.Date.Format("2006-01-02"),
		StartTime:       a.Start.String(),
		EndTime:         a.End.String(),
		VisitType:       string(a.VisitType),
		ReasonForVisit:  a.ReasonForVisit,
		Status:          string(a.Status),
		PaymentStatus:   string(a.PaymentStatus),
		ConsultationFee: a.ConsultationFee,
		OrderID:         a.OrderID,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type OrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	IsMock   bool   `json:"isMock,omitempty"`
}

type CreateAppointmentResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Order       OrderResponse       `json:"order"`
}

type SlotsResponse struct {
	Slots []availability.Slot `json:"slots"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
