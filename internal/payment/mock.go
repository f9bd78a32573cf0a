package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MockGateway issues deterministic mock orders and accepts every signature.
// It exists so the booking flow and slot engine can run without Razorpay
// credentials; it must never be selected in a production environment.
type MockGateway struct {
	logger zerolog.Logger
	now    func() time.Time
}

func NewMockGateway(logger zerolog.Logger) *MockGateway {
	return &MockGateway{logger: logger, now: time.Now}
}

func (g *MockGateway) CreateOrder(ctx context.Context, amount int64, appointmentID uuid.UUID) (*Order, error) {
	_ = ctx
	ts := g.now().UnixMilli()
	order := &Order{
		ID:       fmt.Sprintf("order_mock_%d", ts),
		Amount:   amount,
		Currency: "INR",
		Receipt:  receiptFor(appointmentID, ts),
		IsMock:   true,
	}
	g.logger.Warn().
		Str("order_id", order.ID).
		Str("appointment_id", appointmentID.String()).
		Msg("issued mock payment order")
	return order, nil
}

// VerifySignature on the mock gateway always passes. Degraded-mode
// affordance for local development, not a production posture.
func (g *MockGateway) VerifySignature(orderID, paymentID, signature string) bool {
	g.logger.Warn().Str("order_id", orderID).Msg("mock signature verification accepted")
	return true
}
