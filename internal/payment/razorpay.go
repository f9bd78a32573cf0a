package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	razorpay "github.com/razorpay/razorpay-go"
	"github.com/rs/zerolog"
)

// RazorpayGateway talks to the live Razorpay API. When the gateway call
// fails it degrades to a mock order instead of aborting the booking; the
// mock order is flagged and logged so degraded acceptance is never silently
// mistaken for real payment success.
type RazorpayGateway struct {
	client    *razorpay.Client
	keySecret string
	allowMock bool
	logger    zerolog.Logger
	now       func() time.Time
}

func NewRazorpayGateway(keyID, keySecret string, allowMock bool, logger zerolog.Logger) *RazorpayGateway {
	return &RazorpayGateway{
		client:    razorpay.NewClient(keyID, keySecret),
		keySecret: keySecret,
		allowMock: allowMock,
		logger:    logger,
		now:       time.Now,
	}
}

func (g *RazorpayGateway) CreateOrder(ctx context.Context, amount int64, appointmentID uuid.UUID) (*Order, error) {
	_ = ctx // the razorpay SDK does not take a context

	receipt := receiptFor(appointmentID, g.now().UnixMilli())

	data := map[string]interface{}{
		"amount":          amount,
		"currency":        "INR",
		"receipt":         receipt,
		"payment_capture": 1,
	}

	body, err := g.client.Order.Create(data, nil)
	if err != nil {
		if !g.allowMock {
			return nil, fmt.Errorf("razorpay order create: %w", err)
		}
		g.logger.Warn().Err(err).
			Str("appointment_id", appointmentID.String()).
			Msg("razorpay order creation failed, falling back to mock order")
		return g.mockOrder(amount, receipt), nil
	}

	id, _ := body["id"].(string)
	if id == "" {
		if !g.allowMock {
			return nil, fmt.Errorf("razorpay order create: response missing order id")
		}
		g.logger.Warn().
			Str("appointment_id", appointmentID.String()).
			Msg("razorpay order response missing id, falling back to mock order")
		return g.mockOrder(amount, receipt), nil
	}

	currency, _ := body["currency"].(string)
	if currency == "" {
		currency = "INR"
	}

	return &Order{
		ID:       id,
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

func (g *RazorpayGateway) mockOrder(amount int64, receipt string) *Order {
	return &Order{
		ID:       fmt.Sprintf("order_mock_%d", g.now().UnixMilli()),
		Amount:   amount,
		Currency: "INR",
		Receipt:  receipt,
		IsMock:   true,
	}
}

// VerifySignature recomputes the HMAC-SHA256 over "orderID|paymentID" with
// the key secret and compares in constant time. Mock order ids and a missing
// secret are trivially valid only when mock fallback is allowed.
func (g *RazorpayGateway) VerifySignature(orderID, paymentID, signature string) bool {
	if IsMockOrderID(orderID) {
		if g.allowMock {
			g.logger.Warn().Str("order_id", orderID).Msg("accepting mock order signature")
			return true
		}
		return false
	}

	if g.keySecret == "" {
		if g.allowMock {
			g.logger.Warn().Msg("no razorpay secret configured, skipping signature verification")
			return true
		}
		return false
	}

	return signatureMatches(g.keySecret, orderID, paymentID, signature)
}
