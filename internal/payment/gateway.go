// Package payment wraps the Razorpay order/verification flow behind a small
// Gateway interface so the booking service can be wired with either the live
// client or a mock without knowing which it got.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Order is a gateway payment-intent reference correlating a checkout attempt
// with an appointment. Amounts are in paise.
type Order struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	IsMock   bool
}

// Gateway creates payment orders and verifies gateway-signed confirmations.
type Gateway interface {
	CreateOrder(ctx context.Context, amount int64, appointmentID uuid.UUID) (*Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// IsMockOrderID reports whether an order id was issued by the degraded/mock
// path rather than the live gateway.
func IsMockOrderID(orderID string) bool {
	return strings.Contains(orderID, "mock")
}

func hmacHex(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// signPayload computes the hex HMAC-SHA256 Razorpay expects over
// "<orderID>|<paymentID>".
func signPayload(secret, orderID, paymentID string) string {
	return hmacHex(secret, []byte(orderID+"|"+paymentID))
}

func signatureMatches(secret, orderID, paymentID, signature string) bool {
	expected := signPayload(secret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header: a hex
// HMAC-SHA256 of the raw request body under the webhook secret.
func VerifyWebhookSignature(body []byte, signature, secret string) bool {
	expected := hmacHex(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// receiptFor builds the order receipt: Razorpay caps receipts at 40 chars,
// so only the tails of the appointment id and timestamp are used.
func receiptFor(appointmentID uuid.UUID, unixMilli int64) string {
	id := appointmentID.String()
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	ts := strconv.FormatInt(unixMilli, 10)
	if len(ts) > 8 {
		ts = ts[len(ts)-8:]
	}
	r := "APT_" + id + ts
	if len(r) > 40 {
		r = r[:40]
	}
	return r
}
