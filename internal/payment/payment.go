// Package payment arbitrates between the payment capture methods a kiosk can
// reach: a local HTTP terminal, a remote (TEF) terminal, a USB pinpad bridge,
// and push-payment QR charges served through the local terminal. The
// arbitrator probes them, picks by fixed priority, and routes each charge.
package payment

import (
	"errors"
	"fmt"
)

// Method identifies one way of capturing a payment.
type Method string

const (
	MethodTerminalLocal  Method = "terminal-local"
	MethodTerminalRemote Method = "terminal-remote"
	MethodUSBPinpad      Method = "usb-pinpad"
	MethodPushQR         Method = "push-qr"
)

// Payment types accepted in a Request.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
	TypePix    = "pix"
)

// Request describes one charge. Amounts are integer cents.
type Request struct {
	AmountCents  int    `json:"amount_cents"`
	Type         string `json:"paymentType"`
	OrderID      string `json:"orderId"`
	Installments int    `json:"installments"`
}

// Result is the outcome of a captured (or generated) charge.
type Result struct {
	Success           bool       `json:"success"`
	Method            Method     `json:"method"`
	TransactionID     string     `json:"transactionId,omitempty"`
	AuthorizationCode string     `json:"authorizationCode,omitempty"`
	NSU               string     `json:"nsu,omitempty"`
	ResultMessage     string     `json:"resultMessage,omitempty"`
	Pix               *PixCharge `json:"pix,omitempty"`
}

// MethodStatus is one backend's availability snapshot.
type MethodStatus struct {
	Method         Method `json:"method"`
	Available      bool   `json:"available"`
	ResponseTimeMs int64  `json:"responseTime"`
	Error          string `json:"error,omitempty"`
}

// PixCharge is a generated push-payment charge awaiting confirmation.
type PixCharge struct {
	OrderID      string `json:"orderId"`
	QRCode       string `json:"qrCode"`
	QRCodeBase64 string `json:"qrCodeBase64,omitempty"`
	PixKey       string `json:"pixKey,omitempty"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Pix charge states as reported by the terminal.
const (
	PixPending   = "pending"
	PixPaid      = "paid"
	PixExpired   = "expired"
	PixCancelled = "cancelled"
)

// PixStatus is the current state of a push-payment charge.
type PixStatus struct {
	OrderID       string `json:"orderId"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
}

var (
	ErrInvalidAmount     = errors.New("payment amount must be greater than zero")
	ErrNoMethodAvailable = errors.New("no payment method available")
	ErrMethodUnreachable = errors.New("selected payment method is unreachable")
	ErrPaymentTimeout    = errors.New("payment confirmation window elapsed")
	ErrPaymentExpired    = errors.New("payment charge expired")
	ErrPaymentCancelled  = errors.New("payment charge was cancelled")
)

// DeniedError carries the backend's decline code and message. A decline is a
// definitive answer, distinct from not being able to reach the backend.
type DeniedError struct {
	Code    string
	Message string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("payment denied (%s): %s", e.Code, e.Message)
}
