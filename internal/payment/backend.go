package payment

import "context"

// Backend is one payment capture method. Probe answers quickly whether the
// backend can take a charge right now; Pay performs a synchronous capture.
type Backend interface {
	Method() Method
	Probe(ctx context.Context) error
	Pay(ctx context.Context, req Request) (*Result, error)
}

// PixBackend generates and tracks push-payment charges. Confirmation is
// asynchronous: the charge is paid out-of-band and observed through polling.
type PixBackend interface {
	GenerateQR(ctx context.Context, req Request) (*PixCharge, error)
	PollStatus(ctx context.Context, orderID string) (*PixStatus, error)
	Cancel(ctx context.Context, orderID string) error
}
