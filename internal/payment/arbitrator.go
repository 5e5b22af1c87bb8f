package payment

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// methodPriority is the fixed selection order for card payments. Push-QR is
// deliberately absent: a QR charge changes the customer interaction, so it is
// only ever used when the caller asks for pix explicitly.
var methodPriority = []Method{MethodTerminalLocal, MethodTerminalRemote, MethodUSBPinpad}

// Arbitrator probes the configured backends and routes each charge to one.
type Arbitrator struct {
	backends     []Backend
	pix          PixBackend
	pollInterval time.Duration
	window       time.Duration
}

// NewArbitrator creates an Arbitrator. backends are the card-capable methods;
// pix handles push-payment charges. pollInterval and window bound the pix
// confirmation loop.
func NewArbitrator(backends []Backend, pix PixBackend, pollInterval, window time.Duration) *Arbitrator {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Arbitrator{
		backends:     backends,
		pix:          pix,
		pollInterval: pollInterval,
		window:       window,
	}
}

// TestAllMethods probes every backend concurrently. It never fails as a
// whole: an unreachable backend is simply reported unavailable.
func (a *Arbitrator) TestAllMethods(ctx context.Context) []MethodStatus {
	statuses := make([]MethodStatus, len(a.backends))
	var wg sync.WaitGroup
	for i, backend := range a.backends {
		wg.Add(1)
		go func(i int, backend Backend) {
			defer wg.Done()
			start := time.Now()
			err := backend.Probe(ctx)
			statuses[i] = MethodStatus{
				Method:         backend.Method(),
				Available:      err == nil,
				ResponseTimeMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				statuses[i].Error = err.Error()
			}
		}(i, backend)
	}
	wg.Wait()
	return statuses
}

// BestAvailableMethod picks the highest-priority available method from a
// probe snapshot. Deterministic: equal snapshots always give the same answer.
func (a *Arbitrator) BestAvailableMethod(statuses []MethodStatus) (Method, error) {
	available := make(map[Method]bool, len(statuses))
	for _, st := range statuses {
		if st.Available {
			available[st.Method] = true
		}
	}
	for _, m := range methodPriority {
		if available[m] {
			return m, nil
		}
	}
	return "", ErrNoMethodAvailable
}

// ProcessPayment routes one charge. Pix requests always go to the pix backend
// and return the generated charge without waiting for confirmation — callers
// follow up with AwaitConfirmation. Card requests go to the preferred method
// when it is available, otherwise to the best available one.
func (a *Arbitrator) ProcessPayment(ctx context.Context, req Request, preferred Method) (*Result, error) {
	if req.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}

	if req.Type == TypePix {
		charge, err := a.pix.GenerateQR(ctx, req)
		if err != nil {
			return nil, err
		}
		log.Printf("Generated pix charge for order %s (%d cents)", req.OrderID, req.AmountCents)
		return &Result{Method: MethodPushQR, Pix: charge}, nil
	}

	backend, err := a.selectBackend(ctx, preferred)
	if err != nil {
		return nil, err
	}
	result, err := backend.Pay(ctx, req)
	if err != nil {
		return nil, err
	}
	log.Printf("Captured order %s via %s", req.OrderID, backend.Method())
	return result, nil
}

func (a *Arbitrator) selectBackend(ctx context.Context, preferred Method) (Backend, error) {
	statuses := a.TestAllMethods(ctx)

	chosen := preferred
	if chosen == "" || !methodAvailable(statuses, chosen) {
		best, err := a.BestAvailableMethod(statuses)
		if err != nil {
			return nil, err
		}
		chosen = best
	}
	for _, backend := range a.backends {
		if backend.Method() == chosen {
			return backend, nil
		}
	}
	return nil, ErrNoMethodAvailable
}

func methodAvailable(statuses []MethodStatus, m Method) bool {
	for _, st := range statuses {
		if st.Method == m {
			return st.Available
		}
	}
	return false
}

// AwaitConfirmation polls a pix charge until it settles or the confirmation
// window closes. The caller's ctx cancels the loop immediately; a transient
// poll failure is logged and retried on the next tick rather than aborting
// the whole wait.
func (a *Arbitrator) AwaitConfirmation(ctx context.Context, orderID string) (*Result, error) {
	deadline := time.Now().Add(a.window)
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		status, err := a.pix.PollStatus(ctx, orderID)
		if err != nil {
			log.Printf("Pix status poll for order %s failed: %v", orderID, err)
		} else {
			switch status.Status {
			case PixPaid:
				return &Result{
					Success:       true,
					Method:        MethodPushQR,
					TransactionID: status.TransactionID,
				}, nil
			case PixExpired:
				return nil, ErrPaymentExpired
			case PixCancelled:
				return nil, ErrPaymentCancelled
			case PixPending:
				// keep polling
			default:
				return nil, fmt.Errorf("unexpected pix status %q for order %s", status.Status, orderID)
			}
		}

		if time.Now().After(deadline) {
			return nil, ErrPaymentTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CancelCharge voids a pending pix charge.
func (a *Arbitrator) CancelCharge(ctx context.Context, orderID string) error {
	return a.pix.Cancel(ctx, orderID)
}

// ChargeStatus reports the current state of a pix charge.
func (a *Arbitrator) ChargeStatus(ctx context.Context, orderID string) (*PixStatus, error) {
	return a.pix.PollStatus(ctx, orderID)
}
