package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PinpadBridge abstracts a USB pinpad driver. The production driver lives
// outside this module; SimulatedBridge stands in for development and tests.
type PinpadBridge interface {
	Detect(ctx context.Context) error
	Charge(ctx context.Context, req Request) (*Result, error)
}

// PinpadBackend adapts a PinpadBridge to the Backend interface.
type PinpadBackend struct {
	bridge PinpadBridge
}

// NewPinpadBackend wraps a bridge as a payment backend.
func NewPinpadBackend(bridge PinpadBridge) *PinpadBackend {
	return &PinpadBackend{bridge: bridge}
}

func (p *PinpadBackend) Method() Method { return MethodUSBPinpad }

func (p *PinpadBackend) Probe(ctx context.Context) error {
	return p.bridge.Detect(ctx)
}

func (p *PinpadBackend) Pay(ctx context.Context, req Request) (*Result, error) {
	result, err := p.bridge.Charge(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Method = MethodUSBPinpad
	return result, nil
}

// SimulatedBridge is an in-process pinpad that approves every charge when
// Present is true and reports absence otherwise.
type SimulatedBridge struct {
	Present bool
}

func (s *SimulatedBridge) Detect(ctx context.Context) error {
	if !s.Present {
		return fmt.Errorf("no pinpad detected on USB bus")
	}
	return nil
}

func (s *SimulatedBridge) Charge(ctx context.Context, req Request) (*Result, error) {
	if !s.Present {
		return nil, fmt.Errorf("%w: pinpad disconnected", ErrMethodUnreachable)
	}
	return &Result{
		Success:       true,
		TransactionID: uuid.NewString(),
		ResultMessage: "approved by simulated pinpad",
	}, nil
}
