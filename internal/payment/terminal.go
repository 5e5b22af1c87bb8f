package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"laundry-orchestrator/config"
)

// TerminalBackend talks to an HTTP-attached payment terminal (local PayGO
// automation or a remote TEF gateway — same wire contract, different address).
type TerminalBackend struct {
	method        Method
	baseURL       string
	automationKey string
	client        *http.Client
}

// NewTerminalBackend creates a backend for one terminal endpoint.
func NewTerminalBackend(method Method, cfg *config.TerminalConfig) *TerminalBackend {
	return &TerminalBackend{
		method:        method,
		baseURL:       fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		automationKey: cfg.AutomationKey,
		client:        &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *TerminalBackend) Method() Method { return t.method }

// Probe checks the terminal's status endpoint. Any error means the terminal
// cannot take a charge right now.
func (t *TerminalBackend) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/status", nil)
	if err != nil {
		return err
	}
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("terminal answered %d", resp.StatusCode)
	}
	return nil
}

// transactionBody is the capture request the terminal expects.
type transactionBody struct {
	AmountCents  int    `json:"amount_cents"`
	Installments int    `json:"installments"`
	PaymentType  string `json:"paymentType"`
	OrderID      string `json:"orderId"`
}

// transactionReply is the terminal's capture answer.
type transactionReply struct {
	Success           bool   `json:"success"`
	ResultCode        string `json:"resultCode"`
	ResultMessage     string `json:"resultMessage"`
	TransactionID     string `json:"transactionId"`
	AuthorizationCode string `json:"authorizationCode"`
	NSU               string `json:"nsu"`
}

// Pay captures a charge synchronously. A transport failure is
// ErrMethodUnreachable; an explicit decline becomes a DeniedError.
func (t *TerminalBackend) Pay(ctx context.Context, req Request) (*Result, error) {
	installments := req.Installments
	if installments <= 0 {
		installments = 1
	}
	body, err := json.Marshal(transactionBody{
		AmountCents:  req.AmountCents,
		Installments: installments,
		PaymentType:  req.Type,
		OrderID:      req.OrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/transaction", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction request: %w", err)
	}
	t.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMethodUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: terminal answered %d", ErrMethodUnreachable, resp.StatusCode)
	}

	var reply transactionReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode transaction reply: %w", err)
	}
	if !reply.Success {
		return nil, &DeniedError{Code: reply.ResultCode, Message: reply.ResultMessage}
	}

	return &Result{
		Success:           true,
		Method:            t.method,
		TransactionID:     reply.TransactionID,
		AuthorizationCode: reply.AuthorizationCode,
		NSU:               reply.NSU,
		ResultMessage:     reply.ResultMessage,
	}, nil
}

func (t *TerminalBackend) setHeaders(req *http.Request) {
	if t.automationKey != "" {
		req.Header.Set("X-Automation-Key", t.automationKey)
	}
}
